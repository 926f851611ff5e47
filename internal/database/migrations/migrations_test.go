package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	st, err := Up(db)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if st.Current != st.Latest || st.Latest == 0 || st.Dirty {
		t.Errorf("Up() status = %+v", st)
	}

	tables := []string{"session_kv", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestReadStatus(t *testing.T) {
	t.Run("fresh database has no version", func(t *testing.T) {
		db := openTestDB(t)

		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if st.Current != 0 {
			t.Errorf("Current = %d, want 0", st.Current)
		}
		if err := st.Err(); err == nil || !strings.Contains(err.Error(), "no schema version") {
			t.Errorf("Err() = %v, want no schema version", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if _, err := Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}

		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if err := st.Err(); err != nil {
			t.Errorf("Err() = %v, want nil", err)
		}
	})
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if _, err := Up(db); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}
	if _, err := Up(db); err != nil {
		t.Errorf("second Up() error = %v", err)
	}
}

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		name    string
		st      Status
		wantErr string
	}{
		{name: "current", st: Status{Current: 1, Latest: 1}},
		{name: "never migrated", st: Status{Latest: 1}, wantErr: "no schema version"},
		{name: "behind", st: Status{Current: 1, Latest: 3}, wantErr: "latest is 3"},
		{name: "ahead", st: Status{Current: 4, Latest: 3}, wantErr: "newer than this binary"},
		{name: "dirty", st: Status{Current: 1, Latest: 1, Dirty: true}, wantErr: "dirty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.st.Err()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Err() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Err() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_SessionKeyUnique(t *testing.T) {
	db := openTestDB(t)
	if _, err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	_, err := db.Exec("INSERT INTO session_kv (key, value, updated_at) VALUES ('auth_token', 'a', datetime('now'))")
	if err != nil {
		t.Fatalf("Failed to insert first row: %v", err)
	}

	_, err = db.Exec("INSERT INTO session_kv (key, value, updated_at) VALUES ('auth_token', 'b', datetime('now'))")
	if err == nil {
		t.Error("Expected primary key violation for duplicate key, but insert succeeded")
	}
}

func TestSchema_SessionValueRequired(t *testing.T) {
	db := openTestDB(t)
	if _, err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	_, err := db.Exec("INSERT INTO session_kv (key, value, updated_at) VALUES ('auth_token', NULL, datetime('now'))")
	if err == nil {
		t.Error("Expected NOT NULL violation for missing value, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database closed at test end.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
