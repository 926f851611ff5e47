package database

import (
	"context"
	"testing"
	"time"

	"opsdesk/internal/testutil"
)

// newTestStore creates an in-memory store with the schema migrated.
func newTestStore(t *testing.T) (*SQLiteStore, *testutil.StubClock) {
	t.Helper()

	clock := testutil.FixedClock()
	s, err := NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s, clock
}

func TestSQLiteStore_Get(t *testing.T) {
	t.Run("returns absent for missing key", func(t *testing.T) {
		s, _ := newTestStore(t)

		v, ok, err := s.Get(context.Background(), "auth_token")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok || v != "" {
			t.Errorf("Get() = %q, %v; want \"\", false", v, ok)
		}
	})

	t.Run("returns stored value", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()

		if err := s.Set(ctx, "auth_token", "abc"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		v, ok, err := s.Get(ctx, "auth_token")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok || v != "abc" {
			t.Errorf("Get() = %q, %v; want %q, true", v, ok, "abc")
		}
	})
}

func TestSQLiteStore_SetOverwrites(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "payment_complete", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	first, _, err := s.UpdatedAt(ctx, "payment_complete")
	if err != nil {
		t.Fatalf("UpdatedAt() error = %v", err)
	}

	clock.Advance(time.Minute)
	if err := s.Set(ctx, "payment_complete", "false"); err != nil {
		t.Fatalf("second Set() error = %v", err)
	}

	v, _, _ := s.Get(ctx, "payment_complete")
	if v != "false" {
		t.Errorf("Get() = %q, want %q", v, "false")
	}
	second, ok, err := s.UpdatedAt(ctx, "payment_complete")
	if err != nil || !ok {
		t.Fatalf("UpdatedAt() = %v, %v", ok, err)
	}
	if got := second.Sub(first); got != time.Minute {
		t.Errorf("updated_at moved by %v, want %v", got, time.Minute)
	}

	var rows int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM session_kv").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("session_kv has %d rows, want 1", rows)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "auth_token", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "auth_token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "auth_token"); ok {
		t.Error("Get() after Delete() reported key present")
	}

	// Deleting an absent key is not an error.
	if err := s.Delete(ctx, "auth_token"); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}

func TestSQLiteStore_UpdatedAtMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.UpdatedAt(context.Background(), "nope")
	if err != nil {
		t.Fatalf("UpdatedAt() error = %v", err)
	}
	if ok {
		t.Error("UpdatedAt() reported missing key present")
	}
}
