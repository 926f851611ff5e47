package desk_test

import (
	"reflect"
	"testing"
	"time"

	"opsdesk/internal/desk"
)

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func TestGroupThreads(t *testing.T) {
	records := []desk.Record{
		{ID: "1", Counterparty: "+1555", Direction: desk.Incoming, Body: "hi", CreatedAt: at(0)},
		{ID: "2", Counterparty: "+1666", Direction: desk.Incoming, Body: "hours?", CreatedAt: at(5)},
		{ID: "3", Counterparty: "+1555", Direction: desk.Outgoing, Body: "hello", CreatedAt: at(1)},
		{ID: "4", Counterparty: "+1555", Direction: desk.Incoming, Body: "price?", CreatedAt: at(10), AIResponse: "It is $40"},
	}

	threads := desk.GroupThreads(records, nil)
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(threads))
	}

	first := threads[0]
	if first.Counterparty != "+1555" {
		t.Errorf("threads[0].Counterparty = %q, want most recently active %q", first.Counterparty, "+1555")
	}
	if first.LastMessage != "price?" || !first.Timestamp.Equal(at(10)) {
		t.Errorf("threads[0] summary = %q at %v", first.LastMessage, first.Timestamp)
	}
	var ids []string
	for _, r := range first.Records {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"1", "3", "4"}) {
		t.Errorf("threads[0] record order = %v, want [1 3 4]", ids)
	}
	if !first.Unread {
		t.Error("threads[0].Unread = false; record 1 is incoming without an AI response")
	}

	if threads[1].Counterparty != "+1666" || !threads[1].Unread {
		t.Errorf("threads[1] = %+v", threads[1])
	}
}

func TestGroupThreads_Unread(t *testing.T) {
	tests := []struct {
		name    string
		records []desk.Record
		marks   desk.ReadMarks
		want    bool
	}{
		{
			name:    "incoming without response",
			records: []desk.Record{{ID: "1", Counterparty: "a", Direction: desk.Incoming}},
			want:    true,
		},
		{
			name:    "incoming answered by AI",
			records: []desk.Record{{ID: "1", Counterparty: "a", Direction: desk.Incoming, AIResponse: "ok"}},
			want:    false,
		},
		{
			name:    "outgoing only",
			records: []desk.Record{{ID: "1", Counterparty: "a", Direction: desk.Outgoing}},
			want:    false,
		},
		{
			name:    "backend read flag",
			records: []desk.Record{{ID: "1", Counterparty: "a", Direction: desk.Incoming, Read: true}},
			want:    false,
		},
		{
			name:    "explicit mark",
			records: []desk.Record{{ID: "1", Counterparty: "a", Direction: desk.Incoming}},
			marks:   desk.ReadMarks{"1": {}},
			want:    false,
		},
		{
			name: "mark covers only one record",
			records: []desk.Record{
				{ID: "1", Counterparty: "a", Direction: desk.Incoming},
				{ID: "2", Counterparty: "a", Direction: desk.Incoming, CreatedAt: at(1)},
			},
			marks: desk.ReadMarks{"1": {}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads := desk.GroupThreads(tt.records, tt.marks)
			if len(threads) != 1 {
				t.Fatalf("got %d threads, want 1", len(threads))
			}
			if threads[0].Unread != tt.want {
				t.Errorf("Unread = %v, want %v", threads[0].Unread, tt.want)
			}
		})
	}
}

func TestGroupThreads_TieBreaks(t *testing.T) {
	records := []desk.Record{
		{ID: "b", Counterparty: "+2", Body: "x", CreatedAt: at(0)},
		{ID: "a", Counterparty: "+2", Body: "y", CreatedAt: at(0)},
		{ID: "c", Counterparty: "+1", Body: "z", CreatedAt: at(0)},
	}
	threads := desk.GroupThreads(records, nil)

	if threads[0].Counterparty != "+1" || threads[1].Counterparty != "+2" {
		t.Errorf("thread order = %q, %q; want +1, +2", threads[0].Counterparty, threads[1].Counterparty)
	}
	if threads[1].Records[0].ID != "a" || threads[1].LastMessage != "x" {
		t.Errorf("equal timestamps must order by id: %+v", threads[1].Records)
	}
}

func TestGroupThreads_UnknownCounterparty(t *testing.T) {
	threads := desk.GroupThreads([]desk.Record{{ID: "1", Body: "anon"}}, nil)
	if len(threads) != 1 || threads[0].Counterparty != desk.UnknownCounterparty {
		t.Errorf("threads = %+v, want one %q thread", threads, desk.UnknownCounterparty)
	}
}

func TestGroupThreads_Empty(t *testing.T) {
	if threads := desk.GroupThreads(nil, nil); len(threads) != 0 {
		t.Errorf("GroupThreads(nil) = %+v, want none", threads)
	}
}

func TestGroupThreads_IdempotentAndOrderIndependent(t *testing.T) {
	records := []desk.Record{
		{ID: "1", Counterparty: "+1555", Direction: desk.Incoming, Body: "hi", CreatedAt: at(0)},
		{ID: "2", Counterparty: "+1666", Direction: desk.Outgoing, Body: "hey", CreatedAt: at(3)},
		{ID: "3", Counterparty: "+1555", Direction: desk.Outgoing, Body: "yo", CreatedAt: at(3)},
		{ID: "4", Counterparty: "", Direction: desk.Incoming, Body: "?", CreatedAt: at(2)},
		{ID: "5", Counterparty: "+1777", Direction: desk.Incoming, Body: "bye", CreatedAt: at(1), Read: true},
	}
	original := append([]desk.Record(nil), records...)
	marks := desk.ReadMarks{"4": {}}

	want := desk.GroupThreads(records, marks)
	for i := 0; i < 5; i++ {
		if got := desk.GroupThreads(records, marks); !reflect.DeepEqual(got, want) {
			t.Fatalf("call %d differs:\n got %+v\nwant %+v", i+2, got, want)
		}
	}
	if !reflect.DeepEqual(records, original) {
		t.Error("GroupThreads modified its input")
	}

	reversed := make([]desk.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	if got := desk.GroupThreads(reversed, marks); !reflect.DeepEqual(got, want) {
		t.Errorf("input order changed the result:\n got %+v\nwant %+v", got, want)
	}
}
