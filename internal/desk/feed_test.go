package desk_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"opsdesk/internal/desk"
	"opsdesk/internal/testutil"
)

// stubList serves whatever records or error the test last set.
type stubList struct {
	mu      sync.Mutex
	records []desk.Record
	err     error
}

func (s *stubList) set(records []desk.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records, s.err = records, err
}

func (s *stubList) list(ctx context.Context) ([]desk.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]desk.Record(nil), s.records...), s.err
}

func newStartedFeed(t *testing.T, initial ...desk.Record) (*desk.Feed, *stubList, *testutil.StubClock) {
	t.Helper()
	src := &stubList{records: initial}
	clock := testutil.FixedClock()
	// The cadence is long enough that Advance never ticks; polls run via Refresh.
	f := desk.NewFeed("sms", src.list, time.Hour, 30*time.Second, clock, testutil.NewStubIDGenerator(), desk.NewNopLogger())
	f.Start(context.Background())
	t.Cleanup(f.Stop)
	f.Wait()
	return f, src, clock
}

func TestFeed_InitialPoll(t *testing.T) {
	f, _, _ := newStartedFeed(t, hi)

	st := f.State()
	if st.Loading {
		t.Error("Loading = true after first poll")
	}
	if got := ids(st.Records); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("Records = %v, want [1]", got)
	}
	if len(st.Threads) != 1 || !st.Threads[0].Unread {
		t.Errorf("Threads = %+v, want one unread thread", st.Threads)
	}
}

func TestFeed_SendSucceeds(t *testing.T) {
	f, src, _ := newStartedFeed(t, hi)

	rec, err := f.Send(context.Background(), desk.Record{Counterparty: "+1555", Body: "yo"},
		func(ctx context.Context, provisional desk.Record) (desk.Record, error) {
			st := f.State()
			if st.Pending != 1 || len(st.Records) != 2 {
				t.Errorf("in flight: Pending = %d, Records = %v", st.Pending, ids(st.Records))
			}
			if provisional.ID != "temp-id-1" {
				t.Errorf("provisional.ID = %q, want temp-id-1", provisional.ID)
			}
			return desk.Record{ID: "2"}, nil
		})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rec.ID != "2" {
		t.Errorf("Send() id = %q, want 2", rec.ID)
	}

	st := f.State()
	if got := ids(st.Records); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("Records = %v, want [1 2]", got)
	}
	if st.Threads[0].LastMessage != "yo" {
		t.Errorf("LastMessage = %q, want yo", st.Threads[0].LastMessage)
	}

	server := rec
	src.set([]desk.Record{hi, server}, nil)
	f.Refresh()
	f.Wait()
	got := f.State().Records
	if !reflect.DeepEqual(ids(got), []string{"1", "2"}) {
		t.Errorf("Records after poll = %v, want [1 2]", ids(got))
	}
	assertNoDuplicateContent(t, got)
}

func TestFeed_SendFails(t *testing.T) {
	f, _, _ := newStartedFeed(t, hi)
	before := f.State().Records

	boom := &desk.RequestError{Kind: desk.ServerFailure, Status: 500, Message: "boom"}
	_, err := f.Send(context.Background(), desk.Record{Counterparty: "+1555", Body: "yo"},
		func(ctx context.Context, provisional desk.Record) (desk.Record, error) {
			return desk.Record{}, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want %v", err, boom)
	}
	st := f.State()
	if !reflect.DeepEqual(st.Records, before) {
		t.Errorf("Records = %v, want %v", ids(st.Records), ids(before))
	}
	if st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}

func TestFeed_Sweep(t *testing.T) {
	f, _, clock := newStartedFeed(t, hi)

	_, err := f.Send(context.Background(), desk.Record{Counterparty: "+1555", Body: "yo"},
		func(ctx context.Context, provisional desk.Record) (desk.Record, error) {
			if n := len(f.Sweep()); n != 0 {
				t.Errorf("Sweep() before timeout = %d", n)
			}
			clock.Advance(31 * time.Second)
			if n := len(f.Sweep()); n != 1 {
				t.Errorf("Sweep() after timeout = %d, want 1", n)
			}
			<-ctx.Done()
			return desk.Record{}, ctx.Err()
		})
	if !errors.Is(err, desk.ErrMutationTimeout) {
		t.Fatalf("Send() error = %v, want ErrMutationTimeout", err)
	}
	if got := ids(f.State().Records); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("Records = %v, want [1]", got)
	}
}

func TestFeed_PollErrorKeepsRecords(t *testing.T) {
	f, src, _ := newStartedFeed(t, hi)

	src.set(nil, &desk.RequestError{Kind: desk.NetworkFailure, Message: "backend unreachable"})
	f.Refresh()
	f.Wait()

	st := f.State()
	if desk.KindOf(st.Err) != desk.NetworkFailure {
		t.Errorf("Err = %v, want network failure", st.Err)
	}
	if got := ids(st.Records); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("Records = %v, want [1] kept", got)
	}
}

func TestFeed_Update(t *testing.T) {
	appt := desk.Record{ID: "5", Counterparty: "+1777", Status: "pending", CreatedAt: hi.CreatedAt}
	f, _, _ := newStartedFeed(t, appt)

	changed := appt
	changed.Status = "confirmed"
	_, err := f.Update(context.Background(), changed, func(ctx context.Context, updated desk.Record) (desk.Record, error) {
		if r, _ := f.Find("5"); r.Status != "confirmed" {
			t.Errorf("Find() during update = %+v, want optimistic status", r)
		}
		if _, err := f.Update(ctx, updated, nil); !errors.Is(err, desk.ErrMutationInFlight) {
			t.Errorf("nested Update() error = %v, want ErrMutationInFlight", err)
		}
		return desk.Record{}, errors.New("conflict")
	})
	if err == nil {
		t.Fatal("Update() expected error")
	}
	if r, ok := f.Find("5"); !ok || r.Status != "pending" {
		t.Errorf("Find() after rollback = %+v, %v", r, ok)
	}
}

func TestFeed_MarkThreadRead(t *testing.T) {
	f, _, _ := newStartedFeed(t, hi)

	var changes []desk.FeedState
	f.OnChange(func(st desk.FeedState) { changes = append(changes, st) })

	f.MarkThreadRead("+1555")
	if len(changes) != 1 {
		t.Fatalf("OnChange calls = %d, want 1", len(changes))
	}
	if changes[0].Threads[0].Unread {
		t.Error("thread still unread after MarkThreadRead")
	}
	if f.Threads()[0].Unread {
		t.Error("Threads() still unread after MarkThreadRead")
	}
}
