package desk_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"opsdesk/internal/desk"
	"opsdesk/internal/testutil"
)

type fetchResult[T any] struct {
	v   T
	err error
}

// controlledFetch blocks every fetch until the test replies to it. Calls
// are numbered from 1 in the order they reach fetch.
type controlledFetch[T any] struct {
	mu      sync.Mutex
	calls   []chan fetchResult[T]
	started chan int
}

func newControlledFetch[T any]() *controlledFetch[T] {
	return &controlledFetch[T]{started: make(chan int, 64)}
}

func (f *controlledFetch[T]) fetch(ctx context.Context) (T, error) {
	ch := make(chan fetchResult[T], 1)
	f.mu.Lock()
	f.calls = append(f.calls, ch)
	n := len(f.calls)
	f.mu.Unlock()
	f.started <- n

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// waitStarted blocks until the next fetch call begins and returns its number.
func (f *controlledFetch[T]) waitStarted(t *testing.T) int {
	t.Helper()
	select {
	case n := <-f.started:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch to start")
		return 0
	}
}

func (f *controlledFetch[T]) reply(n int, v T, err error) {
	f.mu.Lock()
	ch := f.calls[n-1]
	f.mu.Unlock()
	ch <- fetchResult[T]{v: v, err: err}
}

// updates collects applied states from a poller.
func updates[T any](p *desk.Poller[T]) <-chan desk.PollState[T] {
	ch := make(chan desk.PollState[T], 64)
	p.OnUpdate(func(st desk.PollState[T]) { ch <- st })
	return ch
}

func nextUpdate[T any](t *testing.T, ch <-chan desk.PollState[T]) desk.PollState[T] {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a poll update")
		return desk.PollState[T]{}
	}
}

func TestPoller_InitialFetchAndLoading(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[string]()
	p := desk.NewPoller(f.fetch, 3*time.Second, clock, desk.NewNopLogger())
	ch := updates(p)

	st := p.State()
	if !st.Loading || st.HasData {
		t.Fatalf("before Start: Loading = %v, HasData = %v; want true, false", st.Loading, st.HasData)
	}

	p.Start(context.Background())
	defer p.Stop()
	n := f.waitStarted(t)

	st = p.State()
	if !st.Loading || st.Refreshing {
		t.Errorf("first fetch in flight: Loading = %v, Refreshing = %v; want true, false", st.Loading, st.Refreshing)
	}

	f.reply(n, "first", nil)
	st = nextUpdate(t, ch)
	if st.Data != "first" || !st.HasData || st.Loading || st.Err != nil {
		t.Errorf("after first fetch: %+v", st)
	}
	if !st.IssuedAt.Equal(clock.Now()) {
		t.Errorf("IssuedAt = %v, want %v", st.IssuedAt, clock.Now())
	}
}

func TestPoller_TicksOnInterval(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[int]()
	p := desk.NewPoller(f.fetch, 3*time.Second, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	defer p.Stop()
	f.reply(f.waitStarted(t), 1, nil)
	nextUpdate(t, ch)

	clock.Advance(2 * time.Second)
	select {
	case n := <-f.started:
		t.Fatalf("fetch %d issued before the interval elapsed", n)
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	n := f.waitStarted(t)
	if !p.State().Refreshing {
		t.Error("Refreshing = false while a later fetch is in flight")
	}
	f.reply(n, 2, nil)
	st := nextUpdate(t, ch)
	if st.Data != 2 || st.Refreshing {
		t.Errorf("after tick: Data = %d, Refreshing = %v; want 2, false", st.Data, st.Refreshing)
	}
	if !st.IssuedAt.Equal(clock.Now()) {
		t.Errorf("IssuedAt = %v, want %v", st.IssuedAt, clock.Now())
	}
}

func TestPoller_LaterIssueWins(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[string]()
	p := desk.NewPoller(f.fetch, time.Minute, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	defer p.Stop()
	a := f.waitStarted(t)
	clock.Advance(time.Second)
	p.Refresh()
	b := f.waitStarted(t)

	// B was issued after A but answers first.
	f.reply(b, "B", nil)
	if st := nextUpdate(t, ch); st.Data != "B" {
		t.Fatalf("Data = %q, want %q", st.Data, "B")
	}

	f.reply(a, "A", nil)
	p.Wait()

	if got := p.State().Data; got != "B" {
		t.Errorf("late response from earlier poll overwrote data: got %q, want %q", got, "B")
	}
	select {
	case st := <-ch:
		t.Errorf("stale result notified listeners: %+v", st)
	default:
	}
}

func TestPoller_ErrorKeepsData(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[string]()
	p := desk.NewPoller(f.fetch, time.Minute, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	defer p.Stop()
	f.reply(f.waitStarted(t), "good", nil)
	nextUpdate(t, ch)

	boom := &desk.RequestError{Kind: desk.NetworkFailure, Message: "backend unreachable"}
	p.Refresh()
	f.reply(f.waitStarted(t), "", boom)
	st := nextUpdate(t, ch)
	if !errors.Is(st.Err, boom) {
		t.Errorf("Err = %v, want %v", st.Err, boom)
	}
	if st.Data != "good" || !st.HasData {
		t.Errorf("Data = %q, HasData = %v; stale data must stay visible", st.Data, st.HasData)
	}

	p.Refresh()
	f.reply(f.waitStarted(t), "fresh", nil)
	st = nextUpdate(t, ch)
	if st.Err != nil || st.Data != "fresh" {
		t.Errorf("after recovery: Err = %v, Data = %q", st.Err, st.Data)
	}
}

func TestPoller_FirstFetchFails(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[string]()
	p := desk.NewPoller(f.fetch, time.Minute, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	defer p.Stop()
	f.reply(f.waitStarted(t), "", errors.New("offline"))
	st := nextUpdate(t, ch)
	if st.Err == nil || st.HasData || !st.Loading {
		t.Errorf("after failed first fetch: %+v; want Err set, still loading", st)
	}
}

func TestPoller_PanicBecomesError(t *testing.T) {
	clock := testutil.FixedClock()
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			panic("decoder exploded")
		}
		return 7, nil
	}
	p := desk.NewPoller(fetch, time.Second, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	defer p.Stop()
	st := nextUpdate(t, ch)
	if st.Err == nil || !strings.Contains(st.Err.Error(), "decoder exploded") {
		t.Fatalf("Err = %v, want the recovered panic", st.Err)
	}

	clock.Advance(time.Second)
	if st := nextUpdate(t, ch); st.Data != 7 || st.Err != nil {
		t.Errorf("next tick after panic: Data = %d, Err = %v", st.Data, st.Err)
	}
}

func TestPoller_StopDiscardsInFlight(t *testing.T) {
	clock := testutil.FixedClock()
	f := newControlledFetch[string]()
	p := desk.NewPoller(f.fetch, time.Second, clock, desk.NewNopLogger())
	ch := updates(p)

	p.Start(context.Background())
	n := f.waitStarted(t)
	p.Stop()
	f.reply(n, "late", nil)
	p.Wait()

	if st := p.State(); st.HasData {
		t.Errorf("result applied after Stop: %+v", st)
	}
	select {
	case st := <-ch:
		t.Errorf("listener called after Stop: %+v", st)
	default:
	}
	if clock.Tickers() != 0 {
		t.Errorf("%d tickers still running after Stop", clock.Tickers())
	}

	// Neither ticks nor Refresh issue fetches once stopped.
	clock.Advance(5 * time.Second)
	p.Refresh()
	select {
	case n := <-f.started:
		t.Errorf("fetch %d issued after Stop", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPoller_StopCancelsFetchContext(t *testing.T) {
	clock := testutil.FixedClock()
	cancelled := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	}
	p := desk.NewPoller(fetch, time.Second, clock, desk.NewNopLogger())
	p.Start(context.Background())
	p.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight fetch was not cancelled by Stop")
	}
	p.Wait()
}

func TestPoller_ContextCancelStops(t *testing.T) {
	clock := testutil.FixedClock()
	fetch := func(ctx context.Context) (int, error) { return 1, nil }
	p := desk.NewPoller(fetch, time.Second, clock, desk.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for clock.Tickers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller kept its ticker after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Wait()
}

func TestPoller_StartTwiceIsNoop(t *testing.T) {
	clock := testutil.FixedClock()
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}
	p := desk.NewPoller(fetch, time.Second, clock, desk.NewNopLogger())
	p.Start(context.Background())
	p.Start(context.Background())
	p.Wait()
	p.Stop()

	if n := calls.Load(); n != 1 {
		t.Errorf("fetch called %d times, want 1", n)
	}
	if clock.Tickers() != 0 {
		t.Errorf("%d tickers running after Stop, want 0", clock.Tickers())
	}
}

func TestPoller_Restart(t *testing.T) {
	clock := testutil.FixedClock()
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}
	p := desk.NewPoller(fetch, time.Second, clock, desk.NewNopLogger())

	p.Start(context.Background())
	p.Wait()
	p.Stop()
	p.Start(context.Background())
	p.Wait()
	defer p.Stop()

	if got := p.State().Data; got != 2 {
		t.Errorf("Data after restart = %d, want 2", got)
	}
}

func TestPoller_Ready(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		p := desk.NewPoller(func(ctx context.Context) (int, error) { return 1, nil }, time.Second, testutil.FixedClock(), desk.NewNopLogger())
		if err := p.Ready(context.Background()); !errors.Is(err, desk.ErrPollerStopped) {
			t.Errorf("Ready() error = %v, want ErrPollerStopped", err)
		}
	})

	t.Run("waits for the first applied result while ticks continue", func(t *testing.T) {
		clock := testutil.FixedClock()
		f := newControlledFetch[string]()
		p := desk.NewPoller(f.fetch, 3*time.Second, clock, desk.NewNopLogger())
		var listened atomic.Bool
		p.OnUpdate(func(desk.PollState[string]) { listened.Store(true) })

		p.Start(context.Background())
		defer p.Stop()
		first := f.waitStarted(t)

		ready := make(chan error, 1)
		go func() { ready <- p.Ready(context.Background()) }()

		clock.Advance(3 * time.Second)
		second := f.waitStarted(t)
		select {
		case err := <-ready:
			t.Fatalf("Ready() returned %v before any result", err)
		case <-time.After(50 * time.Millisecond):
		}

		f.reply(second, "second", nil)
		select {
		case err := <-ready:
			if err != nil {
				t.Fatalf("Ready() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Ready() did not return after a result was applied")
		}
		if !listened.Load() {
			t.Error("Ready() returned before listeners ran")
		}
		if got := p.State().Data; got != "second" {
			t.Errorf("Data = %q, want %q", got, "second")
		}
		f.reply(first, "first", nil)

		if err := p.Ready(context.Background()); err != nil {
			t.Errorf("second Ready() error = %v", err)
		}
	})

	t.Run("stop before first result", func(t *testing.T) {
		f := newControlledFetch[int]()
		p := desk.NewPoller(f.fetch, time.Second, testutil.FixedClock(), desk.NewNopLogger())
		p.Start(context.Background())
		f.waitStarted(t)

		ready := make(chan error, 1)
		go func() { ready <- p.Ready(context.Background()) }()
		p.Stop()

		select {
		case err := <-ready:
			if !errors.Is(err, desk.ErrPollerStopped) {
				t.Errorf("Ready() error = %v, want ErrPollerStopped", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Ready() did not return after Stop")
		}
		p.Wait()
	})

	t.Run("context cancelled", func(t *testing.T) {
		f := newControlledFetch[int]()
		p := desk.NewPoller(f.fetch, time.Second, testutil.FixedClock(), desk.NewNopLogger())
		p.Start(context.Background())
		defer p.Stop()
		f.waitStarted(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.Ready(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Ready() error = %v, want context.Canceled", err)
		}
	})
}
