package desk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PollState is what a screen renders for one polled resource.
type PollState[T any] struct {
	Data    T
	HasData bool
	// Loading is true until the first successful fetch.
	Loading bool
	// Refreshing is true while any fetch after the first is in flight.
	Refreshing bool
	// Err is the last fetch error. It is cleared by the next applied success
	// and never clears Data.
	Err error
	// IssuedAt is when the fetch that produced the current state was issued.
	IssuedAt  time.Time
	UpdatedAt time.Time
}

// Poller drives a fetch function on a fixed cadence.
//
// A fetch is issued on Start and then on every tick until Stop. Refresh
// issues an extra fetch without resetting the ticker. Fetches may overlap;
// a result is applied only if no later-issued fetch has been applied already,
// so a slow response can never overwrite newer data.
type Poller[T any] struct {
	fetch    func(ctx context.Context) (T, error)
	interval time.Duration
	clock    Clock
	logger   Logger

	mu        sync.Mutex
	state     PollState[T]
	active    bool
	ctx       context.Context
	cancel    context.CancelFunc
	ticker    Ticker
	done      chan struct{}
	first     chan struct{}
	firstSent bool
	issued    uint64
	applied   uint64
	inFlight  int
	listeners []func(PollState[T])

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// NewPoller creates a stopped Poller.
func NewPoller[T any](fetch func(ctx context.Context) (T, error), interval time.Duration, clock Clock, logger Logger) *Poller[T] {
	return &Poller[T]{
		fetch:    fetch,
		interval: interval,
		clock:    clock,
		logger:   logger,
		state:    PollState[T]{Loading: true},
	}
}

// OnUpdate registers fn to be called, in apply order, after every applied result.
func (p *Poller[T]) OnUpdate(fn func(PollState[T])) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Start activates the poller. Calling Start on an active poller is a no-op.
// Cancelling ctx has the same effect as Stop.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.active = true
	p.ticker = p.clock.NewTicker(p.interval)
	p.done = make(chan struct{})
	p.first = make(chan struct{})
	p.firstSent = false
	ticker, done, pctx := p.ticker, p.done, p.ctx
	p.mu.Unlock()

	p.issue()
	go p.loop(pctx, ticker, done)
}

func (p *Poller[T]) loop(ctx context.Context, ticker Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			p.Stop()
			return
		case <-ticker.C():
			p.issue()
		}
	}
}

// Stop cancels the ticker and any in-flight fetches. Results arriving after
// Stop are discarded.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.ticker.Stop()
	close(p.done)
	p.cancel()
}

// Refresh issues an out-of-band fetch. The regular cadence is unaffected.
func (p *Poller[T]) Refresh() {
	p.issue()
}

// Ready blocks until the first result since Start has been applied and its
// listeners have run. It returns ErrPollerStopped if the poller is not
// running or stops first.
func (p *Poller[T]) Ready(ctx context.Context) error {
	p.mu.Lock()
	first, done := p.first, p.done
	p.mu.Unlock()
	if first == nil {
		return ErrPollerStopped
	}
	select {
	case <-first:
		return nil
	default:
	}
	select {
	case <-first:
		return nil
	case <-done:
		return ErrPollerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every fetch issued so far has completed. It must not
// race with new fetches, so call it only after Stop or when the caller
// drives the ticker itself.
func (p *Poller[T]) Wait() {
	p.wg.Wait()
}

// State returns a copy of the current state.
func (p *Poller[T]) State() PollState[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller[T]) snapshotLocked() PollState[T] {
	st := p.state
	st.Loading = !st.HasData
	st.Refreshing = p.inFlight > 0 && p.issued > 1
	return st
}

func (p *Poller[T]) issue() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.issued++
	seq := p.issued
	p.inFlight++
	issuedAt := p.clock.Now()
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, seq, issuedAt)
}

func (p *Poller[T]) run(ctx context.Context, seq uint64, issuedAt time.Time) {
	defer p.wg.Done()
	data, err := p.safeFetch(ctx)

	p.mu.Lock()
	p.inFlight--
	if !p.active {
		p.mu.Unlock()
		p.logger.Debug("poll result discarded after stop", "seq", seq)
		return
	}
	if seq < p.applied {
		p.mu.Unlock()
		p.logger.Debug("stale poll result discarded", "seq", seq, "applied", p.appliedSeq())
		return
	}
	p.applied = seq
	if err != nil {
		p.state.Err = err
		p.logger.Warn("poll failed", "seq", seq, "error", err)
	} else {
		p.state.Data = data
		p.state.HasData = true
		p.state.Err = nil
	}
	p.state.IssuedAt = issuedAt
	p.state.UpdatedAt = p.clock.Now()
	st := p.snapshotLocked()
	listeners := append([]func(PollState[T]){}, p.listeners...)
	var ready chan struct{}
	if !p.firstSent {
		p.firstSent = true
		ready = p.first
	}

	// Hand over to notifyMu before releasing mu so listeners observe
	// results in the order they were applied.
	p.notifyMu.Lock()
	p.mu.Unlock()
	defer p.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
	if ready != nil {
		close(ready)
	}
}

func (p *Poller[T]) appliedSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// safeFetch converts a panicking fetch into an error so one bad response
// cannot kill the schedule.
func (p *Poller[T]) safeFetch(ctx context.Context) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll fetch panicked: %v", r)
		}
	}()
	return p.fetch(ctx)
}
