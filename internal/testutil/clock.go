package testutil

import (
	"fmt"
	"sync"
	"time"

	"opsdesk/internal/desk"
)

// StubClock returns a fixed time and hands out manual tickers that fire
// only when the clock is advanced. Safe for concurrent use.
type StubClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*StubTicker
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a ticker driven by Advance.
func (c *StubClock) NewTicker(d time.Duration) desk.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &StubTicker{period: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires every ticker whose period
// elapsed. A ticker whose previous tick was not consumed drops the new one,
// like time.Ticker.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*StubTicker{}, c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.advance(d, now)
	}
}

// Tickers returns how many tickers are still running.
func (c *StubClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

// StubTicker is a desk.Ticker fired by StubClock.Advance.
type StubTicker struct {
	mu      sync.Mutex
	period  time.Duration
	elapsed time.Duration
	stopped bool
	ch      chan time.Time
}

func (t *StubTicker) C() <-chan time.Time { return t.ch }

func (t *StubTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *StubTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *StubTicker) advance(d time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.period <= 0 {
		return
	}
	t.elapsed += d
	if t.elapsed < t.period {
		return
	}
	t.elapsed %= t.period
	select {
	case t.ch <- now:
	default:
	}
}

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}

var (
	_ desk.Clock       = (*StubClock)(nil)
	_ desk.IDGenerator = (*StubIDGenerator)(nil)
)
