package desk

import (
	"context"
	"sync"
	"time"
)

// FeedState is everything a screen renders for one channel.
type FeedState struct {
	Records    []Record
	Threads    []Thread
	Pending    int
	Loading    bool
	Refreshing bool
	Err        error
	UpdatedAt  time.Time
}

// Feed is one polled screen: a Poller whose results feed a Collection,
// projected through GroupThreads on every read.
type Feed struct {
	Name string

	poller *Poller[[]Record]
	coll   *Collection
	logger Logger

	mu        sync.Mutex
	marks     ReadMarks
	listeners []func(FeedState)
}

// NewFeed wires list into a poller on the given cadence.
func NewFeed(name string, list func(ctx context.Context) ([]Record, error), interval, pendingTimeout time.Duration, clock Clock, idgen IDGenerator, logger Logger) *Feed {
	f := &Feed{
		Name:   name,
		poller: NewPoller(list, interval, clock, logger),
		coll:   NewCollection(clock, idgen, logger, pendingTimeout),
		logger: logger,
		marks:  make(ReadMarks),
	}
	f.poller.OnUpdate(f.onPoll)
	return f
}

func (f *Feed) onPoll(st PollState[[]Record]) {
	if st.Err == nil && st.HasData {
		f.coll.ApplyPoll(st.Data, st.IssuedAt)
	}
	f.expire()
	f.notify()
}

// Sweep rolls back pending mutations older than the pending timeout. It runs
// after every poll; callers that do not poll can run it themselves.
func (f *Feed) Sweep() []Mutation {
	expired := f.expire()
	if len(expired) > 0 {
		f.notify()
	}
	return expired
}

func (f *Feed) expire() []Mutation {
	expired := f.coll.Expire()
	for _, m := range expired {
		f.logger.Warn("pending mutation expired", "feed", f.Name, "key", m.Key)
	}
	return expired
}

// OnChange registers fn to be called after every poll and mutation transition.
func (f *Feed) OnChange(fn func(FeedState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *Feed) notify() {
	f.mu.Lock()
	listeners := append([]func(FeedState){}, f.listeners...)
	f.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	st := f.State()
	for _, fn := range listeners {
		fn(st)
	}
}

func (f *Feed) Start(ctx context.Context) { f.poller.Start(ctx) }
func (f *Feed) Stop()                     { f.poller.Stop() }
func (f *Feed) Refresh()                  { f.poller.Refresh() }
func (f *Feed) Wait()                     { f.poller.Wait() }

// Ready blocks until the first poll since Start has reached the collection.
func (f *Feed) Ready(ctx context.Context) error { return f.poller.Ready(ctx) }

// State returns the merged records, their threads and the poll status.
func (f *Feed) State() FeedState {
	ps := f.poller.State()
	records := f.coll.Records()
	return FeedState{
		Records:    records,
		Threads:    GroupThreads(records, f.readMarks()),
		Pending:    len(f.coll.Pending()),
		Loading:    ps.Loading,
		Refreshing: ps.Refreshing,
		Err:        ps.Err,
		UpdatedAt:  ps.UpdatedAt,
	}
}

// Threads is a shortcut for State().Threads.
func (f *Feed) Threads() []Thread {
	return GroupThreads(f.coll.Records(), f.readMarks())
}

// MarkThreadRead marks every incoming record currently in the thread read.
func (f *Feed) MarkThreadRead(counterparty string) {
	records := f.coll.Records()
	f.mu.Lock()
	for _, r := range records {
		if r.Counterparty == counterparty && r.Direction == Incoming {
			f.marks[r.ID] = struct{}{}
		}
	}
	f.mu.Unlock()
	f.notify()
}

func (f *Feed) readMarks() ReadMarks {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(ReadMarks, len(f.marks))
	for id := range f.marks {
		out[id] = struct{}{}
	}
	return out
}

// Send shows draft immediately as a provisional record, submits it and
// settles it with the outcome. On failure the provisional record is removed
// and the error returned; nothing is retried.
func (f *Feed) Send(ctx context.Context, draft Record, submit func(ctx context.Context, provisional Record) (Record, error)) (Record, error) {
	m := f.coll.BeginCreate(draft)
	f.notify()
	rec, err := f.coll.Run(ctx, m.Key, func(ctx context.Context) (Record, error) {
		return submit(ctx, m.Provisional)
	})
	f.notify()
	return rec, err
}

// Update overlays updated on its record while submit runs.
func (f *Feed) Update(ctx context.Context, updated Record, submit func(ctx context.Context, updated Record) (Record, error)) (Record, error) {
	m, err := f.coll.BeginUpdate(updated)
	if err != nil {
		return Record{}, err
	}
	f.notify()
	rec, err := f.coll.Run(ctx, m.Key, func(ctx context.Context) (Record, error) {
		return submit(ctx, m.Provisional)
	})
	f.notify()
	return rec, err
}

// Find returns the merged record with id.
func (f *Feed) Find(id string) (Record, bool) {
	for _, r := range f.coll.Records() {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}
