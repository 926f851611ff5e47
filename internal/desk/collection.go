package desk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MutationKind distinguishes a new record from a change to an existing one.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
)

// MutationState is the lifecycle of one optimistic mutation.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationConfirmed  MutationState = "confirmed"
	MutationRolledBack MutationState = "rolled_back"
)

// Mutation is one user action applied locally ahead of the server.
// Values handed out by Collection are copies.
type Mutation struct {
	Key         string
	Kind        MutationKind
	State       MutationState
	Provisional Record
	// Confirmed is the record shown once the server accepted the mutation.
	// For a create it is Provisional carrying the server id, or the temp id
	// when the server did not return one.
	Confirmed Record
	StartedAt time.Time
	SettledAt time.Time
	Err       error

	cancel context.CancelFunc
}

// Collection owns the snapshot of one resource: the last applied poll plus
// the overlays of mutations that the poll cannot be trusted to reflect yet.
//
// A poll replaces the polled records wholesale. Pending mutations survive
// every poll until they are confirmed, rolled back or expired, though a
// pending create is hidden once the poll already shows its server copy.
// Confirmed creates are retired once a poll returns their id, and every
// confirmed overlay once a poll issued after confirmation completes.
type Collection struct {
	clock          Clock
	idgen          IDGenerator
	logger         Logger
	pendingTimeout time.Duration

	mu        sync.Mutex
	polled    []Record
	polledAt  time.Time
	mutations []*Mutation
}

// NewCollection creates an empty collection. A pendingTimeout of zero
// disables expiry.
func NewCollection(clock Clock, idgen IDGenerator, logger Logger, pendingTimeout time.Duration) *Collection {
	return &Collection{
		clock:          clock,
		idgen:          idgen,
		logger:         logger,
		pendingTimeout: pendingTimeout,
	}
}

// ApplyPoll replaces the polled records with a fresh result. issuedAt is the
// time the fetch was issued; a result issued before the current one is
// ignored and ApplyPoll returns false.
func (c *Collection) ApplyPoll(records []Record, issuedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if issuedAt.Before(c.polledAt) {
		c.logger.Debug("ignoring poll issued before current snapshot", "issued_at", issuedAt)
		return false
	}
	c.polled = dedupeByID(records)
	c.polledAt = issuedAt

	polledIDs := make(map[string]struct{}, len(c.polled))
	for _, r := range c.polled {
		polledIDs[r.ID] = struct{}{}
	}

	kept := c.mutations[:0]
	for _, m := range c.mutations {
		if m.State == MutationConfirmed && c.retired(m, polledIDs, issuedAt) {
			c.logger.Debug("confirmed overlay retired", "key", m.Key, "id", m.Confirmed.ID)
			continue
		}
		kept = append(kept, m)
	}
	c.mutations = kept
	return true
}

func (c *Collection) retired(m *Mutation, polledIDs map[string]struct{}, issuedAt time.Time) bool {
	if !issuedAt.Before(m.SettledAt) {
		return true
	}
	// An update targets a record every poll already lists, so only a poll
	// issued after confirmation reflects it.
	if m.Kind == MutationUpdate {
		return false
	}
	if !m.Confirmed.IsProvisional() {
		_, ok := polledIDs[m.Confirmed.ID]
		return ok
	}
	return c.echoedLocked(m.Confirmed, m.StartedAt)
}

// echoedLocked reports whether the polled records hold the server's copy of
// a create started at startedAt.
func (c *Collection) echoedLocked(r Record, startedAt time.Time) bool {
	for _, p := range c.polled {
		if !p.IsProvisional() && sameContent(p, r) && !p.CreatedAt.Before(startedAt.Add(-time.Second)) {
			return true
		}
	}
	return false
}

// Records returns the merged view: polled records with every live overlay
// applied, unique by id, ordered by CreatedAt then id.
func (c *Collection) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsLocked()
}

func (c *Collection) recordsLocked() []Record {
	out := make([]Record, 0, len(c.polled)+len(c.mutations))
	index := make(map[string]int, cap(out))
	put := func(r Record) {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			return
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	for _, r := range c.polled {
		put(r)
	}
	for _, m := range c.mutations {
		switch m.State {
		case MutationPending:
			if m.Kind == MutationCreate && c.echoedLocked(m.Provisional, m.StartedAt) {
				continue
			}
			put(m.Provisional)
		case MutationConfirmed:
			put(m.Confirmed)
		}
	}
	sortRecords(out)
	return out
}

// BeginCreate inserts a provisional record built from draft with a fresh
// temp id and a CreatedAt of now. Direction defaults to Outgoing.
func (c *Collection) BeginCreate(draft Record) Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	draft.ID = TempIDPrefix + c.idgen.New()
	draft.CreatedAt = now
	if draft.Direction == "" {
		draft.Direction = Outgoing
	}
	m := &Mutation{
		Key:         draft.ID,
		Kind:        MutationCreate,
		State:       MutationPending,
		Provisional: draft,
		StartedAt:   now,
	}
	c.mutations = append(c.mutations, m)
	c.logger.Debug("optimistic create", "key", m.Key, "counterparty", draft.Counterparty)
	return *m
}

// BeginUpdate overlays updated on the record with the same id until the
// mutation settles.
func (c *Collection) BeginUpdate(updated Record) (Mutation, error) {
	if updated.ID == "" {
		return Mutation{}, fmt.Errorf("update requires a record id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.mutations {
		if m.Kind == MutationUpdate && m.State == MutationPending && m.Provisional.ID == updated.ID {
			return Mutation{}, ErrMutationInFlight
		}
	}
	m := &Mutation{
		Key:         "update-" + c.idgen.New(),
		Kind:        MutationUpdate,
		State:       MutationPending,
		Provisional: updated,
		StartedAt:   c.clock.Now(),
	}
	c.mutations = append(c.mutations, m)
	c.logger.Debug("optimistic update", "key", m.Key, "id", updated.ID)
	return *m, nil
}

// Confirm settles a pending mutation with the server's record.
func (c *Collection) Confirm(key string, authoritative Record) (Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.find(key)
	if m == nil || m.State != MutationPending {
		return Mutation{}, ErrNotPending
	}

	switch m.Kind {
	case MutationCreate:
		confirmed := m.Provisional
		if authoritative.ID != "" {
			confirmed.ID = authoritative.ID
		} else {
			c.logger.Warn("server confirmed create without an id", "key", key)
		}
		m.Confirmed = confirmed
	case MutationUpdate:
		if authoritative.ID == m.Provisional.ID {
			m.Confirmed = authoritative
		} else {
			m.Confirmed = m.Provisional
		}
	}
	m.State = MutationConfirmed
	m.SettledAt = c.clock.Now()
	m.cancel = nil

	// A confirmed create now shares an id with anything already polled;
	// Records dedupes by id so the polled copy and the overlay collapse.
	c.logger.Debug("mutation confirmed", "key", key, "id", m.Confirmed.ID)
	return *m, nil
}

// Rollback discards a pending mutation. The snapshot returns to what it
// would be had the mutation never been made.
func (c *Collection) Rollback(key string, cause error) (Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.find(key)
	if m == nil || m.State != MutationPending {
		return Mutation{}, ErrNotPending
	}
	c.rollbackLocked(m, cause)
	return *m, nil
}

func (c *Collection) rollbackLocked(m *Mutation, cause error) {
	m.State = MutationRolledBack
	m.Err = cause
	m.SettledAt = c.clock.Now()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	c.remove(m)
	c.logger.Info("mutation rolled back", "key", m.Key, "error", cause)
}

// Expire rolls back every mutation that has been pending longer than the
// pending timeout and returns them.
func (c *Collection) Expire() []Mutation {
	if c.pendingTimeout <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var expired []*Mutation
	for _, m := range c.mutations {
		if m.State == MutationPending && now.Sub(m.StartedAt) >= c.pendingTimeout {
			expired = append(expired, m)
		}
	}
	out := make([]Mutation, 0, len(expired))
	for _, m := range expired {
		c.rollbackLocked(m, ErrMutationTimeout)
		out = append(out, *m)
	}
	return out
}

// Pending returns copies of the mutations that have not settled.
func (c *Collection) Pending() []Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Mutation
	for _, m := range c.mutations {
		if m.State == MutationPending {
			out = append(out, *m)
		}
	}
	return out
}

// Run submits a pending mutation and settles it with the outcome. The
// submit context is cancelled if the mutation expires first, in which case
// Run returns ErrMutationTimeout.
func (c *Collection) Run(ctx context.Context, key string, submit func(ctx context.Context) (Record, error)) (Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	m := c.find(key)
	if m == nil || m.State != MutationPending {
		c.mu.Unlock()
		return Record{}, ErrNotPending
	}
	m.cancel = cancel
	c.mu.Unlock()

	rec, err := submit(ctx)
	if err != nil {
		if _, rbErr := c.Rollback(key, err); errors.Is(rbErr, ErrNotPending) {
			return Record{}, ErrMutationTimeout
		}
		return Record{}, err
	}
	settled, err := c.Confirm(key, rec)
	if err != nil {
		// Expired while the request was in flight. The server may still have
		// applied it; the next poll will show it without a duplicate.
		return Record{}, ErrMutationTimeout
	}
	return settled.Confirmed, nil
}

func (c *Collection) find(key string) *Mutation {
	for _, m := range c.mutations {
		if m.Key == key {
			return m
		}
	}
	return nil
}

func (c *Collection) remove(target *Mutation) {
	for i, m := range c.mutations {
		if m == target {
			c.mutations = append(c.mutations[:i], c.mutations[i+1:]...)
			return
		}
	}
}

// dedupeByID keeps the last record for each id, preserving first-seen order.
func dedupeByID(records []Record) []Record {
	out := make([]Record, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
