package desk

import (
	"sort"
	"time"
)

// UnknownCounterparty groups records that arrive without any counterparty.
const UnknownCounterparty = "unknown"

// ReadMarks is the set of record ids the operator has explicitly marked read.
type ReadMarks map[string]struct{}

// Has reports whether id has been marked read. A nil ReadMarks has no marks.
func (m ReadMarks) Has(id string) bool {
	_, ok := m[id]
	return ok
}

// Thread is a conversation with one counterparty. It is derived from records
// on every poll and has no state of its own.
type Thread struct {
	Counterparty string
	Records      []Record // ascending by CreatedAt
	LastMessage  string
	Timestamp    time.Time
	Unread       bool
}

// GroupThreads partitions records by counterparty, orders each thread
// oldest-first and orders threads most-recently-active first.
// The result depends only on the inputs: records and marks are not modified
// and input order does not matter.
func GroupThreads(records []Record, marks ReadMarks) []Thread {
	byCounterparty := make(map[string][]Record)
	for _, r := range records {
		key := r.Counterparty
		if key == "" {
			key = UnknownCounterparty
		}
		byCounterparty[key] = append(byCounterparty[key], r)
	}

	threads := make([]Thread, 0, len(byCounterparty))
	for counterparty, recs := range byCounterparty {
		sortRecords(recs)
		last := recs[len(recs)-1]
		threads = append(threads, Thread{
			Counterparty: counterparty,
			Records:      recs,
			LastMessage:  last.Body,
			Timestamp:    last.CreatedAt,
			Unread:       hasUnread(recs, marks),
		})
	}

	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Counterparty < b.Counterparty
	})
	return threads
}

// sortRecords orders records by CreatedAt, breaking ties by id.
func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// hasUnread is true iff some incoming record has no AI response and has not
// been read, either by the backend's flag or by an explicit mark.
func hasUnread(recs []Record, marks ReadMarks) bool {
	for _, r := range recs {
		if r.Direction != Incoming {
			continue
		}
		if r.AIResponse != "" || r.Read || marks.Has(r.ID) {
			continue
		}
		return true
	}
	return false
}
