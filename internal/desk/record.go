package desk

import (
	"fmt"
	"strings"
	"time"
)

// Direction says which side of a conversation produced a record.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// TempIDPrefix marks a record id as client-generated and provisional.
const TempIDPrefix = "temp-"

// Record is one message, call or appointment as the client knows it.
// Records returned by the backend are immutable; the client only ever
// replaces them wholesale.
type Record struct {
	ID           string    `json:"id"`
	Counterparty string    `json:"counterparty"`
	Direction    Direction `json:"direction"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
	AIResponse   string    `json:"ai_response,omitempty"`
	Read         bool      `json:"read,omitempty"`

	// Resource-specific fields.
	Subject         string    `json:"subject,omitempty"`
	Status          string    `json:"status,omitempty"`
	RequestedTime   time.Time `json:"requested_time,omitzero"`
	ConfirmedTime   time.Time `json:"confirmed_time,omitzero"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
}

// IsProvisional reports whether the record carries a client-generated id.
func (r Record) IsProvisional() bool {
	return strings.HasPrefix(r.ID, TempIDPrefix)
}

// sameContent reports whether two records describe the same outgoing action,
// ignoring ids and timestamps.
func sameContent(a, b Record) bool {
	return a.Counterparty == b.Counterparty &&
		a.Direction == b.Direction &&
		a.Body == b.Body &&
		a.Subject == b.Subject
}

// ParseDirection maps the spellings seen across backend endpoints onto
// Incoming/Outgoing. Unknown values are returned lowercased as-is.
func ParseDirection(s string) Direction {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "incoming", "inbound", "in", "received":
		return Incoming
	case "outgoing", "outbound", "out", "sent":
		return Outgoing
	default:
		return Direction(v)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants the backend emits.
// Zone-less values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
