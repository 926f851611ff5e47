package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"opsdesk/internal/desk"
)

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*id = flexID(n.String())
	return nil
}

// flexBool accepts true/false, 0/1 and "true"/"false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*b = true
	default:
		*b = false
	}
	return nil
}

// wireRecord is the union of the field spellings the backend endpoints use.
type wireRecord struct {
	ID flexID `json:"id"`

	Counterparty  string `json:"counterparty"`
	PhoneNumber   string `json:"phone_number"`
	CustomerPhone string `json:"customer_phone"`
	CallerNumber  string `json:"caller_number"`
	From          string `json:"from"`
	To            string `json:"to"`
	FromEmail     string `json:"from_email"`
	ToEmail       string `json:"to_email"`
	Email         string `json:"email"`
	CustomerEmail string `json:"customer_email"`

	Direction string `json:"direction"`

	Body    string `json:"body"`
	Content string `json:"content"`
	Message string `json:"message"`
	Text    string `json:"text"`
	Notes   string `json:"notes"`
	Summary string `json:"summary"`
	Subject string `json:"subject"`

	CreatedAt string `json:"created_at"`
	Timestamp string `json:"timestamp"`

	AIResponse string    `json:"ai_response"`
	Read       *flexBool `json:"read"`
	IsRead     *flexBool `json:"is_read"`

	Status        string `json:"status"`
	RequestedTime string `json:"requested_time"`
	ConfirmedTime string `json:"confirmed_time"`

	Duration        *int `json:"duration"`
	DurationSeconds *int `json:"duration_seconds"`
}

// resourceDefaults fills what an endpoint leaves implicit.
type resourceDefaults struct {
	direction desk.Direction
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (w wireRecord) record(def resourceDefaults) (desk.Record, error) {
	if w.ID == "" {
		return desk.Record{}, fmt.Errorf("record has no id")
	}

	dir := desk.ParseDirection(w.Direction)
	if dir == "" {
		dir = def.direction
	}

	// The remote party is whichever side is not the business.
	remoteParty := w.From
	remoteEmail := w.FromEmail
	if dir == desk.Outgoing {
		remoteParty = w.To
		remoteEmail = w.ToEmail
	}

	created, err := desk.ParseTimestamp(firstNonEmpty(w.CreatedAt, w.Timestamp))
	if err != nil {
		return desk.Record{}, fmt.Errorf("record %s: %w", w.ID, err)
	}
	requested, err := desk.ParseTimestamp(w.RequestedTime)
	if err != nil {
		return desk.Record{}, fmt.Errorf("record %s: requested_time: %w", w.ID, err)
	}
	confirmed, err := desk.ParseTimestamp(w.ConfirmedTime)
	if err != nil {
		return desk.Record{}, fmt.Errorf("record %s: confirmed_time: %w", w.ID, err)
	}

	r := desk.Record{
		ID: string(w.ID),
		Counterparty: firstNonEmpty(
			w.Counterparty, w.PhoneNumber, w.CustomerPhone, w.CallerNumber,
			remoteParty, remoteEmail, w.Email, w.CustomerEmail,
		),
		Direction:     dir,
		Body:          firstNonEmpty(w.Body, w.Content, w.Message, w.Text, w.Notes, w.Summary),
		CreatedAt:     created,
		AIResponse:    w.AIResponse,
		Subject:       w.Subject,
		Status:        w.Status,
		RequestedTime: requested,
		ConfirmedTime: confirmed,
	}
	switch {
	case w.Read != nil:
		r.Read = bool(*w.Read)
	case w.IsRead != nil:
		r.Read = bool(*w.IsRead)
	}
	switch {
	case w.DurationSeconds != nil:
		r.DurationSeconds = *w.DurationSeconds
	case w.Duration != nil:
		r.DurationSeconds = *w.Duration
	}
	return r, nil
}

// decodeList normalizes a list response into records. Unknown envelopes and
// malformed elements are logged and skipped; they never fail the call.
func (c *Client) decodeList(path string, body []byte, def resourceDefaults, names ...string) []desk.Record {
	env := classifyEnvelope(body, names...)
	if env.shape == shapeUnknown {
		c.logger.Warn("unexpected list response shape, treating as empty",
			"path", path, "kind", string(desk.MalformedResponse), "body", preview(body))
		return []desk.Record{}
	}

	out := make([]desk.Record, 0, len(env.elems))
	for i, raw := range env.elems {
		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			c.logger.Warn("skipping malformed record", "path", path, "index", i, "error", err)
			continue
		}
		r, err := w.record(def)
		if err != nil {
			c.logger.Warn("skipping malformed record", "path", path, "index", i, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out
}

// decodeSingle decodes a create/update/show response. A response carrying
// no usable record yields a zero Record and a nil error: the caller keeps
// its provisional copy.
func (c *Client) decodeSingle(path string, body []byte, def resourceDefaults, names ...string) desk.Record {
	raw, ok := singleBody(body, names...)
	if !ok {
		c.logger.Warn("unexpected response shape", "path", path, "kind", string(desk.MalformedResponse), "body", preview(body))
		return desk.Record{}
	}
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		c.logger.Warn("malformed record in response", "path", path, "error", err)
		return desk.Record{}
	}
	r, err := w.record(def)
	if err != nil {
		c.logger.Debug("response carried no usable record", "path", path, "error", err)
		return desk.Record{}
	}
	return r
}

func preview(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..." + strconv.Itoa(len(body)-limit) + " more bytes"
}
