package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"opsdesk/internal/desk"
)

var (
	smsDefaults         = resourceDefaults{direction: desk.Incoming}
	emailDefaults       = resourceDefaults{direction: desk.Incoming}
	callDefaults        = resourceDefaults{direction: desk.Incoming}
	appointmentDefaults = resourceDefaults{direction: desk.Incoming}
)

// ListSMS returns every SMS message.
func (c *Client) ListSMS(ctx context.Context) ([]desk.Record, error) {
	const path = "/sms/messages"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(path, body, smsDefaults, "messages", "sms"), nil
}

// SendSMS sends body to the phone number to.
func (c *Client) SendSMS(ctx context.Context, to, body string) (desk.Record, error) {
	const path = "/sms/send"
	resp, err := c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"to":      to,
		"message": body,
	})
	if err != nil {
		return desk.Record{}, err
	}
	return c.decodeSingle(path, resp, resourceDefaults{direction: desk.Outgoing}, "message", "sms"), nil
}

// ListEmails returns every email message.
func (c *Client) ListEmails(ctx context.Context) ([]desk.Record, error) {
	const path = "/email/messages"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(path, body, emailDefaults, "messages", "emails"), nil
}

// EmailThread returns the messages of the thread containing message id.
func (c *Client) EmailThread(ctx context.Context, id string) ([]desk.Record, error) {
	path := "/email/thread/" + url.PathEscape(id)
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(path, body, emailDefaults, "messages", "thread", "emails"), nil
}

// SendEmail sends an email to the address to.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) (desk.Record, error) {
	const path = "/email/send"
	resp, err := c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return desk.Record{}, err
	}
	return c.decodeSingle(path, resp, resourceDefaults{direction: desk.Outgoing}, "email", "message"), nil
}

// ListCalls returns the voice call log.
func (c *Client) ListCalls(ctx context.Context) ([]desk.Record, error) {
	const path = "/voice/logs"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(path, body, callDefaults, "logs", "calls"), nil
}

// Call returns one call log entry. ok is false when the backend answered
// without a usable record.
func (c *Client) Call(ctx context.Context, id string) (rec desk.Record, ok bool, err error) {
	path := "/voice/logs/" + url.PathEscape(id)
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return desk.Record{}, false, err
	}
	rec = c.decodeSingle(path, body, callDefaults, "log", "call")
	return rec, rec.ID != "", nil
}

// ListAppointments returns every appointment.
func (c *Client) ListAppointments(ctx context.Context) ([]desk.Record, error) {
	const path = "/appointments"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(path, body, appointmentDefaults, "appointments"), nil
}

// AppointmentRequest is the payload of CreateAppointment.
type AppointmentRequest struct {
	CustomerPhone string    `json:"customer_phone"`
	RequestedTime time.Time `json:"requested_time"`
	Notes         string    `json:"notes,omitempty"`
}

// CreateAppointment books a new appointment.
func (c *Client) CreateAppointment(ctx context.Context, req AppointmentRequest) (desk.Record, error) {
	const path = "/appointments"
	resp, err := c.do(ctx, http.MethodPost, path, nil, req)
	if err != nil {
		return desk.Record{}, err
	}
	return c.decodeSingle(path, resp, appointmentDefaults, "appointment"), nil
}

// AppointmentUpdate is the payload of UpdateAppointment. Zero fields are omitted.
type AppointmentUpdate struct {
	Status        string    `json:"status,omitempty"`
	ConfirmedTime time.Time `json:"confirmed_time,omitzero"`
	Notes         string    `json:"notes,omitempty"`
}

// UpdateAppointment changes an existing appointment.
func (c *Client) UpdateAppointment(ctx context.Context, id string, upd AppointmentUpdate) (desk.Record, error) {
	path := "/appointments/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodPut, path, nil, upd)
	if err != nil {
		return desk.Record{}, err
	}
	return c.decodeSingle(path, resp, appointmentDefaults, "appointment"), nil
}

// AppointmentSummary returns appointment statistics over the last days days.
func (c *Client) AppointmentSummary(ctx context.Context, days int) (Metrics, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	const path = "/appointments/summary"
	body, err := c.get(ctx, path, url.Values{"days": {strconv.Itoa(days)}})
	if err != nil {
		return nil, err
	}
	return c.decodeMetrics(path, body), nil
}
