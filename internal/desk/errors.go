package desk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed backend interaction.
type ErrorKind string

const (
	// NetworkFailure covers transport errors and timeouts. Polls retry on the next tick.
	NetworkFailure ErrorKind = "network_failure"
	// AuthFailure is a 401. The session token is cleared and the user is sent to sign-in.
	AuthFailure ErrorKind = "auth_failure"
	// ValidationFailure is any other 4xx. Mutations roll back and surface the message.
	ValidationFailure ErrorKind = "validation_failure"
	// ServerFailure is a 5xx.
	ServerFailure ErrorKind = "server_failure"
	// MalformedResponse is an unexpected payload shape. List calls normalize it to
	// an empty result and only log it.
	MalformedResponse ErrorKind = "malformed_response"
)

// RequestError is the typed failure returned by the remote client.
type RequestError struct {
	Kind    ErrorKind
	Status  int // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" if err is not a *RequestError.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return ""
}

// IsAuthFailure reports whether err wraps a 401 from the backend.
func IsAuthFailure(err error) bool {
	return KindOf(err) == AuthFailure
}

var (
	// ErrMutationTimeout rolls back a mutation whose request did not settle in time.
	ErrMutationTimeout = errors.New("mutation timed out waiting for the server")
	// ErrNotPending is returned when confirming or rolling back a settled mutation.
	ErrNotPending = errors.New("mutation is not pending")
	// ErrMutationInFlight rejects a second update of a record that already has one pending.
	ErrMutationInFlight = errors.New("record already has a pending update")
	// ErrPollerStopped is returned by Ready when the poller is not running.
	ErrPollerStopped = errors.New("poller stopped before its first result")
)
