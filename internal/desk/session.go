package desk

import (
	"context"
	"fmt"
)

// Keys held in the local session store.
const (
	KeyAuthToken             = "auth_token"
	KeyBusinessSetupComplete = "business_setup_complete"
	KeyPaymentComplete       = "payment_complete"
)

const flagTrue = "true"

// SessionStore is the process-wide key/value store that survives restarts.
// It holds no logic; implementations only persist strings.
type SessionStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SessionStatus is the lifecycle view of the current user.
type SessionStatus struct {
	Authenticated         bool `json:"authenticated"`
	BusinessSetupComplete bool `json:"business_setup_complete"`
	PaymentComplete       bool `json:"payment_complete"`
}

// Session is the single accessor for session state in the store.
// Only the Gate and the sign-in/sign-out paths write through it.
type Session struct {
	store SessionStore
}

func NewSession(store SessionStore) *Session {
	return &Session{store: store}
}

// Token returns the bearer token, or "" when signed out.
func (s *Session) Token(ctx context.Context) (string, error) {
	token, ok, err := s.store.Get(ctx, KeyAuthToken)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// LocalStatus reads the optimistic status from the store.
func (s *Session) LocalStatus(ctx context.Context) (SessionStatus, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return SessionStatus{}, err
	}
	setup, err := s.flag(ctx, KeyBusinessSetupComplete)
	if err != nil {
		return SessionStatus{}, err
	}
	paid, err := s.flag(ctx, KeyPaymentComplete)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		Authenticated:         token != "",
		BusinessSetupComplete: setup,
		PaymentComplete:       paid,
	}, nil
}

func (s *Session) flag(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	return ok && v == flagTrue, nil
}

// SaveFlags writes the completion flags. A false flag is stored as absent.
func (s *Session) SaveFlags(ctx context.Context, st SessionStatus) error {
	if err := s.writeFlag(ctx, KeyBusinessSetupComplete, st.BusinessSetupComplete); err != nil {
		return err
	}
	return s.writeFlag(ctx, KeyPaymentComplete, st.PaymentComplete)
}

func (s *Session) writeFlag(ctx context.Context, key string, value bool) error {
	if value {
		if err := s.store.Set(ctx, key, flagTrue); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}
	return nil
}

// Save stores a fresh token together with its flags.
func (s *Session) Save(ctx context.Context, token string, st SessionStatus) error {
	if err := s.store.Set(ctx, KeyAuthToken, token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return s.SaveFlags(ctx, st)
}

// ClearToken removes the token but keeps the flags for the next sign-in.
func (s *Session) ClearToken(ctx context.Context) error {
	if err := s.store.Delete(ctx, KeyAuthToken); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	return nil
}

// Clear removes the token and both flags.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.ClearToken(ctx); err != nil {
		return err
	}
	return s.SaveFlags(ctx, SessionStatus{})
}
