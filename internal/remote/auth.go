package remote

import (
	"context"
	"encoding/json"
	"net/http"

	"opsdesk/internal/desk"
)

// AuthResult is what sign-in and sign-up hand back.
type AuthResult struct {
	Token  string
	Status desk.SessionStatus
}

// SignupRequest is the payload of Signup.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

// wireFlags are the lifecycle flags as the backend spells them.
type wireFlags struct {
	BusinessSetupComplete *flexBool `json:"business_setup_complete"`
	PaymentComplete       *flexBool `json:"payment_complete"`
}

func (f wireFlags) present() bool {
	return f.BusinessSetupComplete != nil || f.PaymentComplete != nil
}

func (f wireFlags) status() desk.SessionStatus {
	var st desk.SessionStatus
	if f.BusinessSetupComplete != nil {
		st.BusinessSetupComplete = bool(*f.BusinessSetupComplete)
	}
	if f.PaymentComplete != nil {
		st.PaymentComplete = bool(*f.PaymentComplete)
	}
	return st
}

type wireAuth struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	wireFlags
	User *wireFlags `json:"user"`
	Data *wireFlags `json:"data"`
}

// flags picks the lifecycle flags from the top level, "user" or "data".
func (w wireAuth) flags() desk.SessionStatus {
	switch {
	case w.wireFlags.present():
		return w.wireFlags.status()
	case w.User != nil && w.User.present():
		return w.User.status()
	case w.Data != nil && w.Data.present():
		return w.Data.status()
	default:
		return desk.SessionStatus{}
	}
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (AuthResult, error) {
	body, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return AuthResult{}, err
	}
	var w wireAuth
	if err := json.Unmarshal(body, &w); err != nil {
		return AuthResult{}, &desk.RequestError{
			Kind:    desk.MalformedResponse,
			Message: "unreadable " + path + " response",
			Err:     err,
		}
	}
	token := firstNonEmpty(w.AccessToken, w.Token)
	if token == "" {
		return AuthResult{}, &desk.RequestError{
			Kind:    desk.MalformedResponse,
			Message: path + " response carried no token",
		}
	}
	st := w.flags()
	st.Authenticated = true
	return AuthResult{Token: token, Status: st}, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return c.authenticate(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Signup creates an account and signs it in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	return c.authenticate(ctx, "/auth/signup", req)
}

// Me returns the authoritative lifecycle flags of the current token.
func (c *Client) Me(ctx context.Context) (desk.SessionStatus, error) {
	const path = "/auth/me"
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return desk.SessionStatus{}, err
	}
	var w wireAuth
	if err := json.Unmarshal(body, &w); err != nil {
		return desk.SessionStatus{}, &desk.RequestError{
			Kind:    desk.MalformedResponse,
			Message: "unreadable profile response",
			Err:     err,
		}
	}
	st := w.flags()
	st.Authenticated = true
	return st, nil
}

// Logout invalidates the token on the backend.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	return err
}

var _ desk.ProfileSource = (*Client)(nil)
