package desk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Stage is the lifecycle stage a user is in.
type Stage string

const (
	StageUnauthenticated    Stage = "unauthenticated"
	StageNeedsBusinessSetup Stage = "needs_business_setup"
	StageNeedsPayment       Stage = "needs_payment"
	StageActive             Stage = "active"
)

// Routes the gate knows about.
const (
	RouteSignIn     = "/auth/signin"
	RouteSignUp     = "/auth/signup"
	RouteOnboarding = "/onboarding"
	RoutePayment    = "/payment"
	RouteDashboard  = "/dashboard"
)

// CanonicalStage picks the single stage for a status, in priority order
// unauthenticated > needs_business_setup > needs_payment > active.
func CanonicalStage(st SessionStatus) Stage {
	switch {
	case !st.Authenticated:
		return StageUnauthenticated
	case !st.BusinessSetupComplete:
		return StageNeedsBusinessSetup
	case !st.PaymentComplete:
		return StageNeedsPayment
	default:
		return StageActive
	}
}

// LandingRoute is where a user in stage belongs.
func LandingRoute(stage Stage) string {
	switch stage {
	case StageUnauthenticated:
		return RouteSignIn
	case StageNeedsBusinessSetup:
		return RouteOnboarding
	case StageNeedsPayment:
		return RoutePayment
	default:
		return RouteDashboard
	}
}

// RequiredStage returns the stage a route may be entered from. Auth routes
// are auth-only: they admit unauthenticated users and send everyone else
// away. Anything unrecognized is treated as part of the dashboard.
func RequiredStage(route string) Stage {
	route = "/" + strings.Trim(route, "/")
	switch {
	case route == "/auth" || strings.HasPrefix(route, "/auth/"):
		return StageUnauthenticated
	case route == RouteOnboarding || strings.HasPrefix(route, RouteOnboarding+"/"):
		return StageNeedsBusinessSetup
	case route == RoutePayment || strings.HasPrefix(route, RoutePayment+"/"):
		return StageNeedsPayment
	default:
		return StageActive
	}
}

// ProfileSource answers the authoritative status for the current token.
type ProfileSource interface {
	Me(ctx context.Context) (SessionStatus, error)
}

// Navigator switches the client to another route.
type Navigator interface {
	Navigate(route string)
}

// Resolution is the outcome of one stage computation.
type Resolution struct {
	Status SessionStatus
	Stage  Stage
	// Remote is true when the backend profile call succeeded and its values
	// were used; false when the local store was the only source.
	Remote bool
}

// Decision is the gate's answer for one route entry.
type Decision struct {
	Route    string
	Stage    Stage
	Allowed  bool
	Redirect string // landing route of Stage when not Allowed
}

// Gate computes the lifecycle stage and authorizes route entries.
type Gate struct {
	session *Session
	profile ProfileSource
	clock   Clock
	logger  Logger
}

func NewGate(session *Session, profile ProfileSource, clock Clock, logger Logger) *Gate {
	return &Gate{
		session: session,
		profile: profile,
		clock:   clock,
		logger:  logger,
	}
}

// Resolve reads the optimistic status from the store, then lets one backend
// profile call override it. A failed profile call leaves the local values
// standing, except for a 401 which signs the user out.
func (g *Gate) Resolve(ctx context.Context) (Resolution, error) {
	token, err := g.session.Token(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if token != "" && tokenExpired(token, g.clock.Now()) {
		g.logger.Info("stored token expired, clearing session token")
		if err := g.session.ClearToken(ctx); err != nil {
			return Resolution{}, err
		}
		token = ""
	}
	if token == "" {
		return Resolution{Stage: StageUnauthenticated}, nil
	}

	local, err := g.session.LocalStatus(ctx)
	if err != nil {
		return Resolution{}, err
	}

	remote, err := g.profile.Me(ctx)
	if err != nil {
		if IsAuthFailure(err) {
			if clearErr := g.clearRejected(ctx, token); clearErr != nil {
				return Resolution{}, clearErr
			}
			return Resolution{Stage: StageUnauthenticated}, nil
		}
		g.logger.Warn("profile check failed, using local session flags", "error", err)
		return Resolution{Status: local, Stage: CanonicalStage(local)}, nil
	}

	remote.Authenticated = true
	if err := g.session.SaveFlags(ctx, remote); err != nil {
		g.logger.Warn("caching profile flags failed, using backend status", "error", err)
	}
	return Resolution{Status: remote, Stage: CanonicalStage(remote), Remote: true}, nil
}

// clearRejected removes the token the backend refused, unless something
// else (the client's 401 hook) already replaced or cleared it.
func (g *Gate) clearRejected(ctx context.Context, rejected string) error {
	current, err := g.session.Token(ctx)
	if err != nil {
		return err
	}
	if current != rejected {
		return nil
	}
	return g.session.ClearToken(ctx)
}

// Authorize decides whether route may be entered and where to go if not.
func (g *Gate) Authorize(ctx context.Context, route string) (Decision, error) {
	res, err := g.Resolve(ctx)
	if err != nil {
		return Decision{}, err
	}
	d := Decide(route, res.Stage)
	if !d.Allowed {
		g.logger.Debug("route redirected", "route", route, "stage", string(res.Stage), "redirect", d.Redirect)
	}
	return d, nil
}

// Decide is the pure part of Authorize. The landing route of any stage is
// always allowed from that stage, so following a redirect is a fixed point.
func Decide(route string, stage Stage) Decision {
	d := Decision{Route: route, Stage: stage}
	if RequiredStage(route) == stage {
		d.Allowed = true
		return d
	}
	d.Redirect = LandingRoute(stage)
	return d
}

// SignIn stores a fresh token and the status that came with it.
func (g *Gate) SignIn(ctx context.Context, token string, st SessionStatus) (Stage, error) {
	if token == "" {
		return "", fmt.Errorf("sign-in response carried no token")
	}
	if err := g.session.Save(ctx, token, st); err != nil {
		return "", err
	}
	st.Authenticated = true
	return CanonicalStage(st), nil
}

// SignOut clears the token and flags.
func (g *Gate) SignOut(ctx context.Context) error {
	return g.session.Clear(ctx)
}

// tokenExpired reports whether a JWT-shaped token carries an exp claim in
// the past. The signature is not checked; opaque tokens never expire here.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
