package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"opsdesk/internal/config"
	"opsdesk/internal/desk"
	"opsdesk/internal/remote"
	"opsdesk/internal/session"
)

// Resources that have a polled feed.
const (
	ResourceSMS          = "sms"
	ResourceEmail        = "email"
	ResourceCalls        = "calls"
	ResourceAppointments = "appointments"
)

// Routes each command enters through the gate.
const (
	RouteMessages     = "/dashboard/messages"
	RouteCalls        = "/dashboard/calls"
	RouteAppointments = "/dashboard/appointments"
	RouteAnalytics    = "/dashboard/analytics"
)

// RedirectError is returned when the gate refuses a command's route.
type RedirectError struct {
	Decision desk.Decision
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%s is not available at stage %s; continue at %s", e.Decision.Route, e.Decision.Stage, e.Decision.Redirect)
}

// OpsApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations,
// and stops every poller and closes the session store on Close.
type OpsApp struct {
	cfg     *config.Config
	store   desk.SessionStore
	session *desk.Session
	client  *remote.Client
	gate    *desk.Gate
	nav     desk.Navigator
	clock   desk.Clock
	idgen   desk.IDGenerator
	logger  desk.Logger
	zl      *zap.Logger
	op      *Operation
	logFile *os.File

	navMu  sync.Mutex
	navSeq uint64
	navTo  string

	mu     sync.Mutex
	feeds  map[string]*desk.Feed
	ctx    context.Context
	cancel context.CancelFunc
}

// deps are the pieces NewOpsApp takes from the real world.
type deps struct {
	clock   desk.Clock
	idgen   desk.IDGenerator
	zl      *zap.Logger
	logFile *os.File
}

// NewOpsApp creates a fully wired OpsApp from the given config.
// operation identifies the CLI command being run (e.g. "Inbox", "SendSMS").
// nav receives every route change the app decides on.
// The caller must call Close when done.
func NewOpsApp(cfg *config.Config, operation string, nav desk.Navigator) (*OpsApp, error) {
	clock := desk.RealClock{}
	op := NewOperation(operation, clock.Now())
	zl, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := newOpsApp(cfg, op, nav, deps{clock: clock, idgen: desk.UUIDGenerator{}, zl: zl, logFile: logFile})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return a, nil
}

func newOpsApp(cfg *config.Config, op *Operation, nav desk.Navigator, d deps) (*OpsApp, error) {
	store, err := session.NewStoreFromConfig(cfg.Session, d.clock)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	logger := newZapAdapter(d.zl)
	sess := desk.NewSession(store)
	a := &OpsApp{
		cfg:     cfg,
		store:   store,
		session: sess,
		nav:     nav,
		clock:   d.clock,
		idgen:   d.idgen,
		logger:  logger,
		zl:      d.zl,
		op:      op,
		logFile: d.logFile,
		feeds:   make(map[string]*desk.Feed),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.client = remote.New(cfg.BaseURL, sess,
		remote.WithTimeout(cfg.HTTP.Timeout.Duration),
		remote.WithLogger(logger),
		remote.WithUnauthorizedHandler(a.onUnauthorized),
	)
	a.gate = desk.NewGate(sess, a.client, d.clock, logger)

	logger.Info("operation started", "operation", op.Name, "base_url", cfg.BaseURL, "session_store", cfg.Session.Type)
	return a, nil
}

// onUnauthorized signs the user out locally after any 401.
func (a *OpsApp) onUnauthorized(ctx context.Context) {
	a.logger.Warn("backend rejected the session token, signing out")
	if err := a.session.ClearToken(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("clearing session token", "error", err)
	}
	a.navigate(desk.RouteSignIn)
}

func (a *OpsApp) navigate(route string) {
	a.navMu.Lock()
	a.navSeq++
	a.navTo = route
	a.navMu.Unlock()
	if a.nav != nil {
		a.nav.Navigate(route)
	}
}

// navMark returns the current navigation sequence and last route.
func (a *OpsApp) navMark() (uint64, string) {
	a.navMu.Lock()
	defer a.navMu.Unlock()
	return a.navSeq, a.navTo
}

// enter authorizes route and navigates to the landing route if refused.
// A redirect the 401 hook already performed during authorization is not
// repeated.
func (a *OpsApp) enter(ctx context.Context, route string) error {
	before, _ := a.navMark()
	d, err := a.gate.Authorize(ctx, route)
	if err != nil {
		return fmt.Errorf("authorizing %s: %w", route, err)
	}
	if !d.Allowed {
		if after, last := a.navMark(); after == before || last != d.Redirect {
			a.navigate(d.Redirect)
		}
		return &RedirectError{Decision: d}
	}
	return nil
}

// Login signs in with email and password and returns the resulting stage.
func (a *OpsApp) Login(ctx context.Context, email, password string) (desk.Stage, error) {
	res, err := a.client.Login(ctx, email, password)
	if err != nil {
		return "", a.op.Record(fmt.Errorf("login: %w", err))
	}
	return a.signIn(ctx, res)
}

// Signup creates an account, signs it in and returns the resulting stage.
func (a *OpsApp) Signup(ctx context.Context, req remote.SignupRequest) (desk.Stage, error) {
	res, err := a.client.Signup(ctx, req)
	if err != nil {
		return "", a.op.Record(fmt.Errorf("signup: %w", err))
	}
	return a.signIn(ctx, res)
}

func (a *OpsApp) signIn(ctx context.Context, res remote.AuthResult) (desk.Stage, error) {
	stage, err := a.gate.SignIn(ctx, res.Token, res.Status)
	if err != nil {
		return "", a.op.Record(err)
	}
	a.logger.Info("signed in", "stage", string(stage))
	a.navigate(desk.LandingRoute(stage))
	return stage, nil
}

// Logout tells the backend and clears the local session. A backend failure
// is logged; the local session is cleared regardless.
func (a *OpsApp) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil && !desk.IsAuthFailure(err) {
		a.logger.Warn("backend logout failed", "error", err)
	}
	if err := a.gate.SignOut(ctx); err != nil {
		return a.op.Record(fmt.Errorf("clearing session: %w", err))
	}
	a.navigate(desk.RouteSignIn)
	return nil
}

// Status resolves the current lifecycle stage.
func (a *OpsApp) Status(ctx context.Context) (desk.Resolution, error) {
	res, err := a.gate.Resolve(ctx)
	return res, a.op.Record(err)
}

// Authorize returns the gate decision for route and follows any redirect.
func (a *OpsApp) Authorize(ctx context.Context, route string) (desk.Decision, error) {
	d, err := a.gate.Authorize(ctx, route)
	if err != nil {
		return desk.Decision{}, a.op.Record(err)
	}
	if !d.Allowed {
		a.navigate(d.Redirect)
	}
	return d, nil
}

// Feed returns the app-wide feed for resource, creating it on first use.
// Feeds are stopped by Close.
func (a *OpsApp) Feed(resource string) (*desk.Feed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[resource]; ok {
		return f, nil
	}

	poll := a.cfg.Poll
	var (
		list     func(ctx context.Context) ([]desk.Record, error)
		interval = poll.Messages.Duration
	)
	switch resource {
	case ResourceSMS:
		list = a.client.ListSMS
	case ResourceEmail:
		list = a.client.ListEmails
	case ResourceCalls:
		list, interval = a.client.ListCalls, poll.Calls.Duration
	case ResourceAppointments:
		list, interval = a.client.ListAppointments, poll.Appointments.Duration
	default:
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	f := desk.NewFeed(resource, list, interval, a.cfg.Mutations.PendingTimeout.Duration, a.clock, a.idgen, a.logger)
	a.feeds[resource] = f
	return f, nil
}

// synced starts the feed for resource and waits for its first poll.
func (a *OpsApp) synced(resource string) (*desk.Feed, error) {
	f, err := a.Feed(resource)
	if err != nil {
		return nil, err
	}
	f.Start(a.ctx)
	if err := f.Ready(a.ctx); err != nil {
		return nil, fmt.Errorf("waiting for %s poll: %w", resource, err)
	}
	return f, nil
}

func routeFor(resource string) string {
	switch resource {
	case ResourceCalls:
		return RouteCalls
	case ResourceAppointments:
		return RouteAppointments
	default:
		return RouteMessages
	}
}

// Snapshot enters the resource's route, polls it once and returns the state.
// A failed poll is returned as the error.
func (a *OpsApp) Snapshot(ctx context.Context, resource string) (desk.FeedState, error) {
	if err := a.enter(ctx, routeFor(resource)); err != nil {
		return desk.FeedState{}, a.op.Record(err)
	}
	f, err := a.synced(resource)
	if err != nil {
		return desk.FeedState{}, a.op.Record(err)
	}
	st := f.State()
	if st.Err != nil {
		return st, a.op.Record(fmt.Errorf("listing %s: %w", resource, st.Err))
	}
	return st, nil
}

// Inbox returns the conversation threads of a message channel.
func (a *OpsApp) Inbox(ctx context.Context, channel string) ([]desk.Thread, error) {
	if channel != ResourceSMS && channel != ResourceEmail {
		return nil, a.op.Record(fmt.Errorf("unknown channel %q", channel))
	}
	st, err := a.Snapshot(ctx, channel)
	if err != nil {
		return nil, err
	}
	return st.Threads, nil
}

// Watch polls resource and calls fn after every change until ctx is done.
func (a *OpsApp) Watch(ctx context.Context, resource string, fn func(desk.FeedState)) error {
	if err := a.enter(ctx, routeFor(resource)); err != nil {
		return a.op.Record(err)
	}
	f, err := a.Feed(resource)
	if err != nil {
		return a.op.Record(err)
	}
	f.OnChange(fn)
	f.Start(ctx)
	<-ctx.Done()
	f.Stop()
	f.Wait()
	return nil
}

// WatchDashboard polls the dashboard metrics and calls fn after every tick
// until ctx is done.
func (a *OpsApp) WatchDashboard(ctx context.Context, fn func(desk.PollState[DashboardData])) error {
	if err := a.enter(ctx, desk.RouteDashboard); err != nil {
		return a.op.Record(err)
	}
	p := a.Dashboard()
	p.OnUpdate(fn)
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	p.Wait()
	return nil
}

// Dashboard returns a stopped dashboard poller on the analytics cadence.
func (a *OpsApp) Dashboard() *desk.Poller[DashboardData] {
	return NewDashboard(a.client, a.cfg.Poll.SummaryDays, a.cfg.Poll.Analytics.Duration, a.clock, a.logger)
}

// SendSMS shows the message as pending right away and sends it.
func (a *OpsApp) SendSMS(ctx context.Context, to, body string) (desk.Record, error) {
	if err := a.enter(ctx, RouteMessages); err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	f, err := a.Feed(ResourceSMS)
	if err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	rec, err := f.Send(ctx, desk.Record{Counterparty: to, Body: body},
		func(ctx context.Context, provisional desk.Record) (desk.Record, error) {
			return a.client.SendSMS(ctx, provisional.Counterparty, provisional.Body)
		})
	if err != nil {
		return desk.Record{}, a.op.Record(fmt.Errorf("sending sms: %w", err))
	}
	return rec, nil
}

// SendEmail shows the email as pending right away and sends it.
func (a *OpsApp) SendEmail(ctx context.Context, to, subject, body string) (desk.Record, error) {
	if err := a.enter(ctx, RouteMessages); err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	f, err := a.Feed(ResourceEmail)
	if err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	rec, err := f.Send(ctx, desk.Record{Counterparty: to, Subject: subject, Body: body},
		func(ctx context.Context, provisional desk.Record) (desk.Record, error) {
			return a.client.SendEmail(ctx, provisional.Counterparty, provisional.Subject, provisional.Body)
		})
	if err != nil {
		return desk.Record{}, a.op.Record(fmt.Errorf("sending email: %w", err))
	}
	return rec, nil
}

// Appointments lists appointments.
func (a *OpsApp) Appointments(ctx context.Context) ([]desk.Record, error) {
	st, err := a.Snapshot(ctx, ResourceAppointments)
	return st.Records, err
}

// CreateAppointment books an appointment, shown as pending until the
// backend answers.
func (a *OpsApp) CreateAppointment(ctx context.Context, req remote.AppointmentRequest) (desk.Record, error) {
	if err := a.enter(ctx, RouteAppointments); err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	f, err := a.Feed(ResourceAppointments)
	if err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	draft := desk.Record{
		Counterparty:  req.CustomerPhone,
		Body:          req.Notes,
		Status:        "pending",
		RequestedTime: req.RequestedTime,
	}
	rec, err := f.Send(ctx, draft, func(ctx context.Context, _ desk.Record) (desk.Record, error) {
		return a.client.CreateAppointment(ctx, req)
	})
	if err != nil {
		return desk.Record{}, a.op.Record(fmt.Errorf("creating appointment: %w", err))
	}
	return rec, nil
}

// ErrNotFound is returned for ids the backend does not list.
var ErrNotFound = errors.New("not found")

// UpdateAppointment applies upd to appointment id, showing the change
// right away and reverting it if the backend refuses.
func (a *OpsApp) UpdateAppointment(ctx context.Context, id string, upd remote.AppointmentUpdate) (desk.Record, error) {
	if err := a.enter(ctx, RouteAppointments); err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	f, err := a.synced(ResourceAppointments)
	if err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	current, ok := f.Find(id)
	if !ok {
		return desk.Record{}, a.op.Record(fmt.Errorf("appointment %s: %w", id, ErrNotFound))
	}

	updated := current
	if upd.Status != "" {
		updated.Status = upd.Status
	}
	if !upd.ConfirmedTime.IsZero() {
		updated.ConfirmedTime = upd.ConfirmedTime
	}
	if upd.Notes != "" {
		updated.Body = upd.Notes
	}
	rec, err := f.Update(ctx, updated, func(ctx context.Context, _ desk.Record) (desk.Record, error) {
		return a.client.UpdateAppointment(ctx, id, upd)
	})
	if err != nil {
		return desk.Record{}, a.op.Record(fmt.Errorf("updating appointment %s: %w", id, err))
	}
	return rec, nil
}

// Calls lists call logs.
func (a *OpsApp) Calls(ctx context.Context) ([]desk.Record, error) {
	st, err := a.Snapshot(ctx, ResourceCalls)
	return st.Records, err
}

// Call returns one call log.
func (a *OpsApp) Call(ctx context.Context, id string) (desk.Record, error) {
	if err := a.enter(ctx, RouteCalls); err != nil {
		return desk.Record{}, a.op.Record(err)
	}
	rec, ok, err := a.client.Call(ctx, id)
	if err != nil {
		return desk.Record{}, a.op.Record(fmt.Errorf("fetching call %s: %w", id, err))
	}
	if !ok {
		return desk.Record{}, a.op.Record(fmt.Errorf("call %s: %w", id, ErrNotFound))
	}
	return rec, nil
}

// Analytics returns the basic metrics when channel is empty, otherwise the
// metrics of one channel view.
func (a *OpsApp) Analytics(ctx context.Context, channel, view string) (remote.Metrics, error) {
	if err := a.enter(ctx, RouteAnalytics); err != nil {
		return nil, a.op.Record(err)
	}
	var (
		m   remote.Metrics
		err error
	)
	if channel == "" {
		m, err = a.client.BasicAnalytics(ctx)
	} else {
		m, err = a.client.ChannelAnalytics(ctx, channel, view)
	}
	return m, a.op.Record(err)
}

// Close stops every feed, closes the session store and the log.
func (a *OpsApp) Close() error {
	var firstErr error

	a.cancel()
	a.mu.Lock()
	feeds := make([]*desk.Feed, 0, len(a.feeds))
	for _, f := range a.feeds {
		feeds = append(feeds, f)
	}
	a.mu.Unlock()
	for _, f := range feeds {
		f.Stop()
		f.Wait()
	}

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing session store: %w", err)
	}

	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", a.clock.Now().Sub(a.op.StartedAt),
	)
	_ = a.zl.Sync()
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
