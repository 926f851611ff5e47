package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"opsdesk/internal/desk"
)

// Envelope shapes the fake backend can wrap list responses in.
const (
	EnvelopeArray = "array"
	EnvelopeItems = "items"
	EnvelopeData  = "data"
	EnvelopeNamed = "named"
)

// Resources held by the fake backend.
const (
	ResourceSMS          = "sms"
	ResourceEmail        = "email"
	ResourceCalls        = "calls"
	ResourceAppointments = "appointments"
)

// wireTimeLayout is zone-less, the way the real backend writes timestamps.
const wireTimeLayout = "2006-01-02T15:04:05"

// Backend is an in-process fake of the opsdesk REST API built on gin.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	clock     desk.Clock
	token     string
	status    desk.SessionStatus
	envelope  string
	records   map[string][]desk.Record
	nextID    int
	failures  map[string]int
	blocks    map[string]chan struct{}
	requests  []string
	analytics map[string]gin.H
}

// NewBackend starts a fake backend that accepts the bearer token "test-token".
// It is shut down when the test completes.
func NewBackend(t testing.TB, clock desk.Clock) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := &Backend{
		clock:    clock,
		token:    "test-token",
		envelope: EnvelopeArray,
		records:  make(map[string][]desk.Record),
		nextID:   100,
		failures: make(map[string]int),
		blocks:   make(map[string]chan struct{}),
		analytics: map[string]gin.H{
			"basic": {"total_messages": 0, "total_calls": 0},
		},
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(func() {
		b.releaseAll()
		b.Server.Close()
	})
	return b
}

// URL is the base URL of the fake.
func (b *Backend) URL() string { return b.Server.URL }

// Token is the bearer token the fake accepts.
func (b *Backend) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// SetToken changes the accepted token; requests with the old one get 401.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// SetStatus sets the lifecycle flags /auth/me reports.
func (b *Backend) SetStatus(st desk.SessionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = st
}

// SetEnvelope selects the list wrapper shape.
func (b *Backend) SetEnvelope(shape string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelope = shape
}

// Seed appends records to a resource.
func (b *Backend) Seed(resource string, recs ...desk.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[resource] = append(b.records[resource], recs...)
}

// Records returns a copy of a resource's records.
func (b *Backend) Records(resource string) []desk.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]desk.Record(nil), b.records[resource]...)
}

// SetAnalytics sets the payload of /analytics/basic ("basic") or
// /analytics/{channel}/{view} ("channel/view").
func (b *Backend) SetAnalytics(key string, payload gin.H) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analytics[key] = payload
}

// Fail makes every request to route ("METHOD /path") answer status until
// Fail is called again with status 0.
func (b *Backend) Fail(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = status
}

// Block holds requests to route until the returned release is called.
func (b *Backend) Block(route string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.blocks[route] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.blocks[route] == ch {
				delete(b.blocks, route)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Backend) releaseAll() {
	b.mu.Lock()
	blocks := b.blocks
	b.blocks = make(map[string]chan struct{})
	b.mu.Unlock()
	for _, ch := range blocks {
		close(ch)
	}
}

// Requests returns every "METHOD /path" served so far, in order.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Count returns how many times route was requested.
func (b *Backend) Count(route string) int {
	n := 0
	for _, r := range b.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

func (b *Backend) router() *gin.Engine {
	r := gin.New()
	r.Use(b.record, b.inject)

	auth := r.Group("/auth")
	auth.POST("/login", b.login)
	auth.POST("/signup", b.signup)

	api := r.Group("/", b.requireToken)
	api.GET("/auth/me", b.me)
	api.POST("/auth/logout", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api.GET("/sms/messages", b.list(ResourceSMS, "messages"))
	api.POST("/sms/send", b.send(ResourceSMS, "message"))
	api.GET("/email/messages", b.list(ResourceEmail, "emails"))
	api.GET("/email/thread/:id", b.emailThread)
	api.POST("/email/send", b.send(ResourceEmail, "email"))
	api.GET("/voice/logs", b.list(ResourceCalls, "logs"))
	api.GET("/voice/logs/:id", b.show(ResourceCalls, "log"))
	api.GET("/appointments", b.list(ResourceAppointments, "appointments"))
	api.POST("/appointments", b.createAppointment)
	api.GET("/appointments/summary", b.appointmentSummary)
	api.PUT("/appointments/:id", b.updateAppointment)
	api.GET("/analytics/basic", b.analyticsFor(func(*gin.Context) string { return "basic" }))
	api.GET("/analytics/:channel/:view", b.analyticsFor(func(c *gin.Context) string {
		return c.Param("channel") + "/" + c.Param("view")
	}))
	return r
}

func (b *Backend) record(c *gin.Context) {
	b.mu.Lock()
	b.requests = append(b.requests, c.Request.Method+" "+c.Request.URL.Path)
	b.mu.Unlock()
	c.Next()
}

func (b *Backend) inject(c *gin.Context) {
	route := c.Request.Method + " " + c.Request.URL.Path
	b.mu.Lock()
	status := b.failures[route]
	block := b.blocks[route]
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}
	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"detail": fmt.Sprintf("injected failure %d", status)})
		return
	}
	c.Next()
}

func (b *Backend) requireToken(c *gin.Context) {
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if got == "" || got != b.Token() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	c.Next()
}

func (b *Backend) flags() gin.H {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gin.H{
		"business_setup_complete": b.status.BusinessSetupComplete,
		"payment_complete":        b.status.PaymentComplete,
	}
}

func (b *Backend) login(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Email == "" || in.Password == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "email and password are required"}}})
		return
	}
	if in.Password == "wrong" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": b.Token(), "token_type": "bearer", "user": b.flags()})
}

func (b *Backend) signup(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Email == "" || in.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": b.Token(), "business_setup_complete": false, "payment_complete": false})
}

func (b *Backend) me(c *gin.Context) {
	c.JSON(http.StatusOK, b.flags())
}

func (b *Backend) wrap(key string, items []gin.H) any {
	b.mu.Lock()
	shape := b.envelope
	b.mu.Unlock()
	switch shape {
	case EnvelopeItems:
		return gin.H{"items": items, "total": len(items)}
	case EnvelopeData:
		return gin.H{"data": items}
	case EnvelopeNamed:
		return gin.H{key: items}
	default:
		return items
	}
}

func (b *Backend) list(resource, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs := b.Records(resource)
		items := make([]gin.H, 0, len(recs))
		for _, r := range recs {
			items = append(items, wireRecord(resource, r))
		}
		c.JSON(http.StatusOK, b.wrap(key, items))
	}
}

func (b *Backend) show(resource, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, r := range b.Records(resource) {
			if r.ID == c.Param("id") {
				c.JSON(http.StatusOK, gin.H{key: wireRecord(resource, r)})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	}
}

func (b *Backend) emailThread(c *gin.Context) {
	recs := b.Records(ResourceEmail)
	var counterparty string
	for _, r := range recs {
		if r.ID == c.Param("id") {
			counterparty = r.Counterparty
		}
	}
	if counterparty == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "thread not found"})
		return
	}
	items := []gin.H{}
	for _, r := range recs {
		if r.Counterparty == counterparty {
			items = append(items, wireRecord(ResourceEmail, r))
		}
	}
	c.JSON(http.StatusOK, gin.H{"thread": items})
}

func (b *Backend) newID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return strconv.Itoa(b.nextID)
}

func (b *Backend) now() time.Time {
	return b.clock.Now().UTC()
}

func (b *Backend) send(resource, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			To      string `json:"to"`
			Subject string `json:"subject"`
			Message string `json:"message"`
			Body    string `json:"body"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.To == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "recipient is required"})
			return
		}
		body := in.Message
		if body == "" {
			body = in.Body
		}
		if body == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "message body is empty"})
			return
		}
		rec := desk.Record{
			ID:           b.newID(),
			Counterparty: in.To,
			Direction:    desk.Outgoing,
			Body:         body,
			Subject:      in.Subject,
			CreatedAt:    b.now(),
			Status:       "sent",
		}
		b.Seed(resource, rec)
		c.JSON(http.StatusCreated, gin.H{key: wireRecord(resource, rec)})
	}
}

func (b *Backend) createAppointment(c *gin.Context) {
	var in struct {
		CustomerPhone string    `json:"customer_phone"`
		RequestedTime time.Time `json:"requested_time"`
		Notes         string    `json:"notes"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.CustomerPhone == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "customer_phone is required"})
		return
	}
	rec := desk.Record{
		ID:            b.newID(),
		Counterparty:  in.CustomerPhone,
		Direction:     desk.Incoming,
		Body:          in.Notes,
		CreatedAt:     b.now(),
		Status:        "pending",
		RequestedTime: in.RequestedTime.UTC(),
	}
	b.Seed(ResourceAppointments, rec)
	c.JSON(http.StatusCreated, gin.H{"data": wireRecord(ResourceAppointments, rec)})
}

func (b *Backend) updateAppointment(c *gin.Context) {
	var in struct {
		Status        string    `json:"status"`
		ConfirmedTime time.Time `json:"confirmed_time"`
		Notes         string    `json:"notes"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	switch in.Status {
	case "", "pending", "confirmed", "cancelled", "completed":
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid status " + in.Status})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	recs := b.records[ResourceAppointments]
	for i := range recs {
		if recs[i].ID != c.Param("id") {
			continue
		}
		if in.Status != "" {
			recs[i].Status = in.Status
		}
		if !in.ConfirmedTime.IsZero() {
			recs[i].ConfirmedTime = in.ConfirmedTime.UTC()
		}
		if in.Notes != "" {
			recs[i].Body = in.Notes
		}
		c.JSON(http.StatusOK, gin.H{"appointment": wireRecord(ResourceAppointments, recs[i])})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "appointment not found"})
}

func (b *Backend) appointmentSummary(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "days must be a positive integer"})
		return
	}
	counts := map[string]int{}
	recs := b.Records(ResourceAppointments)
	for _, r := range recs {
		counts[r.Status]++
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"days":      days,
		"total":     len(recs),
		"pending":   counts["pending"],
		"confirmed": counts["confirmed"],
	}})
}

func (b *Backend) analyticsFor(key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		payload, ok := b.analytics[key(c)]
		b.mu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "no analytics for " + key(c)})
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

// wireRecord renders r with the field names the real endpoints use.
func wireRecord(resource string, r desk.Record) gin.H {
	direction := "inbound"
	if r.Direction == desk.Outgoing {
		direction = "outbound"
	}
	h := gin.H{
		"direction":  direction,
		"created_at": r.CreatedAt.UTC().Format(wireTimeLayout),
	}
	if n, err := strconv.Atoi(r.ID); err == nil {
		h["id"] = n
	} else {
		h["id"] = r.ID
	}
	if r.AIResponse != "" {
		h["ai_response"] = r.AIResponse
	}
	if r.Read {
		h["is_read"] = true
	}
	if r.Status != "" {
		h["status"] = r.Status
	}

	switch resource {
	case ResourceSMS:
		h["phone_number"] = r.Counterparty
		h["message"] = r.Body
	case ResourceEmail:
		if r.Direction == desk.Outgoing {
			h["to_email"] = r.Counterparty
		} else {
			h["from_email"] = r.Counterparty
		}
		h["subject"] = r.Subject
		h["body"] = r.Body
	case ResourceCalls:
		h["caller_number"] = r.Counterparty
		h["summary"] = r.Body
		h["duration"] = r.DurationSeconds
	case ResourceAppointments:
		h["customer_phone"] = r.Counterparty
		h["notes"] = r.Body
		if !r.RequestedTime.IsZero() {
			h["requested_time"] = r.RequestedTime.UTC().Format(time.RFC3339)
		}
		if !r.ConfirmedTime.IsZero() {
			h["confirmed_time"] = r.ConfirmedTime.UTC().Format(time.RFC3339)
		}
	default:
		h["counterparty"] = r.Counterparty
		h["body"] = r.Body
	}
	return h
}
