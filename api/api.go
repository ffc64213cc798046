package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/eduportal/reports"
	"github.com/jmcleod/eduportal/session"
	"github.com/jmcleod/eduportal/upstream"
)

// DefaultSessionTTL is how long after the last upstream login a session is
// still reported as authenticated.
const DefaultSessionTTL = 20 * time.Minute

// API holds the dependencies needed by the REST handlers.
type API struct {
	client   *upstream.Client
	gateway  *upstream.Gateway
	sessions *session.Store

	sessionTTL time.Duration
	now        func() time.Time

	rateLimiter    *loginRateLimiter
	ipLimiter      *ipRateLimiter
	globalLimiter  *globalRateLimiter
	trustedProxies []netip.Prefix

	audit   *auditLogger
	alertFn AlertFunc
	webhook *auditWebhook
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithTrustedProxies lists the proxies whose forwarding headers are honoured
// when rate limiting by client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.sessionTTL = ttl
		}
	}
}

// WithClock sets the time source used for session age checks.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithAlertFunc registers a callback for login failure spikes and upstream
// outages.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event to url. authHeader is an
// optional "Header: Value" pair sent with each request.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		if url != "" {
			a.webhook = newAuditWebhook(url, authHeader)
		}
	}
}

// New creates a new API instance on top of an upstream client and a session
// cookie store.
func New(client *upstream.Client, sessions *session.Store, opts ...Option) *API {
	a := &API{
		client:        client,
		gateway:       upstream.NewGateway(client),
		sessions:      sessions,
		sessionTTL:    DefaultSessionTTL,
		now:           time.Now,
		rateLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	a.audit.webhook = a.webhook
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted. The router is
// meant to be mounted at /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/refresh", a.Refresh)
	r.Post("/auth/logout", a.Logout)
	r.Get("/auth/session", a.Session)
	r.Get("/user/info", a.UserInfo)

	r.Get("/schedule", reportHandler(a, reports.SchedulePath, reports.ParseSchedule))
	r.Get("/schedule/{id}", a.ClassDetail)
	r.Get("/attendance", reportHandler(a, reports.AttendancePath, reports.ParseAttendance))
	r.Get("/attendance/overview", a.AttendanceOverview)
	r.Get("/grades", reportHandler(a, reports.GradesPath, reports.ParseGrades))
	r.Post("/grades/detail", a.GradeDetail)
	r.Get("/history", reportHandler(a, reports.HistoryPath, reports.ParseHistory))

	return r
}
