// Package portal is the client side of the local API: a long-lived session
// manager that keeps the server session alive from locally stored
// credentials, and a fetcher that recovers from expired sessions
// transparently.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/eduportal/credstore"
)

const (
	sessionPath = "/auth/session"
	refreshPath = "/auth/refresh"
	loginPath   = "/auth/login"
	logoutPath  = "/auth/logout"
)

// Status is the manager's view of the server session.
type Status string

const (
	StatusActive     Status = "active"
	StatusRefreshing Status = "refreshing"
	StatusExpired    Status = "expired"
	StatusError      Status = "error"
)

// DisconnectReason records why the last logout happened.
type DisconnectReason string

const (
	ReasonSessionExpired     DisconnectReason = "session_expired"
	ReasonInvalidCredentials DisconnectReason = "invalid_credentials"
	ReasonServerError        DisconnectReason = "server_error"
	ReasonNetworkError       DisconnectReason = "network_error"
	ReasonUserLogout         DisconnectReason = "user_logout"
)

// User identifies the student bound to the server session.
type User struct {
	Identifier string
}

// State is a snapshot of the manager. A nil User with StatusActive is the
// initial, not yet checked state.
type State struct {
	User            *User
	Status          Status
	LastCheckedAt   time.Time
	LastRefreshedAt time.Time
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Identifier == b.Identifier
}

// Timings groups the manager's intervals.
type Timings struct {
	// CheckInterval is the period of the liveness loop started by Start.
	CheckInterval time.Duration
	// SessionTTL mirrors the server's session lifetime.
	SessionTTL time.Duration
	// PreemptiveMargin is how long before SessionTTL a refresh is triggered.
	PreemptiveMargin time.Duration
	// RequestTimeout bounds every check, refresh, login and logout call.
	RequestTimeout time.Duration
	// MinRefreshDelay is the minimum time between a refresh POST starting
	// and the confirming check.
	MinRefreshDelay time.Duration
	// ReconnectDelay is the wait between a successful login and the check.
	ReconnectDelay time.Duration
	// ReconnectSettle is the pause after a background reconnect succeeds.
	ReconnectSettle time.Duration
	// CacheTTL is how long a silent check may reuse an active result.
	CacheTTL time.Duration
	// StaleAfter is the age past which VisibilityRegained re-checks.
	StaleAfter time.Duration
}

// DefaultTimings returns the production intervals.
func DefaultTimings() Timings {
	return Timings{
		CheckInterval:    2 * time.Minute,
		SessionTTL:       20 * time.Minute,
		PreemptiveMargin: 5 * time.Minute,
		RequestTimeout:   15 * time.Second,
		MinRefreshDelay:  500 * time.Millisecond,
		ReconnectDelay:   time.Second,
		ReconnectSettle:  1500 * time.Millisecond,
		CacheTTL:         10 * time.Second,
		StaleAfter:       time.Minute,
	}
}

// Manager tracks the server session for one client. Exactly one check and
// one refresh (or reconnect) are in flight at any time; later callers share
// the in-flight result.
type Manager struct {
	baseURL string
	client  *http.Client
	creds   credstore.Store
	logger  *slog.Logger
	now     func() time.Time
	timings Timings

	group      singleflight.Group
	refreshing atomic.Int32

	mu         sync.Mutex
	state      State
	reason     DisconnectReason
	listeners  map[int]func(State)
	nextID     int
	background chan struct{}
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the HTTP client. The client needs a cookie jar for
// the session cookie to survive between calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source used for state timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTimings overrides the default intervals.
func WithTimings(t Timings) Option {
	return func(m *Manager) { m.timings = t }
}

// New returns a Manager talking to the local API rooted at baseURL, for
// example "http://localhost:8080/api".
func New(baseURL string, creds credstore.Store, opts ...Option) *Manager {
	jar, _ := cookiejar.New(nil)
	m := &Manager{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Jar: jar},
		creds:     creds,
		logger:    slog.Default(),
		now:       time.Now,
		timings:   DefaultTimings(),
		state:     State{Status: StatusActive},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type managerKey struct{}

// WithManager returns a context carrying m.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// FromContext returns the Manager stored by WithManager.
func FromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerKey{}).(*Manager)
	return m, ok
}

func (m *Manager) endpoint(path string) string {
	return m.baseURL + path
}

// Current returns a snapshot of the state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// DisconnectReason returns the reason given to the last Logout, or "".
func (m *Manager) DisconnectReason() DisconnectReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// ClearDisconnectReason forgets the last logout reason.
func (m *Manager) ClearDisconnectReason() {
	m.mu.Lock()
	m.reason = ""
	m.mu.Unlock()
}

// Subscribe registers fn to receive the state after every status or user
// change. The returned func removes the subscription.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// update applies fn to the state under the lock and notifies subscribers
// when the status or the user changed.
func (m *Manager) update(fn func(*State)) State {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	next := m.state.clone()
	changed := prev.Status != next.Status || !sameUser(prev.User, next.User)
	var listeners []func(State)
	if changed {
		listeners = m.snapshotListeners()
	}
	m.mu.Unlock()

	if changed {
		m.logger.Debug("session state changed", "from", prev.Status, "to", next.Status)
		for _, l := range listeners {
			l(next)
		}
	}
	return next
}


func (m *Manager) snapshotListeners() []func(State) {
	out := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

// MarkSessionActive records that an authenticated call just succeeded.
func (m *Manager) MarkSessionActive() {
	now := m.now()
	m.update(func(s *State) {
		s.LastCheckedAt = now
		s.LastRefreshedAt = now
	})
}

// IsRefreshing reports whether a refresh or reconnect is in flight.
func (m *Manager) IsRefreshing() bool {
	return m.refreshing.Load() > 0 || m.Current().Status == StatusRefreshing
}

type sessionBody struct {
	Authenticated       bool    `json:"authenticated"`
	LastExternalLoginAt *int64  `json:"lastExternalLoginAt"`
	RA                  *string `json:"ra"`
}

// CheckSession queries the server session. A silent check returns the cached
// state without a network call while a confirmed active result is younger
// than CacheTTL. Concurrent checks share one request.
func (m *Manager) CheckSession(ctx context.Context, silent bool) State {
	if silent {
		m.mu.Lock()
		st := m.state.clone()
		fresh := st.Status == StatusActive && st.User != nil &&
			m.now().Sub(st.LastCheckedAt) < m.timings.CacheTTL
		m.mu.Unlock()
		if fresh {
			return st
		}
	}

	ch := m.group.DoChan("check", func() (any, error) {
		return m.fetchState(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		return m.Current()
	}
}

func (m *Manager) fetchState(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, m.timings.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint(sessionPath), nil)
	if err != nil {
		return m.update(func(s *State) { s.Status = StatusError })
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("session check failed", "error", err)
		now := m.now()
		return m.update(func(s *State) {
			if s.Status == StatusActive && s.User != nil {
				return
			}
			s.Status = StatusError
			s.LastCheckedAt = now
		})
	}
	defer resp.Body.Close()

	now := m.now()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body sessionBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			m.logger.Debug("decoding session check", "error", err)
		}
		refreshed := now
		if body.LastExternalLoginAt != nil {
			refreshed = time.UnixMilli(*body.LastExternalLoginAt)
		}
		user := &User{}
		if body.RA != nil {
			user.Identifier = *body.RA
		}
		return m.update(func(s *State) {
			s.User = user
			s.Status = StatusActive
			s.LastCheckedAt = now
			s.LastRefreshedAt = refreshed
		})
	case resp.StatusCode == http.StatusUnauthorized:
		return m.update(func(s *State) {
			s.Status = StatusExpired
			s.LastCheckedAt = now
		})
	default:
		return m.update(func(s *State) {
			s.Status = StatusError
			s.LastCheckedAt = now
		})
	}
}

// RefreshSession re-logs in through the refresh endpoint with the stored
// credentials and confirms the result with a fresh check. It returns false
// when no credentials are stored.
func (m *Manager) RefreshSession(ctx context.Context) bool {
	return m.renew(ctx, refreshPath, false)
}

// Reconnect is RefreshSession through the login endpoint, used when no server
// session exists at all.
func (m *Manager) Reconnect(ctx context.Context) bool {
	return m.renew(ctx, loginPath, true)
}

func (m *Manager) renew(ctx context.Context, path string, reconnect bool) bool {
	ch := m.group.DoChan("refresh", func() (any, error) {
		m.refreshing.Add(1)
		defer m.refreshing.Add(-1)
		return m.doRenew(context.WithoutCancel(ctx), path, reconnect), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) doRenew(ctx context.Context, path string, reconnect bool) bool {
	creds, err := m.creds.Load()
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			m.logger.Warn("loading stored credentials", "error", err)
		}
		return false
	}

	m.update(func(s *State) { s.Status = StatusRefreshing })
	start := time.Now()

	status, err := m.postCredentials(ctx, path, creds)
	if err != nil {
		m.logger.Debug("session renewal failed", "path", path, "error", err)
		m.update(func(s *State) { s.Status = StatusError })
		return false
	}

	if status >= 200 && status < 300 {
		wait := m.timings.ReconnectDelay
		if !reconnect {
			wait = m.timings.MinRefreshDelay - time.Since(start)
		}
		if err := sleep(ctx, wait); err != nil {
			return false
		}
		st := m.CheckSession(ctx, false)
		if st.Status == StatusActive && st.User != nil {
			now := m.now()
			m.update(func(s *State) {
				s.Status = StatusActive
				s.LastRefreshedAt = now
			})
			return true
		}
		if st.Status == StatusError {
			return false
		}
		m.expire(reconnect)
		return false
	}

	switch {
	case status >= 500:
		m.update(func(s *State) { s.Status = StatusError })
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		if err := m.creds.Clear(); err != nil {
			m.logger.Warn("clearing rejected credentials", "error", err)
		}
		m.expire(reconnect)
	default:
		m.update(func(s *State) { s.Status = StatusError })
	}
	return false
}

func (m *Manager) expire(clearUser bool) {
	m.update(func(s *State) {
		s.Status = StatusExpired
		if clearUser {
			s.User = nil
		}
	})
}

// postCredentials POSTs creds to path and returns the response status.
func (m *Manager) postCredentials(ctx context.Context, path string, creds credstore.Credentials) (int, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timings.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Login authenticates with creds and stores them for later refreshes. A
// rejected login returns an *APIError carrying the server's code.
func (m *Manager) Login(ctx context.Context, creds credstore.Credentials) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timings.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(loginPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		m.update(func(s *State) { s.Status = StatusError })
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if err := m.creds.Save(creds); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	m.ClearDisconnectReason()
	m.CheckSession(ctx, false)
	return nil
}

// Logout ends the server session, stops the liveness loop and marks the
// state expired. The state changes even when the logout call fails.
func (m *Manager) Logout(ctx context.Context, reason DisconnectReason) error {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()

	defer func() {
		m.Stop()
		m.update(func(s *State) {
			s.User = nil
			s.Status = StatusExpired
		})
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timings.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(logoutPath), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ShouldRefreshPreemptively reports whether an active session is close
// enough to the server TTL to be renewed ahead of time.
func (m *Manager) ShouldRefreshPreemptively() bool {
	st := m.Current()
	if st.User == nil || st.Status != StatusActive {
		return false
	}
	return m.now().Sub(st.LastRefreshedAt) > m.timings.SessionTTL-m.timings.PreemptiveMargin
}

// PreemptiveRefreshIfNeeded refreshes when ShouldRefreshPreemptively and no
// refresh is already running. It returns true when nothing was needed.
func (m *Manager) PreemptiveRefreshIfNeeded(ctx context.Context) bool {
	if m.ShouldRefreshPreemptively() && !m.IsRefreshing() {
		return m.RefreshSession(ctx)
	}
	return true
}

// Start runs the liveness loop until Stop is called or ctx is done. Calling
// Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stopLoop = cancel
	m.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.timings.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop ends the liveness loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.stopLoop, m.loopDone
	m.stopLoop, m.loopDone = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) tick(ctx context.Context) {
	st := m.Current()
	if st.User == nil || st.Status != StatusActive {
		return
	}
	// An expired check has already notified subscribers through update.
	if m.CheckSession(ctx, true).Status == StatusExpired {
		return
	}
	m.PreemptiveRefreshIfNeeded(ctx)
}

// VisibilityRegained is called when the user comes back to the client after
// a while. When the last check is older than StaleAfter it starts a
// background reconcile: check, then reconnect if the session expired.
// WaitForBackgroundReconnect blocks until that reconcile settles.
func (m *Manager) VisibilityRegained(ctx context.Context) {
	m.mu.Lock()
	if m.state.User == nil || m.background != nil ||
		m.now().Sub(m.state.LastCheckedAt) <= m.timings.StaleAfter {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.background = done
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.background = nil
			m.mu.Unlock()
			close(done)
		}()
		m.reconcile(context.WithoutCancel(ctx))
	}()
}

func (m *Manager) reconcile(ctx context.Context) bool {
	st := m.CheckSession(ctx, false)
	if st.Status != StatusExpired {
		return m.PreemptiveRefreshIfNeeded(ctx)
	}
	if !m.Reconnect(ctx) {
		return false
	}
	_ = sleep(ctx, m.timings.ReconnectSettle)
	return true
}

// WaitForBackgroundReconnect blocks until a reconcile started by
// VisibilityRegained finishes.
func (m *Manager) WaitForBackgroundReconnect(ctx context.Context) error {
	m.mu.Lock()
	done := m.background
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
