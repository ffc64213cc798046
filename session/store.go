// Package session keeps the upstream cookies and login metadata in an
// encrypted, authenticated browser cookie. Nothing is stored server side.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/jmcleod/eduportal/internal/util"
	"github.com/jmcleod/eduportal/upstream"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "eduportal_session"
	// MaxAge is the lifetime of the session cookie.
	MaxAge = 7 * 24 * time.Hour

	minSecretLen = 32
)

var (
	// ErrNoSession is returned when an update needs an existing session.
	ErrNoSession = errors.New("no session")
	// ErrInvalidCookies is returned when the upstream cookies lack the
	// session id or auth token.
	ErrInvalidCookies = errors.New("upstream cookies missing session id or auth token")
)

// ServerSession is the payload of the session cookie.
type ServerSession struct {
	Cookies             upstream.CookieSet `json:"cookies"`
	LastExternalLoginAt time.Time          `json:"lastExternalLoginAt"`
	UserIdentifier      string             `json:"userIdentifier,omitempty"`
}

// Expired reports whether the last upstream login is older than ttl.
func (s *ServerSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastExternalLoginAt) > ttl
}

// Store encodes sessions into cookies.
type Store struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSecureCookies marks the cookie Secure. Enable it whenever the portal is
// served over HTTPS.
func WithSecureCookies(secure bool) Option {
	return func(s *Store) { s.secure = secure }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore derives the cookie hash and encryption keys from secret.
func NewStore(secret []byte, opts ...Option) (*Store, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	hashKey, err := util.HKDF(secret, nil, []byte("eduportal session hmac"))
	if err != nil {
		return nil, fmt.Errorf("deriving session hash key: %w", err)
	}
	blockKey, err := util.HKDF(secret, nil, []byte("eduportal session aes"))
	if err != nil {
		return nil, fmt.Errorf("deriving session block key: %w", err)
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(MaxAge / time.Second))

	s := &Store{codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load decodes the session cookie of r. The returned Handle writes updates to
// w and sees its own writes for the rest of the request.
func (s *Store) Load(w http.ResponseWriter, r *http.Request) *Handle {
	h := &Handle{store: s, w: w}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return h
	}
	var sess ServerSession
	if err := s.codec.Decode(CookieName, cookie.Value, &sess); err != nil {
		return h
	}
	h.current = &sess
	return h
}

// Handle is the session of one request.
type Handle struct {
	store   *Store
	w       http.ResponseWriter
	current *ServerSession
}

// Read returns a copy of the session, or nil when there is none or the cookie
// could not be decrypted.
func (h *Handle) Read() *ServerSession {
	if h.current == nil {
		return nil
	}
	cp := *h.current
	if h.current.Cookies.Extra != nil {
		cp.Cookies.Extra = make(map[string]string, len(h.current.Cookies.Extra))
		for k, v := range h.current.Cookies.Extra {
			cp.Cookies.Extra[k] = v
		}
	}
	return &cp
}

// Create starts a new session for cookies, dropping any previous one.
func (h *Handle) Create(cookies upstream.CookieSet) error {
	if !cookies.Valid() {
		return ErrInvalidCookies
	}
	return h.write(&ServerSession{
		Cookies:             cookies,
		LastExternalLoginAt: h.store.now().UTC(),
	})
}

// UpdateCookies replaces the upstream cookies after a re-login, keeping the
// user identifier.
func (h *Handle) UpdateCookies(cookies upstream.CookieSet) error {
	if !cookies.Valid() {
		return ErrInvalidCookies
	}
	if h.current == nil {
		return ErrNoSession
	}
	next := *h.current
	next.Cookies = cookies
	next.LastExternalLoginAt = h.store.now().UTC()
	return h.write(&next)
}

// AssignUserIdentifier records the identifier of the logged in student.
func (h *Handle) AssignUserIdentifier(id string) error {
	if h.current == nil {
		return ErrNoSession
	}
	next := *h.current
	next.UserIdentifier = id
	return h.write(&next)
}

// Destroy clears the session cookie.
func (h *Handle) Destroy() {
	h.current = nil
	h.setCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.store.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (h *Handle) write(sess *ServerSession) error {
	value, err := h.store.codec.Encode(CookieName, sess)
	if err != nil {
		return fmt.Errorf("encoding session cookie: %w", err)
	}
	h.setCookie(&http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.store.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(MaxAge / time.Second),
	})
	h.current = sess
	return nil
}

// setCookie replaces any session cookie already queued on the response, so
// several writes in one request send a single Set-Cookie.
func (h *Handle) setCookie(c *http.Cookie) {
	header := h.w.Header()
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, CookieName+"=") {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}
	http.SetCookie(h.w, c)
}
