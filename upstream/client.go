// Package upstream talks to the TOTVS EduConnect web application: the mobile
// login handshake, academic period negotiation and report page fetches.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

const (
	// DefaultInstitution is the CodInstituicao sent with the mobile login.
	DefaultInstitution = "72BB435F-69CC-48BF-9E3D-7F7190394DDF"
	// DefaultAppTitle is the TitleApp sent with the mobile login.
	DefaultAppTitle = "CMMG"
	// DefaultAppVersion is the VersionAPP the mobile login contract expects.
	DefaultAppVersion = "08.2510:11"

	userAgent      = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "pt-BR,pt;q=0.9"

	loginPath      = "/EducaMobile/Account/LoginExternoApp"
	homePath       = "/EducaMobile/Home/Index"
	getContextPath = "/EducaMobile/Educacional/EduContexto/GetContextoAluno"
	setContextPath = "/EducaMobile/Educacional/EduContexto/SetContextoAluno"

	defaultTimeout      = 15 * time.Second
	maxBodyBytes        = 8 << 20
	defaultTripFailures = 5
	defaultOpenTimeout  = 30 * time.Second
)

// Page is a fully read upstream response.
type Page struct {
	StatusCode int
	// URL is the final URL after any redirects were followed.
	URL     *url.URL
	Body    string
	Cookies []*http.Cookie
}

// OK reports whether the status is 2xx.
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Client performs HTTP round trips against one upstream base URL. Every round
// trip passes through a circuit breaker that opens after consecutive
// connection failures or 5xx responses.
type Client struct {
	base        *url.URL
	institution string
	appTitle    string
	appVersion  string
	http        *http.Client
	noRedirect  *http.Client
	breaker     *gobreaker.CircuitBreaker[*Page]
	logger      *slog.Logger

	tripFailures uint32
	openTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger for round trips and breaker transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithInstitution overrides the institution GUID sent at login.
func WithInstitution(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.institution = id
		}
	}
}

// WithAppTitle overrides the application identifier sent at login.
func WithAppTitle(title string) Option {
	return func(c *Client) {
		if title != "" {
			c.appTitle = title
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open before probing again.
func WithBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.tripFailures = failures
		c.openTimeout = openTimeout
	}
}

// NewClient returns a Client for the upstream at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream url must be absolute: %q", baseURL)
	}
	c := &Client{
		base:         base,
		institution:  DefaultInstitution,
		appTitle:     DefaultAppTitle,
		appVersion:   DefaultAppVersion,
		tripFailures: defaultTripFailures,
		openTimeout:  defaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	c.noRedirect = &http.Client{
		Transport: c.http.Transport,
		Timeout:   c.http.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Page](gobreaker.Settings{
		Name:        "totvs-upstream",
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// resolve turns a path or absolute URL into an absolute upstream URL.
func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream reference %q: %w", ref, err)
	}
	return c.base.ResolveReference(u), nil
}

type roundTrip struct {
	op       string
	method   string
	target   string
	cookies  CookieSet
	form     string
	referer  string
	noFollow bool
}

// send executes rt. Connection failures, an open breaker and timeouts come
// back as TOTVS_OFFLINE; every HTTP status comes back as a Page.
func (c *Client) send(ctx context.Context, rt roundTrip) (*Page, error) {
	target, err := c.resolve(rt.target)
	if err != nil {
		return nil, newError(CodeInternal, "invalid upstream target", err)
	}
	var body io.Reader
	if rt.form != "" {
		body = strings.NewReader(rt.form)
	}
	req, err := http.NewRequestWithContext(ctx, rt.method, target.String(), body)
	if err != nil {
		return nil, newError(CodeInternal, "building upstream request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", acceptLanguage)
	if rt.form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	referer := rt.referer
	if referer == "" {
		referer = homePath
	}
	if ref, err := c.resolve(referer); err == nil {
		req.Header.Set("Referer", ref.String())
	}
	if h := rt.cookies.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	hc := c.http
	if rt.noFollow {
		hc = c.noRedirect
	}

	start := time.Now()
	page, err := c.breaker.Execute(func() (*Page, error) {
		resp, err := hc.Do(req)
		if err != nil {
			return nil, &ConnectionError{Op: rt.op, Err: err}
		}
		defer resp.Body.Close()
		text, err := readBody(resp)
		if err != nil {
			return nil, &ConnectionError{Op: rt.op, Err: err}
		}
		p := &Page{
			StatusCode: resp.StatusCode,
			URL:        resp.Request.URL,
			Body:       text,
			Cookies:    resp.Cookies(),
		}
		if resp.StatusCode >= 500 {
			return p, &StatusError{Op: rt.op, StatusCode: resp.StatusCode}
		}
		return p, nil
	})

	var statusErr *StatusError
	switch {
	case err == nil:
	case errors.As(err, &statusErr) && page != nil:
		// 5xx is a breaker failure but still a page for the caller to classify.
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Debug("upstream request rejected", "op", rt.op, "error", err)
		return nil, Offline(&ConnectionError{Op: rt.op, Err: err})
	default:
		c.logger.Debug("upstream request failed", "op", rt.op, "duration", time.Since(start), "error", err)
		return nil, Offline(err)
	}
	c.logger.Debug("upstream request",
		"op", rt.op,
		"method", rt.method,
		"path", target.Path,
		"status", page.StatusCode,
		"duration", time.Since(start),
	)
	return page, nil
}

// readBody reads the response and transcodes it to UTF-8 when the upstream
// declares a legacy charset such as iso-8859-1.
func readBody(resp *http.Response) (string, error) {
	var r io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		if cs := strings.ToLower(params["charset"]); cs != "" && cs != "utf-8" && cs != "utf8" {
			if enc, err := htmlindex.Get(cs); err == nil {
				r = transform.NewReader(r, enc.NewDecoder())
			}
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(b), nil
}
