package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmcleod/eduportal/upstream"
)

const (
	// DefaultMaxRetries is the number of network retries per call.
	DefaultMaxRetries = 3

	maxAttemptsAfterRefresh = 3

	minAdaptiveDelay = 300 * time.Millisecond
	maxAdaptiveDelay = 1500 * time.Millisecond
	maxBackoff       = 2 * time.Second
	backoffBase      = 200 * time.Millisecond
	backoffFactor    = 1.5
)

// SessionExpiredError is returned when a 401 could not be recovered by a
// refresh. The caller has to log in again.
type SessionExpiredError struct{}

func (*SessionExpiredError) Error() string {
	return "session expired, log in again"
}

// APIError is a non-2xx answer from the local API.
type APIError struct {
	Status  int
	Code    upstream.Code
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &APIError{Status: resp.StatusCode, Code: upstream.Code(body.Code), Message: body.Error}
}

// Fetcher issues authenticated requests against the local API. A 401 is
// answered by one session refresh followed by up to three retries; network
// failures are retried with exponential backoff.
type Fetcher struct {
	manager *Manager

	// MaxRetries bounds network retries. Zero means no retry.
	MaxRetries int
}

// NewFetcher returns a Fetcher sharing m's HTTP client and cookies.
func NewFetcher(m *Manager) *Fetcher {
	return &Fetcher{manager: m, MaxRetries: DefaultMaxRetries}
}

// adaptiveDelay is the pause after a refresh before the first retry; it grows
// with the time since the session was last renewed.
func adaptiveDelay(sinceRefresh time.Duration) time.Duration {
	return min(max(sinceRefresh, minAdaptiveDelay), maxAdaptiveDelay)
}

// postRefreshDelay is the pause before retry attempt n after a refresh that
// did not stop the 401s.
func postRefreshDelay(attempt int, sinceRefresh time.Duration) time.Duration {
	if sinceRefresh < time.Second {
		return minAdaptiveDelay
	}
	return min(minAdaptiveDelay+time.Duration(attempt)*250*time.Millisecond, time.Second)
}

// newNetworkBackOff returns the deterministic schedule for network retries:
// 200ms growing by 1.5x up to 2s. Attempts are bounded by MaxRetries, not
// by elapsed time.
func newNetworkBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = backoffFactor
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do sends req, recovering from session expiry. The request body is buffered
// so it can be replayed. It returns *SessionExpiredError when the session
// cannot be renewed and an *APIError with code TOTVS_OFFLINE when renewal
// failed because the upstream is down.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	m := f.manager
	if err := m.WaitForBackgroundReconnect(ctx); err != nil {
		return nil, err
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
		body = b
	}

	var (
		refreshed    bool
		afterRefresh int
		netAttempt   int
		netBackOff   = newNetworkBackOff()
	)
	for {
		attempt := req.Clone(ctx)
		if body != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(body))
			attempt.ContentLength = int64(len(body))
		}

		resp, err := m.client.Do(attempt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if netAttempt >= f.MaxRetries {
				return nil, err
			}
			if err := sleep(ctx, netBackOff.NextBackOff()); err != nil {
				return nil, err
			}
			netAttempt++
			continue
		}

		if resp.StatusCode != http.StatusUnauthorized {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				m.MarkSessionActive()
			}
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if !refreshed {
			refreshed = true
			if !m.RefreshSession(ctx) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if m.Current().Status == StatusError {
					return nil, &APIError{
						Status:  http.StatusServiceUnavailable,
						Code:    upstream.CodeOffline,
						Message: "TOTVS is probably offline",
					}
				}
				return nil, &SessionExpiredError{}
			}
			if err := sleep(ctx, adaptiveDelay(f.sinceRefresh())); err != nil {
				return nil, err
			}
			continue
		}

		afterRefresh++
		if afterRefresh > maxAttemptsAfterRefresh {
			return nil, &SessionExpiredError{}
		}
		if err := sleep(ctx, postRefreshDelay(afterRefresh, f.sinceRefresh())); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) sinceRefresh() time.Duration {
	m := f.manager
	return m.now().Sub(m.Current().LastRefreshedAt)
}

// GetJSON fetches path from the local API and decodes the JSON answer into
// v. Non-2xx answers are returned as *APIError.
func (f *Fetcher) GetJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.manager.endpoint(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// IsSessionExpired reports whether err means the user must log in again.
func IsSessionExpired(err error) bool {
	var se *SessionExpiredError
	return errors.As(err, &se)
}
