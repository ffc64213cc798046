package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/eduportal/upstream"
)

func TestAdaptiveDelayClamped(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, adaptiveDelay(0))
	assert.Equal(t, 800*time.Millisecond, adaptiveDelay(800*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, adaptiveDelay(time.Hour))
}

func TestNetworkBackOffSchedule(t *testing.T) {
	b := newNetworkBackOff()
	want := []time.Duration{
		200 * time.Millisecond,
		300 * time.Millisecond,
		450 * time.Millisecond,
		675 * time.Millisecond,
		1012500 * time.Microsecond,
		1518750 * time.Microsecond,
		2 * time.Second,
		2 * time.Second,
	}
	for i, w := range want {
		assert.InDelta(t, float64(w), float64(b.NextBackOff()), float64(time.Microsecond), "attempt %d", i)
	}
}

func TestPostRefreshDelay(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, postRefreshDelay(3, 100*time.Millisecond))
	assert.Equal(t, 800*time.Millisecond, postRefreshDelay(2, 5*time.Second))
	assert.Equal(t, time.Second, postRefreshDelay(3, 5*time.Second))
}

func TestFetcherPassesThrough(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.authenticated, f.ra = true, testRA })
	m := newTestManager(t, srv, withCreds())
	f := NewFetcher(m)

	var body map[string]any
	require.NoError(t, f.GetJSON(context.Background(), "/schedule", &body))
	assert.Contains(t, body, "classes")
	assert.Zero(t, api.count("/api/auth/refresh"))
	assert.False(t, m.Current().LastCheckedAt.IsZero(), "success marks the session active")
}

func TestFetcherRefreshesOnUnauthorized(t *testing.T) {
	api, srv := newFakeAPI(t)
	m := newTestManager(t, srv, withCreds())
	f := NewFetcher(m)

	var body map[string]any
	require.NoError(t, f.GetJSON(context.Background(), "/schedule", &body))
	assert.Equal(t, 1, api.count("/api/auth/refresh"))
	assert.Equal(t, 2, api.count("/api/schedule"))
	assert.Equal(t, StatusActive, m.Current().Status)
}

func TestFetcherSessionExpiredWithoutCredentials(t *testing.T) {
	api, srv := newFakeAPI(t)
	f := NewFetcher(newTestManager(t, srv, &stubCreds{}))

	err := f.GetJSON(context.Background(), "/schedule", &struct{}{})
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, 1, api.count("/api/schedule"))
}

func TestFetcherOfflineWhenRefreshFails(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.refreshStatus = http.StatusServiceUnavailable })
	f := NewFetcher(newTestManager(t, srv, withCreds()))

	err := f.GetJSON(context.Background(), "/schedule", &struct{}{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, upstream.CodeOffline, apiErr.Code)
	assert.False(t, IsSessionExpired(err))
}

func TestFetcherGivesUpAfterPostRefreshAttempts(t *testing.T) {
	api, srv := newFakeAPI(t)
	m := newTestManager(t, srv, withCreds())
	f := NewFetcher(m)

	// The data endpoint stays unauthorized even though refresh succeeds.
	api.set(func(f *fakeAPI) { f.dataStatus = http.StatusUnauthorized })

	err := f.GetJSON(context.Background(), "/schedule", &struct{}{})
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, 1, api.count("/api/auth/refresh"))
	assert.Equal(t, 2+maxAttemptsAfterRefresh, api.count("/api/schedule"))
}

func TestFetcherDecodesAPIError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.dataStatus = http.StatusServiceUnavailable })
	f := NewFetcher(newTestManager(t, srv, withCreds()))

	err := f.GetJSON(context.Background(), "/schedule", &struct{}{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, upstream.CodeOffline, apiErr.Code)
	assert.Equal(t, "TOTVS is down", apiErr.Message)
}

// flakyTransport fails the first n round trips.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (t *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := t.calls.Add(1)
	if n <= t.failures {
		return nil, errors.New("connection refused")
	}
	body, _ := io.ReadAll(r.Body)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(string(body))),
		Header:     http.Header{},
		Request:    r,
	}, nil
}

func TestFetcherRetriesNetworkErrors(t *testing.T) {
	transport := &flakyTransport{failures: 2}
	m := New("http://portal.test/api", withCreds(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithTimings(testTimings()))
	f := NewFetcher(m)

	req, err := http.NewRequest(http.MethodPost, "http://portal.test/api/echo", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := f.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	echoed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(echoed), "body replayed on retry")
	assert.Equal(t, int32(3), transport.calls.Load())
}

func TestFetcherStopsAfterMaxRetries(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	m := New("http://portal.test/api", withCreds(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithTimings(testTimings()))
	f := NewFetcher(m)
	f.MaxRetries = 1

	req, err := http.NewRequest(http.MethodGet, "http://portal.test/api/schedule", nil)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), transport.calls.Load())
}

func TestFetcherDoesNotRetryCanceledContext(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	m := New("http://portal.test/api", withCreds(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithTimings(testTimings()))
	f := NewFetcher(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequest(http.MethodGet, "http://portal.test/api/schedule", nil)
	require.NoError(t, err)

	_, err = f.Do(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, transport.calls.Load(), int32(1))
}
