package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newLoginRateLimiter()

	for range maxFailures - 1 {
		rl.recordFailure("user-1")
		blocked, _ := rl.check("user-1")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newLoginRateLimiter()

	for range maxFailures {
		rl.recordFailure("user-1")
	}

	blocked, retryAfter := rl.check("user-1")
	require.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiter_ExponentialBackoff(t *testing.T) {
	rl := newLoginRateLimiter()

	for range maxFailures {
		rl.recordFailure("user-1")
	}
	_, first := rl.check("user-1")

	rl.recordFailure("user-1")
	_, second := rl.check("user-1")
	assert.Greater(t, second, first, "lockout should increase with more failures")
}

func TestRateLimiter_SuccessResetsCounter(t *testing.T) {
	rl := newLoginRateLimiter()

	for range maxFailures {
		rl.recordFailure("user-1")
	}
	blocked, _ := rl.check("user-1")
	require.True(t, blocked)

	rl.recordSuccess("user-1")
	blocked, _ = rl.check("user-1")
	assert.False(t, blocked)
}

func TestRateLimiter_IsolatesKeys(t *testing.T) {
	rl := newLoginRateLimiter()

	for range maxFailures {
		rl.recordFailure("user-1")
	}
	blocked, _ := rl.check("user-2")
	assert.False(t, blocked)
}

func TestRateLimiter_SweepRemovesExpired(t *testing.T) {
	rl := newLoginRateLimiter()

	rl.mu.Lock()
	rl.attempts["old"] = &attemptRecord{
		failures:    maxFailures + 1,
		lastFailure: time.Now().Add(-2 * attemptExpiry),
		lockedUntil: time.Now().Add(-attemptExpiry),
	}
	rl.mu.Unlock()

	rl.sweep()

	rl.mu.Lock()
	_, exists := rl.attempts["old"]
	rl.mu.Unlock()
	assert.False(t, exists)
}

func TestRateLimiter_MaxLockoutCap(t *testing.T) {
	for _, tc := range []struct {
		name      string
		rl        *backoffLimiter
		threshold int
		ceiling   time.Duration
	}{
		{"login", newLoginRateLimiter(), maxFailures, maxLockout},
		{"ip", newIPRateLimiter(), ipMaxFailures, ipMaxLockout},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for range tc.threshold + 20 {
				tc.rl.recordFailure("k")
			}
			_, retryAfter := tc.rl.check("k")
			assert.LessOrEqual(t, retryAfter, tc.ceiling+time.Second)
		})
	}
}

func TestIPRateLimiter_Threshold(t *testing.T) {
	rl := newIPRateLimiter()

	for range ipMaxFailures - 1 {
		rl.recordFailure("192.168.1.1")
	}
	blocked, _ := rl.check("192.168.1.1")
	require.False(t, blocked)

	rl.recordFailure("192.168.1.1")
	blocked, _ = rl.check("192.168.1.1")
	require.True(t, blocked)

	blocked, _ = rl.check("10.0.0.1")
	assert.False(t, blocked, "different IP should not be blocked")
}

func TestGlobalRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newGlobalRateLimiter()

	for range globalMaxFailures - 1 {
		rl.recordFailure()
	}
	blocked, _ := rl.check()
	require.False(t, blocked)

	rl.recordFailure()
	blocked, retryAfter := rl.check()
	require.True(t, blocked)
	assert.LessOrEqual(t, retryAfter, globalLockout+time.Second)
}

func TestGlobalRateLimiter_SlidingWindowExpiry(t *testing.T) {
	rl := newGlobalRateLimiter()

	rl.mu.Lock()
	for range globalMaxFailures {
		rl.failures = append(rl.failures, time.Now().Add(-2*globalWindow))
	}
	rl.mu.Unlock()

	rl.recordFailure()
	blocked, _ := rl.check()
	assert.False(t, blocked, "failures outside the window should not count")
}

func TestLoginGate(t *testing.T) {
	a := &API{
		rateLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	r := &http.Request{RemoteAddr: "192.0.2.10:5000", Header: http.Header{}}

	gate := a.loginGate(r, "2021001234")
	assert.Equal(t, "192.0.2.10", gate.ip)
	assert.Equal(t, userKey("2021001234"), gate.user)
	assert.NotContains(t, gate.user, "2021001234")

	for range maxFailures {
		gate.failure()
	}
	blocked, _ := gate.blocked()
	require.True(t, blocked)

	other := a.loginGate(r, "2021009999")
	blocked, _ = other.blocked()
	assert.False(t, blocked, "same IP below its own threshold")

	gate.success()
	blocked, _ = gate.blocked()
	assert.False(t, blocked)
}

func TestExtractClientIPWithProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []netip.Prefix
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "10.0.0.1",
		},
		{
			name:       "trusted proxy honours xff",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 198.51.100.25, 203.0.113.9"},
			trusted:    trusted,
			want:       "198.51.100.25",
		},
		{
			name:       "forwarded fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for=198.51.100.1;proto=https`},
			trusted:    trusted,
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			trusted:    trusted,
			want:       "203.0.113.11",
		},
		{
			name:       "untrusted peer ignores xff",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trusted:    trusted,
			want:       "192.168.1.1",
		},
		{name: "unparseable remote", remoteAddr: "not-a-hostport", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.7 ,::1,")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.168.1.7/32", got[1].String())
	assert.Equal(t, "::1/128", got[2].String())

	got, err = ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseTrustedProxies("10.0.0.0/99")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.local")
	assert.Error(t, err)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}
