package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBackoffLimiter(p backoffPolicy) (*backoffLimiter, *stepClock) {
	clock := newStepClock()
	rl := newBackoffLimiter(p)
	rl.now = clock.Now
	return rl, clock
}

func TestBackoffLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginAccountPolicy)

	for i := 0; i < loginAccountPolicy.maxFailures-1; i++ {
		rl.recordFailure("acct-1")
		blocked, _ := rl.check("acct-1")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestBackoffLimiter_BlocksAfterThreshold(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginAccountPolicy)

	for i := 0; i < loginAccountPolicy.maxFailures; i++ {
		rl.recordFailure("acct-1")
	}

	blocked, retryAfter := rl.check("acct-1")
	require.True(t, blocked, "should block after maxFailures")
	assert.Equal(t, loginAccountPolicy.baseLockout, retryAfter)
}

func TestBackoffLimiter_ExponentialBackoff(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginAccountPolicy)

	for i := 0; i < loginAccountPolicy.maxFailures; i++ {
		rl.recordFailure("acct-1")
	}
	_, first := rl.check("acct-1")

	rl.recordFailure("acct-1")
	_, second := rl.check("acct-1")
	assert.Equal(t, 2*first, second, "lockout should double with each further failure")
}

func TestBackoffLimiter_LockoutExpires(t *testing.T) {
	rl, clock := newTestBackoffLimiter(resetAttemptPolicy)

	for i := 0; i < resetAttemptPolicy.maxFailures; i++ {
		rl.recordFailure("acct-1")
	}
	blocked, _ := rl.check("acct-1")
	require.True(t, blocked)

	clock.Advance(resetAttemptPolicy.baseLockout)
	blocked, _ = rl.check("acct-1")
	assert.False(t, blocked, "lockout ends after baseLockout")
}

func TestBackoffLimiter_SuccessResetsCounter(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginAccountPolicy)

	for i := 0; i < loginAccountPolicy.maxFailures; i++ {
		rl.recordFailure("acct-1")
	}
	blocked, _ := rl.check("acct-1")
	require.True(t, blocked)

	rl.recordSuccess("acct-1")

	blocked, _ = rl.check("acct-1")
	assert.False(t, blocked, "should not block after successful login")
}

func TestBackoffLimiter_IsolatesKeys(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginIPPolicy)

	for i := 0; i < loginIPPolicy.maxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}
	blocked, _ := rl.check("192.0.2.1")
	require.True(t, blocked)

	blocked, _ = rl.check("192.0.2.2")
	assert.False(t, blocked, "rate limit for one key should not affect another")
}

func TestBackoffLimiter_SweepRemovesExpired(t *testing.T) {
	rl, clock := newTestBackoffLimiter(loginAccountPolicy)

	rl.recordFailure("old")
	clock.Advance(loginAccountPolicy.expiry + time.Second)
	rl.recordFailure("fresh")

	rl.sweep()

	rl.mu.Lock()
	_, oldExists := rl.attempts["old"]
	_, freshExists := rl.attempts["fresh"]
	rl.mu.Unlock()
	assert.False(t, oldExists, "sweep should remove expired records")
	assert.True(t, freshExists)
}

func TestBackoffLimiter_MaxLockoutCap(t *testing.T) {
	for _, p := range []backoffPolicy{loginAccountPolicy, loginIPPolicy, registerIPPolicy, resetAttemptPolicy} {
		rl, _ := newTestBackoffLimiter(p)
		for i := 0; i < p.maxFailures+20; i++ {
			rl.recordFailure("k")
		}
		_, retryAfter := rl.check("k")
		assert.Equal(t, p.maxLockout, retryAfter, "lockout should stop at maxLockout")
	}
}

func TestWindowLimiter(t *testing.T) {
	clock := newStepClock()
	rl := newWindowLimiter(time.Minute, 3, 5*time.Minute)
	rl.now = clock.Now

	rl.record()
	rl.record()
	blocked, _ := rl.check()
	assert.False(t, blocked)

	// The first two events slide out of the window.
	clock.Advance(time.Minute + time.Second)
	rl.record()
	blocked, _ = rl.check()
	assert.False(t, blocked, "expired events should not count")

	rl.record()
	rl.record()
	blocked, retryAfter := rl.check()
	require.True(t, blocked)
	assert.Equal(t, 5*time.Minute, retryAfter)

	clock.Advance(5 * time.Minute)
	blocked, _ = rl.check()
	assert.False(t, blocked)

	rl.sweep()
	assert.Empty(t, rl.events)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(200*time.Millisecond))
	assert.Equal(t, "2", retryAfterString(1500*time.Millisecond))
	assert.Equal(t, "60", retryAfterString(time.Minute))
}

func TestRateLimitKey(t *testing.T) {
	a := rateLimitKey("alice@example.com")
	assert.Len(t, a, 32)
	assert.Equal(t, a, rateLimitKey("  ALICE@Example.com"))
	assert.NotEqual(t, a, rateLimitKey("bob@example.com"))
	assert.NotContains(t, a, "alice")
	assert.Equal(t, rateLimitKey("Not An Email"), rateLimitKey("not an email"))
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.10:1234", want: "192.0.2.10"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "ipv4-mapped ipv6", remoteAddr: "[::ffff:192.0.2.10]:443", want: "192.0.2.10"},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "192.0.2.10:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25", "X-Real-IP": "198.51.100.26"},
			want:       "192.0.2.10",
		},
		{name: "unparseable remote addr", remoteAddr: "garbage", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, nil))
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "untrusted peer ignores XFF",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores Forwarded",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"Forwarded": "for=198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores X-Real-IP",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Real-IP": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:           "multiple CIDRs - second matches",
			remoteAddr:     "172.16.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR, netip.MustParsePrefix("172.16.0.0/12")},
			want:           "198.51.100.25",
		},
		{
			name:           "multi-hop XFF returns the original client",
			remoteAddr:     "10.0.0.5:80",
			headers:        map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.3, 10.0.0.4"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.50",
		},
		{
			name:           "trusted IPv6 proxy with Forwarded quoted IPv6",
			remoteAddr:     "[fd00::1]:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::42]:1234"`},
			trustedProxies: []netip.Prefix{netip.MustParsePrefix("fd00::/8")},
			want:           "2001:db8::42",
		},
		{
			name:           "spoofed headers from a direct client",
			remoteAddr:     "203.0.113.99:12345",
			headers:        map[string]string{"X-Forwarded-For": "10.0.0.1", "Forwarded": "for=10.0.0.2", "X-Real-IP": "10.0.0.3"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.99",
		},
		{
			name:           "adjacent IP outside a /32 is not trusted",
			remoteAddr:     "10.0.0.2:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")},
			want:           "10.0.0.2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trustedProxies))
		})
	}
}

func TestExtractClientIPWithTrustedProxies_HeaderPriority(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	t.Run("XFF takes priority over Forwarded and X-Real-IP", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.10"},
				"Forwarded":       []string{"for=198.51.100.20"},
				"X-Real-Ip":       []string{"198.51.100.30"},
			},
		}
		assert.Equal(t, "198.51.100.10", extractClientIPWithProxies(r, trusted))
	})

	t.Run("Forwarded takes priority over X-Real-IP when no XFF", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"Forwarded": []string{"for=198.51.100.20"},
				"X-Real-Ip": []string{"198.51.100.30"},
			},
		}
		assert.Equal(t, "198.51.100.20", extractClientIPWithProxies(r, trusted))
	})

	t.Run("X-Real-IP used when no XFF or Forwarded", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header:     http.Header{"X-Real-Ip": []string{"198.51.100.30"}},
		}
		assert.Equal(t, "198.51.100.30", extractClientIPWithProxies(r, trusted))
	})
}

func TestWithTrustedProxies(t *testing.T) {
	t.Run("valid CIDRs", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"10.0.0.0/8", "172.16.0.0/12"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		assert.Len(t, a.trustedProxies, 2)
	})

	t.Run("bare IP treated as /32", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"10.0.0.1"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		require.Len(t, a.trustedProxies, 1)
		assert.Equal(t, 32, a.trustedProxies[0].Bits())
	})

	t.Run("bare IPv6 treated as /128", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"::1"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		require.Len(t, a.trustedProxies, 1)
		assert.Equal(t, 128, a.trustedProxies[0].Bits())
	})

	t.Run("invalid CIDR returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"not-a-cidr"})
		require.Error(t, err)
	})

	t.Run("mixed valid and invalid returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
		require.Error(t, err)
	})
}

func TestAPIExtractClientIP_Method(t *testing.T) {
	a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}

	r := &http.Request{
		RemoteAddr: "10.0.0.1:80",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.25"}},
	}
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	r.RemoteAddr = "192.168.1.1:80"
	assert.Equal(t, "192.168.1.1", a.extractClientIP(r))
}
