package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/budgetkeeper/account"
	"github.com/jmcleod/budgetkeeper/internal/util"
)

// backoffPolicy configures a backoffLimiter. Once maxFailures is reached
// every further failure doubles the lockout, starting at baseLockout and
// capped at maxLockout. Records idle for expiry are forgotten.
type backoffPolicy struct {
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
}

var (
	// Login failures per account. Keyed by rateLimitKey(email).
	loginAccountPolicy = backoffPolicy{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
	// Login failures per source IP.
	loginIPPolicy = backoffPolicy{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute, expiry: time.Hour}
	// Registrations per source IP. Every request counts, not only failures,
	// because each one pays for a password hash.
	registerIPPolicy = backoffPolicy{maxFailures: 5, baseLockout: 5 * time.Minute, maxLockout: time.Hour, expiry: time.Hour}
	// Wrong reset codes per account, shared by verify and reset.
	resetAttemptPolicy = backoffPolicy{maxFailures: 5, baseLockout: time.Minute, maxLockout: time.Hour, expiry: time.Hour}
)

// backoffLimiter tracks failures per key and enforces exponential backoff.
type backoffLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newBackoffLimiter(policy backoffPolicy) *backoffLimiter {
	return &backoffLimiter{
		policy:   policy,
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// check returns true if key is currently locked out, along with how long
// the caller should wait. A zero duration means the request may proceed.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is reached.
func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.policy.maxFailures {
		// baseLockout * 2^(failures - maxFailures)
		shift := rec.failures - rl.policy.maxFailures
		lockout := rl.policy.baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > rl.policy.maxLockout {
				lockout = rl.policy.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess clears the state for key.
func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter counts events across all keys in a sliding window and locks
// everyone out once max is reached.
type windowLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	max         int
	lockout     time.Duration
	events      []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newWindowLimiter(window time.Duration, max int, lockout time.Duration) *windowLimiter {
	return &windowLimiter{window: window, max: max, lockout: lockout, now: time.Now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = append(trimWindow(rl.events, now, rl.window), now)
	if len(rl.events) >= rl.max {
		rl.lockedUntil = now.Add(rl.lockout)
	}
}

func (rl *windowLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.events = trimWindow(rl.events, rl.now(), rl.window)
}

// rateLimiters groups every limiter the handlers consult.
type rateLimiters struct {
	loginAccount *backoffLimiter
	loginIP      *backoffLimiter
	loginGlobal  *windowLimiter
	registerIP   *backoffLimiter
	registerAll  *windowLimiter
	resetAttempt *backoffLimiter
}

func newRateLimiters() *rateLimiters {
	return &rateLimiters{
		loginAccount: newBackoffLimiter(loginAccountPolicy),
		loginIP:      newBackoffLimiter(loginIPPolicy),
		loginGlobal:  newWindowLimiter(time.Minute, 100, 5*time.Minute),
		registerIP:   newBackoffLimiter(registerIPPolicy),
		registerAll:  newWindowLimiter(time.Minute, 50, 5*time.Minute),
		resetAttempt: newBackoffLimiter(resetAttemptPolicy),
	}
}

func (l *rateLimiters) sweep() {
	l.loginAccount.sweep()
	l.loginIP.sweep()
	l.loginGlobal.sweep()
	l.registerIP.sweep()
	l.registerAll.sweep()
	l.resetAttempt.sweep()
}

// rateLimitKey derives the per-account limiter key from an email. The key is
// a SHA-256 digest so limiter state and logs never hold the address itself.
// Unparseable input is folded so trivial variants still share a key.
func rateLimitKey(email string) string {
	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		normalized = util.FoldIdentifier(email)
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting using the API's
// configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if trustedProxies is non-empty AND the request's RemoteAddr falls within
// one of the trusted CIDR ranges. Otherwise RemoteAddr is returned.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for _, elem := range strings.Split(fwd, ",") {
				for _, param := range strings.Split(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					if ip, ok := parseIPCandidate(param[4:]); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
