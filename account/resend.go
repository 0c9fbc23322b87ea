package account

import (
	"context"
	"sync"
	"time"
)

// ResendLimiter throttles reset-code requests per email. Reserve claims the
// slot for key; when the slot is already held it returns false and the time
// until it frees.
type ResendLimiter interface {
	Reserve(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// MemoryResendLimiter is an in-process ResendLimiter for single-instance
// deployments.
type MemoryResendLimiter struct {
	mu     sync.Mutex
	window time.Duration
	held   map[string]time.Time
	now    func() time.Time
}

var _ ResendLimiter = (*MemoryResendLimiter)(nil)

// NewMemoryResendLimiter allows one reservation per key per window.
func NewMemoryResendLimiter(window time.Duration) *MemoryResendLimiter {
	return &MemoryResendLimiter{
		window: window,
		held:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryResendLimiter) Reserve(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	l.held[key] = now.Add(l.window)
	return true, 0, nil
}

// Sweep drops expired reservations.
func (l *MemoryResendLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, until := range l.held {
		if !now.Before(until) {
			delete(l.held, k)
		}
	}
}
