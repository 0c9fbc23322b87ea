package account

import (
	"log/slog"
	"time"

	"github.com/jmcleod/budgetkeeper/internal/util"
	"github.com/jmcleod/budgetkeeper/notify"
)

const (
	// DefaultResetTTL is how long a reset code stays valid.
	DefaultResetTTL = time.Hour
	// DefaultSendTimeout bounds a single notification attempt.
	DefaultSendTimeout = 10 * time.Second
)

type options struct {
	now           func() time.Time
	resetTTL      time.Duration
	generateCode  func() (string, error)
	resendLimiter ResendLimiter
	sender        notify.Sender
	sendTimeout   time.Duration
	exposeCode    bool
	revealUnknown bool
	logger        *slog.Logger
}

func defaultOptions() options {
	return options{
		now:          time.Now,
		resetTTL:     DefaultResetTTL,
		generateCode: func() (string, error) { return util.RandomNumericCode(CodeDigits) },
		sender:       notify.Disabled{},
		sendTimeout:  DefaultSendTimeout,
		logger:       slog.Default(),
	}
}

// Option configures a Service or ResetManager.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithResetTTL sets the reset code lifetime.
// Default: 1 hour.
func WithResetTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.resetTTL = ttl
	}
}

// WithCodeGenerator replaces the random 6-digit code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(o *options) {
		o.generateCode = gen
	}
}

// WithResendLimiter throttles repeated reset-code requests per email.
func WithResendLimiter(l ResendLimiter) Option {
	return func(o *options) {
		o.resendLimiter = l
	}
}

// WithSender sets the notification transport for reset codes.
// Default: notify.Disabled.
func WithSender(s notify.Sender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// WithSendTimeout bounds each notification attempt.
// Default: 10 seconds.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sendTimeout = d
	}
}

// WithExposeCodeOnDeliveryFailure returns the raw reset code to the caller
// when the notification cannot be delivered. Intended for development only.
func WithExposeCodeOnDeliveryFailure(expose bool) Option {
	return func(o *options) {
		o.exposeCode = expose
	}
}

// WithRevealUnknownEmail makes ForgotPassword fail with ErrUserNotFound for
// unregistered emails instead of answering uniformly.
func WithRevealUnknownEmail(reveal bool) Option {
	return func(o *options) {
		o.revealUnknown = reveal
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
