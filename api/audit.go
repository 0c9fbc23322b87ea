package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegister            AuditEvent = "register"
	AuditRegisterDuplicate   AuditEvent = "register_duplicate"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditResetRequested      AuditEvent = "reset_requested"
	AuditResetUnknownEmail   AuditEvent = "reset_unknown_email"
	AuditResetDeliveryFailed AuditEvent = "reset_delivery_failed"
	AuditResetCodeExposed    AuditEvent = "reset_code_exposed"
	AuditResetVerifyFailure  AuditEvent = "reset_verify_failure"
	AuditResetRateLimited    AuditEvent = "reset_rate_limited"
	AuditPasswordReset       AuditEvent = "password_reset"
	AuditTokenRejected       AuditEvent = "token_rejected"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Reset codes, passwords and tokens are never passed to it.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events about a known user.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user_id", userID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
