package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/budgetkeeper/account"
)

const (
	msgResetSent        = "Reset code sent to your email"
	msgResetExposed     = "Email service unavailable. Reset code (for testing)"
	msgResetUndelivered = "Reset code could not be delivered. Please try again later"
	msgResetVerified    = "Reset code verified"
	msgPasswordReset    = "Password reset successful"
	msgTooManyLogins    = "Too many failed login attempts; try again later"
	msgTooManyRequests  = "Too many requests; try again later"
	msgTooManyResets    = "Too many invalid reset codes; try again later"
)

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	// Rate-limit registration before any expensive work.
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.limits.registerAll.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, msgTooManyRequests)
		return
	}
	if blocked, retryAfter := a.limits.registerIP.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, msgTooManyRequests)
		return
	}

	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	// Record the request against both limiters before the password hash.
	a.limits.registerIP.recordFailure(clientIP)
	a.limits.registerAll.record()

	res, err := a.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			a.audit.logFailure(AuditRegisterDuplicate, r, "email already registered",
				slog.String("account_key", rateLimitKey(req.Email)))
		}
		a.mapError(w, r, err, "Registration failed")
		return
	}

	a.audit.logEvent(AuditRegister, r, res.UserID)
	writeJSON(w, http.StatusOK, AuthResponse{Token: res.Token, Email: res.Email})
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	accountKey := rateLimitKey(req.Email)
	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global, IP, then account.
	if blocked, retryAfter := a.limits.loginGlobal.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, msgTooManyLogins)
		return
	}
	if blocked, retryAfter := a.limits.loginIP.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, msgTooManyLogins)
		return
	}
	if blocked, retryAfter := a.limits.loginAccount.check(accountKey); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited",
			slog.String("account_key", accountKey))
		writeRateLimited(w, retryAfter, msgTooManyLogins)
		return
	}

	res, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			a.limits.loginGlobal.record()
			a.limits.loginIP.recordFailure(clientIP)
			a.limits.loginAccount.recordFailure(accountKey)
			a.audit.logFailure(AuditLoginFailure, r, "invalid credentials",
				slog.String("account_key", accountKey))
		}
		a.mapError(w, r, err, "Login failed")
		return
	}

	a.limits.loginAccount.recordSuccess(accountKey)
	a.limits.loginIP.recordSuccess(clientIP)

	a.audit.logEvent(AuditLoginSuccess, r, res.UserID)
	writeJSON(w, http.StatusOK, AuthResponse{Token: res.Token, Email: res.Email})
}

// ForgotPassword handles POST /auth/forgot-password.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ForgotPasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	accountKey := rateLimitKey(req.Email)

	res, err := a.accounts.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrUserNotFound):
			a.audit.logFailure(AuditResetUnknownEmail, r, "unknown email",
				slog.String("account_key", accountKey))
		case errors.Is(err, account.ErrResendTooSoon):
			a.audit.logFailure(AuditResetRateLimited, r, "resend window",
				slog.String("account_key", accountKey))
		}
		a.mapError(w, r, err, "Failed to process reset request")
		return
	}

	resp := ForgotPasswordResponse{Message: msgResetSent, Email: res.Email}
	switch {
	case !res.UserFound:
		a.audit.logFailure(AuditResetUnknownEmail, r, "unknown email",
			slog.String("account_key", accountKey))
	case res.Delivered:
		a.audit.log(AuditResetRequested, r, slog.String("account_key", accountKey))
	default:
		a.audit.logFailure(AuditResetDeliveryFailed, r, res.DeliveryErr.Error(),
			slog.String("account_key", accountKey))
		if res.Code != "" {
			a.audit.log(AuditResetCodeExposed, r, slog.String("account_key", accountKey))
			resp.Message = msgResetExposed
			resp.ResetToken = res.Code
		} else {
			resp.Message = msgResetUndelivered
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyResetToken handles POST /auth/verify-reset-token.
func (a *API) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyResetTokenRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.ResetToken == "" {
		writeError(w, http.StatusBadRequest, "Email and reset code are required")
		return
	}

	accountKey := rateLimitKey(req.Email)
	if !a.checkResetAttempts(w, r, accountKey) {
		return
	}

	if err := a.accounts.VerifyResetCode(r.Context(), req.Email, req.ResetToken); err != nil {
		a.recordResetFailure(r, err, accountKey)
		a.mapError(w, r, err, "Verification failed")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msgResetVerified})
}

// ResetPassword handles POST /auth/reset-password.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ResetPasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.ResetToken == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Email, reset code and new password are required")
		return
	}

	accountKey := rateLimitKey(req.Email)
	if !a.checkResetAttempts(w, r, accountKey) {
		return
	}

	if err := a.accounts.ResetPassword(r.Context(), req.Email, req.ResetToken, req.NewPassword); err != nil {
		a.recordResetFailure(r, err, accountKey)
		a.mapError(w, r, err, "Password reset failed")
		return
	}

	// A proven reset lifts any lockout on the account.
	a.limits.resetAttempt.recordSuccess(accountKey)
	a.limits.loginAccount.recordSuccess(accountKey)

	a.audit.log(AuditPasswordReset, r, slog.String("account_key", accountKey))
	writeJSON(w, http.StatusOK, MessageResponse{Message: msgPasswordReset})
}

// Me handles GET /auth/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
}

func (a *API) checkResetAttempts(w http.ResponseWriter, r *http.Request, accountKey string) bool {
	if blocked, retryAfter := a.limits.resetAttempt.check(accountKey); blocked {
		a.audit.logFailure(AuditResetRateLimited, r, "too many invalid codes",
			slog.String("account_key", accountKey))
		writeRateLimited(w, retryAfter, msgTooManyResets)
		return false
	}
	return true
}

func (a *API) recordResetFailure(r *http.Request, err error, accountKey string) {
	if !errors.Is(err, account.ErrInvalidChallenge) {
		return
	}
	a.limits.resetAttempt.recordFailure(accountKey)
	a.audit.logFailure(AuditResetVerifyFailure, r, "invalid or expired code",
		slog.String("account_key", accountKey))
}
