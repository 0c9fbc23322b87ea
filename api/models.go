package api

import "time"

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned from register and login.
type AuthResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// ForgotPasswordRequest is the JSON body for POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordResponse is returned from POST /auth/forgot-password.
// ResetToken is only present in degraded mode, when the code could not be
// delivered and code exposure is enabled.
type ForgotPasswordResponse struct {
	Message    string `json:"message"`
	Email      string `json:"email"`
	ResetToken string `json:"resetToken,omitempty"`
}

// VerifyResetTokenRequest is the JSON body for POST /auth/verify-reset-token.
type VerifyResetTokenRequest struct {
	Email      string `json:"email"`
	ResetToken string `json:"resetToken"`
}

// ResetPasswordRequest is the JSON body for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
