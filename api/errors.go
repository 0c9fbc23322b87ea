package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/budgetkeeper/account"
)

// maxAuthBodySize caps every auth request body.
const maxAuthBodySize = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a single JSON object of type T from the body, rejecting
// unknown fields, trailing data and bodies over max bytes. On failure it
// writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, max int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, max))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// mapError writes the response for an error returned by account.Service.
// fallback is the fixed message for unexpected failures; the underlying
// error is logged, never returned to the client.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, account.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "No account with that email exists")
	case errors.Is(err, account.ErrInvalidChallenge):
		writeError(w, http.StatusBadRequest, "Invalid or expired reset code")
	case errors.Is(err, account.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, account.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, account.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, passwordMessage(err))
	case errors.Is(err, account.ErrResendTooSoon):
		var re *account.ResendError
		if errors.As(err, &re) {
			w.Header().Set("Retry-After", retryAfterString(re.RetryAfter))
		}
		writeError(w, http.StatusTooManyRequests, "Please wait before requesting another reset code")
	default:
		a.logger.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// passwordMessage turns "invalid password: must be ..." into
// "Password must be ...".
func passwordMessage(err error) string {
	_, detail, ok := strings.Cut(err.Error(), account.ErrInvalidPassword.Error()+": ")
	if !ok {
		return "Invalid password"
	}
	return fmt.Sprintf("Password %s", detail)
}
