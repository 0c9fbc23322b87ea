package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmcleod/budgetkeeper/account"
	"github.com/jmcleod/budgetkeeper/storage"
)

type contextKey int

const userKey contextKey = iota

// BearerAuth resolves the "Authorization: Bearer <token>" header to a user
// and stores it on the request context. Missing, invalid, expired and
// revoked tokens all get the same 401.
func (a *API) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, err := a.accounts.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, account.ErrUnauthenticated) {
				a.audit.logFailure(AuditTokenRejected, r, err.Error())
			}
			a.mapError(w, r, err, "Authentication failed")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext returns the user authenticated by BearerAuth.
func UserFromContext(ctx context.Context) *storage.User {
	u, _ := ctx.Value(userKey).(*storage.User)
	return u
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
