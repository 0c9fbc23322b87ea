// Package api exposes the account flows over HTTP.
//
// Router returns a chi router meant to be mounted under the base path
// (default "/api"). All responses are JSON; errors have the shape
// {"error": "<message>"}.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/budgetkeeper/account"
)

// DefaultBasePath is where the server mounts Router.
const DefaultBasePath = "/api"

// API holds the dependencies needed by the REST handlers.
type API struct {
	accounts       *account.Service
	limits         *rateLimiters
	audit          *auditLogger
	logger         *slog.Logger
	trustedProxies []netip.Prefix
	basePath       string
	alertFn        AlertFunc
}

//go:embed openapi.yaml
var openapiYAML []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and request
// failures. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
		a.logger = logger.With("component", "api")
	}
}

// WithAlertFunc registers a callback for anomaly alerts such as login
// failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithBasePath sets the path Router is mounted under, used for the
// documentation links. Default: "/api".
func WithBasePath(p string) Option {
	return func(a *API) {
		a.basePath = "/" + strings.Trim(p, "/")
	}
}

// WithTrustedProxies returns an Option that honors proxy headers
// (X-Forwarded-For, Forwarded, X-Real-IP) only from peers inside the given
// CIDRs. A bare IP is treated as a single-address prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(accounts *account.Service, opts ...Option) *API {
	a := &API{
		accounts: accounts,
		limits:   newRateLimiters(),
		basePath: DefaultBasePath,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		a.audit = newAuditLogger(logger)
		a.logger = logger.With("component", "api")
	}
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	specURL := a.basePath + "/openapi.yaml"
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiYAML)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: specURL,
		Path:    strings.TrimPrefix(a.basePath+"/docs", "/"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: specURL,
		Path:    strings.TrimPrefix(a.basePath+"/redoc", "/"),
	}, nil))

	r.Post("/auth/register", a.Register)
	r.Post("/auth/login", a.Login)
	r.Post("/auth/forgot-password", a.ForgotPassword)
	r.Post("/auth/verify-reset-token", a.VerifyResetToken)
	r.Post("/auth/reset-password", a.ResetPassword)
	r.With(a.BearerAuth).Get("/auth/me", a.Me)

	return r
}

// RunSweeper removes stale rate-limit state every interval until ctx is done.
func (a *API) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limits.sweep()
		}
	}
}
