package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/budgetkeeper/account"
	"github.com/jmcleod/budgetkeeper/api"
)

var (
	port          int
	dataDir       string
	storageDriver string
	tlsCert       string
	tlsKey        string
	logLevel      string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

// serverConfig layers file, flags and environment, in that order.
func serverConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = dataDir
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver = storageDriver
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey = tlsKey
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	handler, cleanup, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var tlsConfig *tls.Config
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner()
	logger.Info("starting server",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"notify", cfg.Notify.Driver,
		"tls", tlsConfig != nil,
	)
	if tlsConfig == nil {
		logger.Warn("TLS is disabled; terminate TLS at a proxy in front of this server")
	}
	if cfg.Reset.ExposeCodeOnDeliveryFailure {
		logger.Warn("reset codes are returned to clients when email delivery fails; do not use in production")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

// buildHandler wires storage, hashing, tokens, notification and the HTTP API
// from cfg. The returned cleanup releases everything it opened. Background
// sweepers stop when ctx is cancelled.
func buildHandler(ctx context.Context, cfg Config, logger *slog.Logger) (http.Handler, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	hasher, err := newHasher(cfg.Auth)
	if err != nil {
		return fail(err)
	}
	issuer, err := newIssuer(cfg.Auth)
	if err != nil {
		return fail(err)
	}
	sender, err := newSender(cfg.Notify)
	if err != nil {
		return fail(err)
	}
	limiter, err := newResendLimiter(ctx, cfg.Reset, cfg.Redis)
	if err != nil {
		return fail(err)
	}
	if limiter != nil {
		closers = append(closers, limiter.close)
		go runSweeper(ctx, time.Minute, limiter.sweep)
	}

	accounts, err := account.NewService(store, hasher, issuer, accountOptions(cfg, sender, limiter, logger)...)
	if err != nil {
		return fail(err)
	}

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAlertFunc(func(alert api.AlertEvent) {
			logger.Warn(alert.Message,
				"alert", string(alert.Type),
				"count", alert.Count,
				"threshold", alert.Threshold,
			)
		}),
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return fail(err)
		}
		apiOpts = append(apiOpts, opt)
	}
	a := api.New(accounts, apiOpts...)
	go a.RunSweeper(ctx, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount(api.DefaultBasePath, a.Router())

	return r, cleanup, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data (bbolt driver)")
	serverCmd.Flags().StringVar(&storageDriver, "storage", driverBbolt, "Storage driver: bbolt, postgres or memory")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}
