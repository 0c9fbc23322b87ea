package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmcleod/budgetkeeper/account"
	"github.com/jmcleod/budgetkeeper/crypto"
	"github.com/jmcleod/budgetkeeper/notify"
	"github.com/jmcleod/budgetkeeper/session"
	"github.com/jmcleod/budgetkeeper/storage"
	bboltstorage "github.com/jmcleod/budgetkeeper/storage/bbolt"
	"github.com/jmcleod/budgetkeeper/storage/memory"
	"github.com/jmcleod/budgetkeeper/storage/postgres"
	redisstorage "github.com/jmcleod/budgetkeeper/storage/redis"
)

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log.level %q", s)
}

func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func openStore(ctx context.Context, cfg StorageConfig) (storage.CredentialStore, error) {
	switch cfg.Driver {
	case driverMemory:
		return memory.NewStore(), nil
	case driverPostgres:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.DSN); err != nil {
				return nil, err
			}
		}
		return postgres.NewStoreFromDSN(ctx, cfg.DSN)
	case driverBbolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstorage.NewStoreFromFile(filepath.Join(cfg.DataDir, "users.db"), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open user storage: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// newHasher returns a chain whose primary scheme hashes new passwords while
// the other still verifies hashes written before a switch.
func newHasher(cfg AuthConfig) (crypto.PasswordHasher, error) {
	bc, err := crypto.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	if cfg.Hasher != hasherArgon2id {
		// Argon2id hashes embed their parameters, so verification needs none.
		return crypto.NewChain(bc, &crypto.Argon2id{}), nil
	}
	a2, err := crypto.NewArgon2id(cfg.Argon2id)
	if err != nil {
		return nil, err
	}
	return crypto.NewChain(a2, bc), nil
}

func newIssuer(cfg AuthConfig) (*session.Issuer, error) {
	return session.NewIssuer([]byte(cfg.JWTSecret),
		session.WithTTL(cfg.TokenTTL),
		session.WithIssuer(cfg.JWTIssuer),
	)
}

func newSender(cfg NotifyConfig) (notify.Sender, error) {
	switch cfg.Driver {
	case notifySMTP:
		return notify.NewSMTP(cfg.SMTP)
	case notifyWebhook:
		return notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.AuthHeader)
	case notifyNone, "":
		return notify.Disabled{}, nil
	}
	return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
}

// resendLimiter is the limiter plus its background upkeep.
type resendLimiter struct {
	account.ResendLimiter
	sweep func()
	close func() error
}

// newResendLimiter returns nil when the resend window is zero.
func newResendLimiter(ctx context.Context, reset ResetConfig, rc RedisConfig) (*resendLimiter, error) {
	if reset.ResendWindow <= 0 {
		return nil, nil
	}
	if rc.Addr == "" {
		l := account.NewMemoryResendLimiter(reset.ResendWindow)
		return &resendLimiter{ResendLimiter: l, sweep: l.Sweep, close: func() error { return nil }}, nil
	}
	client, err := redisstorage.NewClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, err
	}
	l, err := redisstorage.NewResendLimiter(client, reset.ResendWindow)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &resendLimiter{ResendLimiter: l, sweep: func() {}, close: client.Close}, nil
}

// runSweeper calls sweep every interval until ctx is done.
func runSweeper(ctx context.Context, interval time.Duration, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func accountOptions(cfg Config, sender notify.Sender, limiter *resendLimiter, logger *slog.Logger) []account.Option {
	opts := []account.Option{
		account.WithResetTTL(cfg.Reset.CodeTTL),
		account.WithSender(sender),
		account.WithSendTimeout(cfg.Reset.SendTimeout),
		account.WithRevealUnknownEmail(cfg.Reset.RevealUnknownEmail),
		account.WithExposeCodeOnDeliveryFailure(cfg.Reset.ExposeCodeOnDeliveryFailure),
		account.WithLogger(logger.With("component", "account")),
	}
	if limiter != nil {
		opts = append(opts, account.WithResendLimiter(limiter.ResendLimiter))
	}
	return opts
}
