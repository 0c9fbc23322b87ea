package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/budgetkeeper/crypto"
	"github.com/jmcleod/budgetkeeper/internal/util"
	"github.com/jmcleod/budgetkeeper/notify"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Storage.Driver = driverMemory
	cfg.Auth.BcryptCost = bcrypt.MinCost
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  trusted_proxies: ["10.0.0.0/8"]
storage:
  driver: postgres
  dsn: postgres://localhost/budget
auth:
  jwt_secret: `+testSecret+`
  token_ttl: 24h
  hasher: argon2id
reset:
  code_ttl: 30m
  reveal_unknown_email: true
notify:
  driver: smtp
  smtp:
    host: mail.example.com
    from: no-reply@example.com
log:
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, driverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, hasherArgon2id, cfg.Auth.Hasher)
	assert.Equal(t, 30*time.Minute, cfg.Reset.CodeTTL)
	assert.True(t, cfg.Reset.RevealUnknownEmail)
	assert.Equal(t, "mail.example.com", cfg.Notify.SMTP.Host)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched fields keep their defaults.
	assert.Zero(t, cfg.Reset.ResendWindow)
	assert.Equal(t, crypto.DefaultBcryptCost, cfg.Auth.BcryptCost)
	assert.Equal(t, util.DefaultArgon2idParams(), cfg.Auth.Argon2id)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_RejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "server:\n  prot: 9090\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "from-file"
	cfg.Storage.DSN = "from-file"
	env := map[string]string{
		envJWTSecret:    "from-env",
		envSMTPPassword: "hunter2",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "from-file", cfg.Storage.DSN)
	assert.Equal(t, "hunter2", cfg.Notify.SMTP.Password)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "tls_key"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = driverPostgres }, "storage.dsn"},
		{"bbolt without data dir", func(c *Config) { c.Storage.Driver = driverBbolt; c.Storage.DataDir = "" }, "data_dir"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl"},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 3 }, "bcrypt_cost"},
		{"bcrypt cost too high", func(c *Config) { c.Auth.BcryptCost = 32 }, "bcrypt_cost"},
		{"unknown hasher", func(c *Config) { c.Auth.Hasher = "md5" }, "auth.hasher"},
		{"weak argon2id", func(c *Config) { c.Auth.Hasher = hasherArgon2id; c.Auth.Argon2id.MemoryKiB = 1024 }, "argon2id"},
		{"zero code ttl", func(c *Config) { c.Reset.CodeTTL = 0 }, "code_ttl"},
		{"negative resend window", func(c *Config) { c.Reset.ResendWindow = -time.Second }, "resend_window"},
		{"zero send timeout", func(c *Config) { c.Reset.SendTimeout = 0 }, "send_timeout"},
		{"unknown notify", func(c *Config) { c.Notify.Driver = "sms" }, "notify.driver"},
		{"smtp without host", func(c *Config) { c.Notify.Driver = notifySMTP }, "notify.smtp"},
		{"webhook without url", func(c *Config) { c.Notify.Driver = notifyWebhook }, "notify.webhook.url"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestOpenStore_Bbolt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := openStore(context.Background(), StorageConfig{Driver: driverBbolt, DataDir: dir})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Create(context.Background(), "alice@example.com", "hash")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "users.db"))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), StorageConfig{Driver: "sqlite"})
	require.Error(t, err)
}

func TestNewHasher_AcceptsBothFormats(t *testing.T) {
	bcryptOnly, err := newHasher(AuthConfig{Hasher: hasherBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	params := util.DefaultArgon2idParams()
	params.MemoryKiB = 19 * 1024
	params.Time = 1
	argon, err := newHasher(AuthConfig{Hasher: hasherArgon2id, BcryptCost: bcrypt.MinCost, Argon2id: params})
	require.NoError(t, err)

	bcryptHash, err := bcryptOnly.Hash("secret1")
	require.NoError(t, err)
	argonHash, err := argon.Hash("secret1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(argonHash, "$argon2id$"))

	for _, h := range []crypto.PasswordHasher{bcryptOnly, argon} {
		for _, hash := range []string{bcryptHash, argonHash} {
			ok, err := h.Verify("secret1", hash)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	}
	assert.True(t, argon.(crypto.Scheme).NeedsRehash(bcryptHash))
	assert.False(t, argon.(crypto.Scheme).NeedsRehash(argonHash))
}

func TestNewSender(t *testing.T) {
	s, err := newSender(NotifyConfig{Driver: notifyNone})
	require.NoError(t, err)
	assert.IsType(t, notify.Disabled{}, s)

	s, err = newSender(NotifyConfig{Driver: notifySMTP, SMTP: notify.SMTPConfig{Host: "mail.example.com", From: "a@example.com"}})
	require.NoError(t, err)
	assert.IsType(t, &notify.SMTP{}, s)

	s, err = newSender(NotifyConfig{Driver: notifyWebhook, Webhook: WebhookConfig{URL: "https://relay.example.com/send"}})
	require.NoError(t, err)
	assert.IsType(t, &notify.Webhook{}, s)

	_, err = newSender(NotifyConfig{Driver: "sms"})
	require.Error(t, err)
}

func TestNewResendLimiter(t *testing.T) {
	ctx := context.Background()

	l, err := newResendLimiter(ctx, ResetConfig{}, RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = newResendLimiter(ctx, ResetConfig{ResendWindow: time.Minute}, RedisConfig{})
	require.NoError(t, err)
	ok, _, err := l.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, retry, err := l.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Positive(t, retry)
	l.sweep()
	require.NoError(t, l.close())

	mr := miniredis.RunT(t)
	l, err = newResendLimiter(ctx, ResetConfig{ResendWindow: time.Minute}, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	ok, _, err = l.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = l.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, l.close())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 16)
	done := make(chan struct{})
	go func() {
		runSweeper(ctx, time.Millisecond, func() {
			select {
			case calls <- struct{}{}:
			default:
			}
		})
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestBuildHandler_ServesAPI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, cleanup, err := buildHandler(ctx, validConfig(), logger)
	require.NoError(t, err)
	defer cleanup()

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	resp, err = http.Post(srv.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var out struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "alice@example.com", out.Email)
	assert.NotEmpty(t, out.Token)
}

func TestBuildHandler_RejectsBadProxies(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}
	_, _, err := buildHandler(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "budgetkeeper "+Version+"\n", out.String())
}
