package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/budgetkeeper/account"
	"github.com/jmcleod/budgetkeeper/crypto"
	"github.com/jmcleod/budgetkeeper/internal/util"
	"github.com/jmcleod/budgetkeeper/notify"
	"github.com/jmcleod/budgetkeeper/session"
)

// Environment variables that fill secrets after the file and flags.
const (
	envJWTSecret    = "BUDGETKEEPER_JWT_SECRET"
	envDatabaseDSN  = "BUDGETKEEPER_DATABASE_DSN"
	envSMTPPassword = "BUDGETKEEPER_SMTP_PASSWORD"
)

const (
	driverBbolt    = "bbolt"
	driverPostgres = "postgres"
	driverMemory   = "memory"

	hasherBcrypt   = "bcrypt"
	hasherArgon2id = "argon2id"

	notifyNone    = "none"
	notifySMTP    = "smtp"
	notifyWebhook = "webhook"
)

// Config is the server configuration file layout.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Reset   ResetConfig   `yaml:"reset"`
	Notify  NotifyConfig  `yaml:"notify"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
	// AutoMigrate applies pending Postgres migrations on server start.
	AutoMigrate bool `yaml:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret  string              `yaml:"jwt_secret"`
	JWTIssuer  string              `yaml:"jwt_issuer"`
	TokenTTL   time.Duration       `yaml:"token_ttl"`
	BcryptCost int                 `yaml:"bcrypt_cost"`
	Hasher     string              `yaml:"hasher"`
	Argon2id   util.Argon2idParams `yaml:"argon2id"`
}

type ResetConfig struct {
	CodeTTL                     time.Duration `yaml:"code_ttl"`
	ResendWindow                time.Duration `yaml:"resend_window"`
	RevealUnknownEmail          bool          `yaml:"reveal_unknown_email"`
	ExposeCodeOnDeliveryFailure bool          `yaml:"expose_code_on_delivery_failure"`
	SendTimeout                 time.Duration `yaml:"send_timeout"`
}

type NotifyConfig struct {
	Driver  string            `yaml:"driver"`
	SMTP    notify.SMTPConfig `yaml:"smtp"`
	Webhook WebhookConfig     `yaml:"webhook"`
}

type WebhookConfig struct {
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
}

// RedisConfig enables the shared resend limiter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used for any field the file leaves
// unset. The JWT secret has no default.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Storage: StorageConfig{
			Driver:  driverBbolt,
			DataDir: "./data",
		},
		Auth: AuthConfig{
			JWTIssuer:  "budgetkeeper",
			TokenTTL:   session.DefaultTTL,
			BcryptCost: crypto.DefaultBcryptCost,
			Hasher:     hasherBcrypt,
			Argon2id:   util.DefaultArgon2idParams(),
		},
		// ResendWindow stays zero: each forgot-password call replaces the
		// previous code unless a throttle is configured.
		Reset: ResetConfig{
			CodeTTL:     account.DefaultResetTTL,
			SendTimeout: account.DefaultSendTimeout,
		},
		Notify: NotifyConfig{Driver: notifyNone},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path over DefaultConfig. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv fills secrets from the environment. Set variables win over the
// file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(envJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv(envDatabaseDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := getenv(envSMTPPassword); v != "" {
		c.Notify.SMTP.Password = v
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}

	switch c.Storage.Driver {
	case driverBbolt:
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for the bbolt driver")
		}
	case driverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn (or %s) is required for the postgres driver", envDatabaseDSN)
		}
	case driverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (or %s) is required", envJWTSecret)
	}
	if len(c.Auth.JWTSecret) < session.MinSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", session.MinSecretLen)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}
	switch c.Auth.Hasher {
	case hasherBcrypt:
	case hasherArgon2id:
		if err := util.ValidateArgon2idParams(c.Auth.Argon2id); err != nil {
			return fmt.Errorf("auth.argon2id: %w", err)
		}
	default:
		return fmt.Errorf("unknown auth.hasher %q", c.Auth.Hasher)
	}

	if c.Reset.CodeTTL <= 0 {
		return fmt.Errorf("reset.code_ttl must be positive, got %s", c.Reset.CodeTTL)
	}
	if c.Reset.ResendWindow < 0 {
		return fmt.Errorf("reset.resend_window must not be negative, got %s", c.Reset.ResendWindow)
	}
	if c.Reset.SendTimeout <= 0 {
		return fmt.Errorf("reset.send_timeout must be positive, got %s", c.Reset.SendTimeout)
	}

	switch c.Notify.Driver {
	case notifyNone, "":
	case notifySMTP:
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return errors.New("notify.smtp.host and notify.smtp.from are required for the smtp driver")
		}
	case notifyWebhook:
		if c.Notify.Webhook.URL == "" {
			return errors.New("notify.webhook.url is required for the webhook driver")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
