// Package config defines the typed configuration schema of the service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Session store backends
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds every recognised setting. It is built once at startup and
// passed by pointer; nothing reads the environment after Load returns.
type Config struct {
	Env  string `env:"EAUTH_ENV" envDefault:"production"`
	Port int    `env:"EAUTH_PORT" envDefault:"8080"`

	// Secret signs the session cookie
	Secret string `env:"EAUTH_SECRET"`

	Banner         string        `env:"EAUTH_BANNER" envDefault:"Eauth"`
	MessagePrefix  string        `env:"EAUTH_MESSAGE_PREFIX"`
	SessionTimeout int           `env:"EAUTH_SESSION_TIMEOUT" envDefault:"3600"`
	Issuer         string        `env:"EAUTH_ISSUER" envDefault:"https://example.com"`
	ChainID        int64         `env:"EAUTH_CHAIN_ID" envDefault:"1"`
	ChallengeTTL   time.Duration `env:"EAUTH_CHALLENGE_TTL" envDefault:"5m"`

	Components Components

	RPCURL        string        `env:"EAUTH_RPC_URL"`
	DatabasePath  string        `env:"EAUTH_DATABASE_PATH" envDefault:"eauth.db"`
	SessionStore  string        `env:"EAUTH_SESSION_STORE" envDefault:"sqlite"`
	RedisURL      string        `env:"EAUTH_REDIS_URL"`
	KeyDir        string        `env:"EAUTH_KEY_DIR" envDefault:"."`
	RetryInterval time.Duration `env:"EAUTH_INIT_RETRY_INTERVAL" envDefault:"5s"`
	AuthorizePath string        `env:"EAUTH_AUTHORIZE_PATH" envDefault:"/oauth/authorize"`

	LogLevel string `env:"EAUTH_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"EAUTH_LOG_JSON"`
}

// Components toggles the optional parts of the service
type Components struct {
	UI       bool `env:"EAUTH_COMPONENTS_UI"`
	Contract bool `env:"EAUTH_COMPONENTS_CONTRACT"`
	OAuth    bool `env:"EAUTH_COMPONENTS_OAUTH"`
	QRCode   bool `env:"EAUTH_COMPONENTS_QRCODE"`
	ENS      bool `env:"EAUTH_COMPONENTS_ENS"`
}

// Load reads the given dotenv files (missing files are ignored), then parses
// and validates the environment.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("EAUTH_SECRET is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("EAUTH_PORT %d out of range", c.Port)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("EAUTH_SESSION_TIMEOUT must be positive, got %d", c.SessionTimeout)
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("EAUTH_CHALLENGE_TTL must be positive, got %s", c.ChallengeTTL)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("EAUTH_INIT_RETRY_INTERVAL must be positive, got %s", c.RetryInterval)
	}
	switch c.SessionStore {
	case StoreSQLite, StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("EAUTH_SESSION_STORE=redis requires EAUTH_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown EAUTH_SESSION_STORE %q", c.SessionStore)
	}
	if c.SessionStore == StoreSQLite && c.DatabasePath == "" {
		return errors.New("EAUTH_DATABASE_PATH is required")
	}
	if c.Components.ENS && c.RPCURL == "" {
		return errors.New("EAUTH_COMPONENTS_ENS requires EAUTH_RPC_URL")
	}
	if c.AuthorizePath == "" || c.AuthorizePath[0] != '/' {
		return fmt.Errorf("EAUTH_AUTHORIZE_PATH must be an absolute path, got %q", c.AuthorizePath)
	}
	return nil
}

// Development reports whether error pages may show internal detail
func (c *Config) Development() bool {
	return c.Env == "development"
}

// SessionTTL returns the session timeout as a duration
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
