// Package config reads the service configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"snare/pkg/utils/coerce"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration.
type Config struct {
	Env  string
	Port string

	ScriptsDir      string
	Sandbox         bool
	Preload         bool
	LockWaitTimeout time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
	JWTSecret         string
	BrotliEnabled     bool
	BlockedIPs        []string
	BlocklistFile     string

	AuditDriver string
	AuditDSN    string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Env:               "development",
		Port:              ":3000",
		ScriptsDir:        "scripts",
		Sandbox:           true,
		Preload:           true,
		LockWaitTimeout:   5 * time.Second,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		CORSOrigins:       []string{"*"},
		BrotliEnabled:     true,
	}
}

// Load reads .env (when present) and the process environment on top of the
// defaults, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which has the os.LookupEnv signature.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := coerce.ToBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := coerce.ToDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("APP_ENV", &cfg.Env)
	str("APP_PORT", &cfg.Port)
	str("SCRIPTS_DIR", &cfg.ScriptsDir)
	boolean("SCRIPT_SANDBOX", &cfg.Sandbox)
	boolean("SCRIPT_PRELOAD", &cfg.Preload)
	duration("LOCK_WAIT_TIMEOUT", &cfg.LockWaitTimeout)
	duration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)
	str("API_JWT_SECRET", &cfg.JWTSecret)
	boolean("BROTLI_ENABLED", &cfg.BrotliEnabled)
	str("BLOCKLIST_FILE", &cfg.BlocklistFile)
	str("AUDIT_DRIVER", &cfg.AuditDriver)
	str("AUDIT_DSN", &cfg.AuditDSN)

	if v, ok := lookup("RATE_LIMIT_REQUESTS"); ok && strings.TrimSpace(v) != "" {
		n, err := coerce.ToInt(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS: %w", err))
		} else {
			cfg.RateLimitRequests = n
		}
	}
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.CORSOrigins = coerce.ToStringSlice(v)
	}
	if v, ok := lookup("BLOCKED_IPS"); ok && strings.TrimSpace(v) != "" {
		cfg.BlockedIPs = coerce.ToStringSlice(v)
	}

	if !strings.HasPrefix(cfg.Port, ":") && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ScriptsDir == "" {
		errs = append(errs, errors.New("SCRIPTS_DIR must not be empty"))
	}
	if c.LockWaitTimeout < 0 {
		errs = append(errs, errors.New("LOCK_WAIT_TIMEOUT must not be negative"))
	}
	if c.RateLimitRequests < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must not be negative"))
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive when rate limiting is on"))
	}
	if (c.AuditDriver == "") != (c.AuditDSN == "") {
		errs = append(errs, errors.New("AUDIT_DRIVER and AUDIT_DSN must be set together"))
	}
	if c.Env == "production" && len(c.JWTSecret) > 0 && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("API_JWT_SECRET must be at least 32 characters in production"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
