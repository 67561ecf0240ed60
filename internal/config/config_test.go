package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"APP_ENV":              "production",
		"APP_PORT":             "8080",
		"SCRIPTS_DIR":          "/srv/scripts",
		"SCRIPT_SANDBOX":       "false",
		"SCRIPT_PRELOAD":       "0",
		"LOCK_WAIT_TIMEOUT":    "250ms",
		"RATE_LIMIT_REQUESTS":  "20",
		"RATE_LIMIT_WINDOW":    "10s",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"BLOCKED_IPS":          "10.0.0.1, 10.1.0.0/16",
		"AUDIT_DRIVER":         "sqlite",
		"AUDIT_DSN":            "file:audit.db",
		"BROTLI_ENABLED":       "false",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, "/srv/scripts", cfg.ScriptsDir)
	assert.False(t, cfg.Sandbox)
	assert.False(t, cfg.Preload)
	assert.Equal(t, 250*time.Millisecond, cfg.LockWaitTimeout)
	assert.Equal(t, 20, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.1", "10.1.0.0/16"}, cfg.BlockedIPs)
	assert.Equal(t, "sqlite", cfg.AuditDriver)
	assert.False(t, cfg.BrotliEnabled)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := map[string]map[string]string{
		"bad bool":        {"SCRIPT_SANDBOX": "maybe"},
		"bad duration":    {"LOCK_WAIT_TIMEOUT": "soon"},
		"bad int":         {"RATE_LIMIT_REQUESTS": "lots"},
		"negative limit":  {"RATE_LIMIT_REQUESTS": "-1"},
		"audit half set":  {"AUDIT_DRIVER": "mysql"},
		"short jwt(prod)": {"APP_ENV": "production", "API_JWT_SECRET": "short"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}
