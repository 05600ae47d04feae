package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8082", cfg.ListenAddr)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout.Std())
	assert.Equal(t, time.Minute, cfg.RateLimitWindow.Std())
	assert.Equal(t, 60, cfg.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout.Std())
	assert.False(t, cfg.AuthRequired)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"listenAddr": ":9000",
		"allowedOrigins": ["https://dashboard.avoqado.io"],
		"authRequired": true,
		"tokenSecret": "s3cret",
		"authTimeout": "5s",
		"rateLimitWindow": "30s",
		"rateLimitMax": 10,
		"commandTimeout": "90s",
		"natsUrl": "nats://localhost:4222"
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, []string{"https://dashboard.avoqado.io"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AuthRequired)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow.Std())
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout.Std())
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rateLimitMax": 10}`), 0o600))

	t.Setenv("AVOQADO_RATE_LIMIT_MAX", "500")
	t.Setenv("AVOQADO_AUTH_TIMEOUT", "3s")
	t.Setenv("AVOQADO_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RateLimitMax)
	assert.Equal(t, 3*time.Second, cfg.AuthTimeout.Std())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{{`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listenAddr", func(c *Config) { c.ListenAddr = "" }},
		{"empty wsPath", func(c *Config) { c.WSPath = "" }},
		{"zero rateLimitMax", func(c *Config) { c.RateLimitMax = 0 }},
		{"zero rateLimitWindow", func(c *Config) { c.RateLimitWindow = 0 }},
		{"zero authTimeout", func(c *Config) { c.AuthTimeout = 0 }},
		{"zero commandTimeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"authRequired without secret", func(c *Config) { c.AuthRequired = true; c.TokenSecret = "" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDuration_JSONNumber(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`"2m"`)))
	assert.Equal(t, 2*time.Minute, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}
