// Package config loads the realtime server configuration from an
// optional JSON file with environment-variable overrides. Environment
// always wins, so deployments can ship one file and vary per
// environment (e.g. a laxer rate limit in development).
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Joseamica/avoqado-server-sub005/errors"
)

// Config is the complete realtime server configuration.
type Config struct {
	// ListenAddr is the address of the realtime HTTP server (WebSocket
	// endpoint, stats, health).
	ListenAddr string `json:"listenAddr" env:"AVOQADO_LISTEN_ADDR"`
	// WSPath is the WebSocket upgrade path.
	WSPath string `json:"wsPath" env:"AVOQADO_WS_PATH"`
	// AllowedOrigins is the CORS allow-list applied to HTTP requests
	// and to the WebSocket origin check. "*" allows any origin.
	AllowedOrigins []string `json:"allowedOrigins" env:"AVOQADO_ALLOWED_ORIGINS" envSeparator:","`

	// TokenSecret signs and verifies access tokens (HS256).
	TokenSecret string `json:"tokenSecret" env:"AVOQADO_TOKEN_SECRET"`
	// AuthRequired rejects connections that present no token. When
	// false, a connection may authenticate after admission, bounded by
	// AuthTimeout.
	AuthRequired bool `json:"authRequired" env:"AVOQADO_AUTH_REQUIRED"`
	// AuthTimeout force-disconnects connections that never complete
	// authentication.
	AuthTimeout Duration `json:"authTimeout" env:"AVOQADO_AUTH_TIMEOUT"`

	// RateLimitWindow and RateLimitMax bound connection attempts per
	// key (user id when known, else source address) per sliding window.
	RateLimitWindow Duration `json:"rateLimitWindow" env:"AVOQADO_RATE_LIMIT_WINDOW"`
	RateLimitMax    int      `json:"rateLimitMax" env:"AVOQADO_RATE_LIMIT_MAX"`

	// CommandTimeout bounds how long a device command stays pending.
	CommandTimeout Duration `json:"commandTimeout" env:"AVOQADO_COMMAND_TIMEOUT"`

	// NATSURL enables the distributed broadcast relay. Empty keeps
	// fan-out in-memory only.
	NATSURL string `json:"natsUrl" env:"AVOQADO_NATS_URL"`

	// MetricsPort serves the Prometheus scrape endpoint; 0 disables it.
	MetricsPort int `json:"metricsPort" env:"AVOQADO_METRICS_PORT"`

	ShutdownTimeout Duration `json:"shutdownTimeout" env:"AVOQADO_SHUTDOWN_TIMEOUT"`
}

// Default returns the configuration used when neither file nor
// environment overrides a field.
func Default() Config {
	return Config{
		ListenAddr:      ":8082",
		WSPath:          "/ws",
		AllowedOrigins:  []string{"*"},
		AuthRequired:    false,
		AuthTimeout:     Duration(10 * time.Second),
		RateLimitWindow: Duration(time.Minute),
		RateLimitMax:    60,
		CommandTimeout:  Duration(60 * time.Second),
		MetricsPort:     9090,
		ShutdownTimeout: Duration(30 * time.Second),
	}
}

// Load builds the configuration: defaults, then the JSON file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, errors.CodeInternal, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, errors.CodeInternal, "config", "Load", "parse config file")
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, errors.CodeInternal, "config", "Load", "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New(errors.CodeInternal, "listenAddr must not be empty")
	}
	if c.WSPath == "" {
		return errors.New(errors.CodeInternal, "wsPath must not be empty")
	}
	if c.RateLimitMax <= 0 {
		return errors.New(errors.CodeInternal, "rateLimitMax must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New(errors.CodeInternal, "rateLimitWindow must be positive")
	}
	if c.AuthTimeout <= 0 {
		return errors.New(errors.CodeInternal, "authTimeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New(errors.CodeInternal, "commandTimeout must be positive")
	}
	if c.AuthRequired && c.TokenSecret == "" {
		return errors.New(errors.CodeInternal, "authRequired needs a tokenSecret")
	}
	return nil
}
