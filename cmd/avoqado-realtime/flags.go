package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration. Server behavior itself is
// configured through the JSON file and AVOQADO_* environment variables;
// the CLI only selects the config source and logging shape.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("AVOQADO_CONFIG", ""),
		"Path to JSON configuration file, empty for defaults plus environment (env: AVOQADO_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("AVOQADO_CONFIG", ""),
		"Path to JSON configuration file, empty for defaults plus environment (env: AVOQADO_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("AVOQADO_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: AVOQADO_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("AVOQADO_LOG_FORMAT", "json"),
		"Log format: json, text (env: AVOQADO_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Avoqado realtime server

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/avoqado/realtime.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables only
  export AVOQADO_LISTEN_ADDR=:8082
  export AVOQADO_TOKEN_SECRET=change-me
  %s

  # Validate configuration only
  %s --config=/etc/avoqado/realtime.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
