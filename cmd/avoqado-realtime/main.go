// Package main implements the entry point for the Avoqado realtime
// server: the WebSocket gateway, session and device registries,
// broadcast dispatch, and the device command bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Joseamica/avoqado-server-sub005/bridge"
	"github.com/Joseamica/avoqado-server-sub005/config"
	"github.com/Joseamica/avoqado-server-sub005/device"
	"github.com/Joseamica/avoqado-server-sub005/dispatch"
	"github.com/Joseamica/avoqado-server-sub005/gateway"
	"github.com/Joseamica/avoqado-server-sub005/identity"
	"github.com/Joseamica/avoqado-server-sub005/metric"
	"github.com/Joseamica/avoqado-server-sub005/natsclient"
	"github.com/Joseamica/avoqado-server-sub005/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "avoqado-realtime"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Avoqado realtime server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewRegistry()
	var metricsServer *metric.Server
	if cfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cfg.MetricsPort, "/metrics", metricsRegistry)
		go func() {
			if serr := metricsServer.Start(); serr != nil {
				slog.Error("metrics server exited", "error", serr)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
	}

	sessions := session.NewRegistry(logger)
	devices := device.NewRegistry(logger)
	verifier := identity.NewVerifier([]byte(cfg.TokenSecret))

	gw := gateway.New(cfg, verifier, sessions, devices, logger, metricsRegistry)
	gw.SetBridge(bridge.New(devices, gw, cfg.CommandTimeout.Std(), logger, metricsRegistry))

	engine := dispatch.NewEngine(sessions, gw, logger, metricsRegistry)
	natsClient, err := setupRelay(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close()
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	return waitForShutdown(gw, cfg.ShutdownTimeout.Std())
}

// setupRelay connects the cross-instance broadcast relay when a NATS
// URL is configured. A broker that cannot be reached degrades the
// server to in-memory fan-out rather than failing startup.
func setupRelay(ctx context.Context, cfg config.Config, engine *dispatch.Engine, logger *slog.Logger) (*natsclient.Client, error) {
	if cfg.NATSURL == "" {
		slog.Info("no NATS URL configured, broadcasts stay in-memory")
		return nil, nil
	}

	natsClient := natsclient.NewClient(cfg.NATSURL,
		natsclient.WithName(appName),
		natsclient.WithConnectTimeout(10*time.Second),
	)

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connCtx); err != nil {
		slog.Warn("NATS unreachable, broadcasts stay in-memory", "url", cfg.NATSURL, "error", err)
		return nil, nil
	}

	relay := dispatch.NewRelay(natsClient, logger)
	if err := engine.SetRelay(relay); err != nil {
		natsClient.Close()
		return nil, fmt.Errorf("attach broadcast relay: %w", err)
	}

	slog.Info("broadcast relay connected", "url", cfg.NATSURL, "instanceId", relay.InstanceID())
	return natsClient, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the gateway.
func waitForShutdown(gw *gateway.Gateway, timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutdown signal received", "signal", sig.String(), "timeout", timeout)
	if err := gw.Stop(timeout); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
