// Command oscqueryd runs a standalone OSCQuery server: it advertises over
// mDNS, serves the method tree over HTTP, and accepts OSC over WebSocket and
// UDP. The tree is pre-populated from the configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/defektu/oscquery/config"
	"github.com/defektu/oscquery/metric"
	"github.com/defektu/oscquery/server"
)

var version = "dev"

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("oscqueryd %s\n", version)
		return
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, cli)

	if cli.Validate {
		fmt.Println("configuration OK")
		return
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	registry := metric.NewMetricsRegistry()

	srv, err := server.NewServer(cfg.ServerOptions(), server.Deps{
		Logger:          logger,
		MetricsRegistry: registry,
	})
	if err != nil {
		logger.Error("server construction failed", "error", err)
		os.Exit(1)
	}

	for _, m := range cfg.Methods {
		if err := srv.AddMethod(m.Path, m.TreeOpts()); err != nil {
			logger.Error("method creation failed", "path", m.Path, "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Port != 0 {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics server startup failed", "error", err)
			_ = srv.Stop(cli.ShutdownTimeout)
			os.Exit(1)
		}
		logger.Info("metrics exposed", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	logger.Info("oscqueryd running",
		"version", version,
		"service", srv.ServiceName(),
		"httpPort", srv.HTTPPort(),
		"wsPort", srv.WSPort())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", "timeout", cli.ShutdownTimeout)
	if metricsServer != nil {
		_ = metricsServer.Stop(cli.ShutdownTimeout)
	}
	if err := srv.Stop(cli.ShutdownTimeout); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
}

// applyOverrides layers CLI/env values over the file configuration.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ServiceName != "" {
		cfg.Service.ServiceName = cli.ServiceName
	}
	if cli.HTTPPort != 0 {
		cfg.Service.HTTPPort = cli.HTTPPort
	}
	if cli.MetricsPort != 0 {
		cfg.Metrics.Port = cli.MetricsPort
	}
}
