package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ServiceName     string
	HTTPPort        int
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("OSCQUERY_CONFIG", ""),
		"Path to configuration file (env: OSCQUERY_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OSCQUERY_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: OSCQUERY_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OSCQUERY_LOG_FORMAT", ""),
		"Log format: json, text (env: OSCQUERY_LOG_FORMAT)")

	flag.StringVar(&cfg.ServiceName, "service-name",
		getEnv("OSCQUERY_SERVICE_NAME", ""),
		"mDNS service name override (env: OSCQUERY_SERVICE_NAME)")

	flag.IntVar(&cfg.HTTPPort, "http-port",
		getEnvInt("OSCQUERY_HTTP_PORT", 0),
		"Query port override, 0 keeps the configured port (ephemeral if unset) (env: OSCQUERY_HTTP_PORT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("OSCQUERY_METRICS_PORT", 0),
		"Prometheus port override, 0 keeps the configured port (disabled if unset) (env: OSCQUERY_METRICS_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OSCQUERY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: OSCQUERY_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		fmt.Fprintf(os.Stderr, "warning: ignoring invalid %s=%q\n", key, value)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		fmt.Fprintf(os.Stderr, "warning: ignoring invalid %s=%q\n", key, value)
	}
	return fallback
}
