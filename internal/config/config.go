package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config carries environment-driven settings for the server process.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	MySQLDSN  string
	RedisAddr string

	AdminUsername      string
	AdminPassword      string
	AdminSessionSecret string

	SyncConcurrency        int
	StockReconcileInterval time.Duration
	IdempotencyTTL         time.Duration

	OTLPEndpoint        string
	TraceStdout         bool
	OTLPMetricsEndpoint string
	MetricsInterval     time.Duration

	LogLevel  logrus.Level
	LogFormat string
}

// Load reads environment variables, applies defaults, and validates basic constraints.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:            envDefault("HTTP_ADDR", ":8080"),
		GRPCAddr:            envDefault("GRPC_ADDR", ":50051"),
		MySQLDSN:            strings.TrimSpace(os.Getenv("MYSQL_DSN")),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		AdminUsername:       envDefault("ADMIN_USERNAME", "admin"),
		AdminPassword:       strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		AdminSessionSecret:  strings.TrimSpace(os.Getenv("ADMIN_SESSION_SECRET")),
		OTLPEndpoint:        strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TraceStdout:         isTruthy(os.Getenv("OTEL_TRACES_STDOUT")),
		OTLPMetricsEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")),
		LogFormat:           strings.ToLower(envDefault("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.SyncConcurrency, err = positiveInt("SYNC_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.StockReconcileInterval, err = positiveDuration("STOCK_RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = positiveDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MetricsInterval, err = positiveDuration("OTEL_METRIC_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}

	cfg.LogLevel, err = logrus.ParseLevel(envDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be text or json")
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", key)
	}
	return d, nil
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func isTruthy(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value == "1" || value == "true" || value == "yes"
}
