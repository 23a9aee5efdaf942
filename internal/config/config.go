package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Profile  string `envconfig:"APP_PROFILE" default:"dev"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevelName string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty DATABASE_URL falls back to a local sqlite file, which is the dev
	// profile default.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"playback.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	JWTIssuer       string `envconfig:"JWT_ISSUER" default:"playback-license-service"`
	JWTAudience     string `envconfig:"JWT_AUDIENCE" default:"playback-clients"`
	JWTAccessSecret string `envconfig:"JWT_ACCESS_SECRET"`

	// StreamStaleWindow is the single staleness definition shared by
	// admission counting and the heartbeat sweeper. It must be strictly
	// larger than the client heartbeat interval or healthy sessions get
	// reaped on network jitter.
	ClientHeartbeatInterval time.Duration `envconfig:"CLIENT_HEARTBEAT_INTERVAL" default:"30s"`
	StreamStaleWindow       time.Duration `envconfig:"STREAM_STALE_WINDOW" default:"75s"`
	SweepInterval           time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`

	DefaultLicenseTTL     time.Duration  `envconfig:"DEFAULT_LICENSE_TTL" default:"720h"`
	DefaultMaxStreams     int            `envconfig:"DEFAULT_MAX_CONCURRENT_STREAMS" default:"2"`
	PlanStreamLimits      map[string]int `envconfig:"PLAN_STREAM_LIMITS" default:"basic:1,standard:2,premium:4"`
	LicenseLookupCacheTTL time.Duration  `envconfig:"LICENSE_LOOKUP_CACHE_TTL" default:"30s"`
	AdmissionLockTTL      time.Duration  `envconfig:"ADMISSION_LOCK_TTL" default:"5s"`
	AuditListLimit        int            `envconfig:"AUDIT_LIST_LIMIT" default:"100"`

	OTELServiceName           string        `envconfig:"OTEL_SERVICE_NAME" default:"playback-license-service"`
	OTELEnvironment           string        `envconfig:"OTEL_ENVIRONMENT" default:"dev"`
	OTELExporterOTLPEndpoint  string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	OTELMetricsEnabled        bool          `envconfig:"OTEL_METRICS_ENABLED" default:"false"`
	OTELTracesEnabled         bool          `envconfig:"OTEL_TRACES_ENABLED" default:"false"`
	OTELLogsEnabled           bool          `envconfig:"OTEL_LOGS_ENABLED" default:"false"`
	OTELMetricsExportInterval time.Duration `envconfig:"OTEL_METRICS_EXPORT_INTERVAL" default:"30s"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		err = fmt.Errorf("parse config from environment: %w", err)
		recordConfigValidationEvent(ctx, cfg.Profile, "error", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "error", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.StreamStaleWindow <= c.ClientHeartbeatInterval {
		return fmt.Errorf("validate config: STREAM_STALE_WINDOW (%s) must exceed CLIENT_HEARTBEAT_INTERVAL (%s)",
			c.StreamStaleWindow, c.ClientHeartbeatInterval)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("validate config: SWEEP_INTERVAL must be positive")
	}
	if c.DefaultMaxStreams < 1 {
		return fmt.Errorf("validate config: DEFAULT_MAX_CONCURRENT_STREAMS must be at least 1")
	}
	for plan, limit := range c.PlanStreamLimits {
		if limit < 1 {
			return fmt.Errorf("validate config: PLAN_STREAM_LIMITS entry %q must be at least 1", plan)
		}
	}
	if c.IsProd() && c.JWTAccessSecret == "" {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET is required in the prod profile")
	}
	return nil
}

func (c *Config) IsProd() bool {
	return strings.EqualFold(strings.TrimSpace(c.Profile), "prod")
}

// MaxStreamsForPlan resolves the concurrency limit for a plan name; unknown
// or empty plans get the default. Limits are configuration, never hard-coded
// at call sites.
func (c *Config) MaxStreamsForPlan(plan string) int {
	if limit, ok := c.PlanStreamLimits[strings.ToLower(strings.TrimSpace(plan))]; ok {
		return limit
	}
	return c.DefaultMaxStreams
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevelName)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
