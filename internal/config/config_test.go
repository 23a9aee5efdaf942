package config

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StreamStaleWindow <= cfg.ClientHeartbeatInterval {
		t.Fatalf("defaults violate the staleness constraint: window=%s interval=%s",
			cfg.StreamStaleWindow, cfg.ClientHeartbeatInterval)
	}
	if cfg.DefaultMaxStreams != 2 {
		t.Fatalf("DefaultMaxStreams = %d", cfg.DefaultMaxStreams)
	}
	if cfg.IsProd() {
		t.Fatal("dev profile must not report prod")
	}
}

func TestLoadRejectsStaleWindowAtOrBelowHeartbeat(t *testing.T) {
	t.Setenv("CLIENT_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("STREAM_STALE_WINDOW", "30s")

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "STREAM_STALE_WINDOW") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresJWTSecretInProd(t *testing.T) {
	t.Setenv("APP_PROFILE", "prod")
	t.Setenv("JWT_ACCESS_SECRET", "")

	if _, err := Load(context.Background()); err == nil {
		t.Fatal("prod profile must require a jwt secret")
	}

	t.Setenv("JWT_ACCESS_SECRET", "s3cret")
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProd() {
		t.Fatal("expected prod profile")
	}
}

func TestMaxStreamsForPlan(t *testing.T) {
	t.Setenv("PLAN_STREAM_LIMITS", "basic:1,standard:2,premium:4")
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := cfg.MaxStreamsForPlan("premium"); got != 4 {
		t.Fatalf("premium = %d, want 4", got)
	}
	if got := cfg.MaxStreamsForPlan(" Premium "); got != 4 {
		t.Fatalf("plan lookup must normalize, got %d", got)
	}
	if got := cfg.MaxStreamsForPlan("unknown-plan"); got != cfg.DefaultMaxStreams {
		t.Fatalf("unknown plan = %d, want default %d", got, cfg.DefaultMaxStreams)
	}
	if got := cfg.MaxStreamsForPlan(""); got != cfg.DefaultMaxStreams {
		t.Fatalf("empty plan = %d, want default", got)
	}
}

func TestLoadRejectsZeroPlanLimit(t *testing.T) {
	t.Setenv("PLAN_STREAM_LIMITS", "basic:0")
	if _, err := Load(context.Background()); err == nil {
		t.Fatal("zero plan limit must fail validation")
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		" Debug ": slog.LevelDebug,
	}
	for name, want := range cases {
		cfg := &Config{LogLevelName: name}
		if got := cfg.LogLevel(); got != want {
			t.Fatalf("LogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
