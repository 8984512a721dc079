package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

var configKeys = []string{
	"HTTP_ADDR", "DATABASE_URL", "REDIS_URL", "TABLE_PREFIX", "POLL_INTERVAL_MS", "TIMEZONE",
	"WATERMARK_RESUME", "TABLE_CACHE_TTL_SECS", "WS_SEND_BUFFER", "WEB_DIR", "CORS_ORIGINS",
	"LOG_LEVEL", "LOG_FORMAT", "TELEGRAM_BOT_TOKEN", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"MCP_REQUEST_TIMEOUT_SECS", "COLLECTOR_SYMBOL", "COLLECTOR_INTERVAL_SECS",
	"COLLECTOR_DEPTH_LIMIT", "BINANCE_BASE_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		// envconfig only applies defaults to unset variables.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.TablePrefix != "btc" || cfg.WebDir != "web/html" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval() != time.Second {
		t.Fatalf("expected 1s poll interval, got %v", cfg.PollInterval())
	}
	if cfg.WatermarkResume || cfg.ResumeEnabled() {
		t.Fatal("watermark resume must default to off")
	}
	if cfg.TableCacheTTL() != time.Hour || cfg.WSSendBuffer != 256 || cfg.MCPRequestTimeout() != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"*"}) {
		t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
	if cfg.CollectorSymbol != "BTCUSDT" || cfg.CollectorInterval() != time.Minute || cfg.CollectorDepthLimit != 50 {
		t.Fatalf("unexpected collector defaults: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("expected local timezone, got %v, %v", loc, err)
	}
}

func TestParseOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("TABLE_PREFIX", "ETH")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("WATERMARK_RESUME", "true")
	t.Setenv("CORS_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("COLLECTOR_SYMBOL", " ethusdt ")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.TablePrefix != "eth" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.PollInterval())
	}
	if !cfg.ResumeEnabled() {
		t.Fatal("expected resume enabled with redis configured")
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
	if cfg.CollectorSymbol != "ETHUSDT" {
		t.Fatalf("unexpected symbol: %q", cfg.CollectorSymbol)
	}
	loc, _ := cfg.Location()
	if loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %s", loc)
	}
}

func TestParseResumeNeedsRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATERMARK_RESUME", "true")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ResumeEnabled() {
		t.Fatal("resume requires redis")
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"POLL_INTERVAL_MS": "fast",
		"TABLE_PREFIX":     "btc-usd",
		"TIMEZONE":         "Mars/Olympus",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Parse(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestParseClampsNonPositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLL_INTERVAL_MS", "0")
	t.Setenv("WS_SEND_BUFFER", "-1")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollIntervalMS != 1000 || cfg.WSSendBuffer != 256 {
		t.Fatalf("expected clamped defaults, got %+v", cfg)
	}
}
