package config

import (
	"strings"
	"time"

	"btc-stream/internal/domain"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	TablePrefix       string `envconfig:"TABLE_PREFIX" default:"btc"`
	PollIntervalMS    int    `envconfig:"POLL_INTERVAL_MS" default:"1000"`
	Timezone          string `envconfig:"TIMEZONE" default:"Local"`
	WatermarkResume   bool   `envconfig:"WATERMARK_RESUME" default:"false"`
	TableCacheTTLSecs int    `envconfig:"TABLE_CACHE_TTL_SECS" default:"3600"`

	WSSendBuffer int      `envconfig:"WS_SEND_BUFFER" default:"256"`
	WebDir       string   `envconfig:"WEB_DIR" default:"web/html"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS" default:"*"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	OTLPEndpoint     string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	MCPRequestTimeoutSecs int `envconfig:"MCP_REQUEST_TIMEOUT_SECS" default:"5"`

	CollectorSymbol       string `envconfig:"COLLECTOR_SYMBOL" default:"BTCUSDT"`
	CollectorIntervalSecs int    `envconfig:"COLLECTOR_INTERVAL_SECS" default:"60"`
	CollectorDepthLimit   int    `envconfig:"COLLECTOR_DEPTH_LIMIT" default:"50"`
	BinanceBaseURL        string `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
}

// Load reads the environment and exits the process on values that cannot
// be parsed. Missing optional settings only produce warnings.
func Load() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	cfg.TablePrefix = strings.ToLower(strings.TrimSpace(cfg.TablePrefix))
	if _, err := domain.TableForDate(cfg.TablePrefix, time.Now()); err != nil {
		return nil, errors.Wrap(err, "TABLE_PREFIX")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	if cfg.PollIntervalMS <= 0 {
		log.Warnf("POLL_INTERVAL_MS=%d is not positive, using 1000", cfg.PollIntervalMS)
		cfg.PollIntervalMS = 1000
	}
	if cfg.TableCacheTTLSecs <= 0 {
		cfg.TableCacheTTLSecs = 3600
	}
	if cfg.WSSendBuffer <= 0 {
		cfg.WSSendBuffer = 256
	}
	if cfg.MCPRequestTimeoutSecs <= 0 {
		cfg.MCPRequestTimeoutSecs = 5
	}
	if cfg.CollectorIntervalSecs <= 0 {
		cfg.CollectorIntervalSecs = 60
	}
	if cfg.CollectorDepthLimit <= 0 {
		cfg.CollectorDepthLimit = 50
	}
	cfg.CollectorSymbol = strings.ToUpper(strings.TrimSpace(cfg.CollectorSymbol))

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, table cache and watermark resume disabled")
		if cfg.WatermarkResume {
			log.Println("Warning: WATERMARK_RESUME requires REDIS_URL, poller will start from 0")
		}
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, store alerts disabled")
	}

	return &cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Location resolves TIMEZONE. Day tables roll over at midnight in this zone.
func (c *Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "TIMEZONE %q", c.Timezone)
	}
	return loc, nil
}

func (c *Config) TableCacheTTL() time.Duration {
	return time.Duration(c.TableCacheTTLSecs) * time.Second
}

func (c *Config) MCPRequestTimeout() time.Duration {
	return time.Duration(c.MCPRequestTimeoutSecs) * time.Second
}

func (c *Config) CollectorInterval() time.Duration {
	return time.Duration(c.CollectorIntervalSecs) * time.Second
}

// ResumeEnabled reports whether poller watermarks are persisted.
func (c *Config) ResumeEnabled() bool {
	return c.WatermarkResume && c.RedisURL != ""
}
