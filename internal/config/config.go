package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Search     SearchConfig     `yaml:"search"`
	AI         AIConfig         `yaml:"ai"`
	Cache      CacheConfig      `yaml:"cache"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	MetricsPort    int      `yaml:"metrics_port"`
	AdminToken     string   `yaml:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimitRequests requests per client are allowed every RateLimitWindowMs.
	RateLimitRequests int `yaml:"rate_limit_requests"`
	RateLimitWindowMs int `yaml:"rate_limit_window_ms"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP. Enable
	// only behind a reverse proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`
	// SuggestRateLimit* apply to POST /api/suggest on top of the global limit.
	SuggestRateLimitRequests int `yaml:"suggest_rate_limit_requests"`
	SuggestRateLimitWindowMs int `yaml:"suggest_rate_limit_window_ms"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type SearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

type AIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTLMs    int    `yaml:"ttl_ms"`
}

type ScoringConfig struct {
	// SignalsPath optionally points at a YAML file overriding the keyword tables.
	SignalsPath string `yaml:"signals_path"`
}

// EnrichmentConfig drives the background loops. Zero disables a loop.
type EnrichmentConfig struct {
	RescoreIntervalMs int `yaml:"rescore_interval_ms"`
	SyncIntervalMs    int `yaml:"sync_interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Server.RateLimitWindowMs) * time.Millisecond
}

func (c *Config) SuggestRateLimitWindow() time.Duration {
	return time.Duration(c.Server.SuggestRateLimitWindowMs) * time.Millisecond
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}

func (c *Config) RescoreInterval() time.Duration {
	return time.Duration(c.Enrichment.RescoreIntervalMs) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Enrichment.SyncIntervalMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        3000,
			MetricsPort: 3001,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://localhost:4173",
				"https://ecolojia.com",
				"https://www.ecolojia.com",
				"https://ecolojia.vercel.app",
			},
			RateLimitRequests: 100,
			RateLimitWindowMs: 15 * 60 * 1000,

			SuggestRateLimitRequests: 5,
			SuggestRateLimitWindowMs: 60 * 1000,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Search: SearchConfig{
			Host:  "http://localhost:7700",
			Index: "products",
		},
		AI: AIConfig{
			BaseURL:   "https://api.deepseek.com/v1",
			Model:     "deepseek-chat",
			TimeoutMs: 10000,
		},
		Cache: CacheConfig{
			TTLMs: 3600000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envInt("ECOLOJIA_PORT", &cfg.Server.Port)
	envInt("ECOLOJIA_METRICS_PORT", &cfg.Server.MetricsPort)
	envString("ECOLOJIA_ADMIN_TOKEN", &cfg.Server.AdminToken)
	if v := os.Getenv("ECOLOJIA_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	envInt("ECOLOJIA_RATE_LIMIT_REQUESTS", &cfg.Server.RateLimitRequests)
	envInt("ECOLOJIA_RATE_LIMIT_WINDOW_MS", &cfg.Server.RateLimitWindowMs)
	envBool("ECOLOJIA_TRUST_PROXY", &cfg.Server.TrustProxy)
	envInt("ECOLOJIA_SUGGEST_RATE_LIMIT_REQUESTS", &cfg.Server.SuggestRateLimitRequests)
	envInt("ECOLOJIA_SUGGEST_RATE_LIMIT_WINDOW_MS", &cfg.Server.SuggestRateLimitWindowMs)

	envString("ECOLOJIA_DATABASE_URL", &cfg.Database.URL)
	envString("ECOLOJIA_NATS_URL", &cfg.NATS.URL)

	envString("ECOLOJIA_SEARCH_HOST", &cfg.Search.Host)
	envString("ECOLOJIA_SEARCH_API_KEY", &cfg.Search.APIKey)
	envString("ECOLOJIA_SEARCH_INDEX", &cfg.Search.Index)

	envBool("ECOLOJIA_AI_ENABLED", &cfg.AI.Enabled)
	envString("ECOLOJIA_AI_BASE_URL", &cfg.AI.BaseURL)
	envString("ECOLOJIA_AI_API_KEY", &cfg.AI.APIKey)
	envString("ECOLOJIA_AI_MODEL", &cfg.AI.Model)
	envInt("ECOLOJIA_AI_TIMEOUT_MS", &cfg.AI.TimeoutMs)

	envString("ECOLOJIA_REDIS_URL", &cfg.Cache.RedisURL)
	envString("ECOLOJIA_SIGNALS_PATH", &cfg.Scoring.SignalsPath)
	envInt("ECOLOJIA_RESCORE_INTERVAL_MS", &cfg.Enrichment.RescoreIntervalMs)
	envInt("ECOLOJIA_SYNC_INTERVAL_MS", &cfg.Enrichment.SyncIntervalMs)
	envString("ECOLOJIA_LOG_LEVEL", &cfg.Logging.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
