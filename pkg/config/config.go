// Package config loads the orders-proxy configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/order-api-client/pkg/cache"
	"github.com/Sternrassler/order-api-client/pkg/client"
	"github.com/Sternrassler/order-api-client/pkg/logging"
	"github.com/Sternrassler/order-api-client/pkg/monitor"
	"github.com/Sternrassler/order-api-client/pkg/pagination"
	"github.com/Sternrassler/order-api-client/pkg/ratelimit"
	"github.com/Sternrassler/order-api-client/pkg/webhook"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var validate = validator.New()

// Config holds all orders-proxy configuration.
type Config struct {
	Listen     string            `yaml:"listen" validate:"required"`
	Upstream   UpstreamConfig    `yaml:"upstream"`
	Cache      CacheConfig       `yaml:"cache"`
	Redis      RedisConfig       `yaml:"redis"`
	Limiter    LimiterConfig     `yaml:"limiter"`
	Monitor    MonitorConfig     `yaml:"monitor"`
	Resolver   ResolverConfig    `yaml:"resolver"`
	Pagination pagination.Config `yaml:"pagination"`
	Webhook    webhook.Config    `yaml:"webhook"`
	Logging    logging.Config    `yaml:"logging"`
}

// UpstreamConfig locates and authenticates the order API.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret" validate:"required_with=ConsumerKey"`
	UserAgent      string `yaml:"user_agent"`
}

// CacheConfig selects and sizes the response cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis none"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxEntries    int           `yaml:"max_entries" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// RedisConfig is shared by the redis cache backend and the limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// LimiterConfig controls the per-customer order creation limit.
type LimiterConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limit   ratelimit.Config `yaml:",inline"`
}

// MonitorConfig controls the performance monitor.
type MonitorConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`

	// SQLitePath enables snapshot history when set.
	SQLitePath string `yaml:"sqlite_path"`
}

// ResolverConfig overrides the built-in timeout policies.
type ResolverConfig struct {
	// Rules replace the built-in rules when non-empty.
	Rules          []client.Rule `yaml:"rules" validate:"dive"`
	Default        client.Policy `yaml:"default"`
	AdaptiveFactor float64       `yaml:"adaptive_factor" validate:"gte=0"`
	MaxTimeout     time.Duration `yaml:"max_timeout" validate:"gte=0"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Upstream: UpstreamConfig{
			UserAgent: "order-api-client/1.0",
		},
		Cache: CacheConfig{
			Backend:       CacheMemory,
			TTL:           cache.DefaultTTL,
			MaxEntries:    cache.DefaultMaxEntries,
			SweepInterval: cache.DefaultSweepInterval,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Limiter: LimiterConfig{
			Enabled: false,
			Limit:   ratelimit.DefaultConfig(),
		},
		Monitor: MonitorConfig{
			FlushInterval: monitor.DefaultFlushInterval,
		},
		Pagination: pagination.DefaultConfig(),
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "orders-proxy",
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML onto Default(), applies environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate implements validation for Config using go-playground/validator
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for the redis cache and the limiter", ErrInvalid)
	}
	return nil
}

// ApplyEnv overrides settings from the process environment. PORT must be numeric.
func (c *Config) ApplyEnv() {
	c.Upstream.BaseURL = getEnv("ORDERS_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.ConsumerKey = getEnv("ORDERS_CONSUMER_KEY", c.Upstream.ConsumerKey)
	c.Upstream.ConsumerSecret = getEnv("ORDERS_CONSUMER_SECRET", c.Upstream.ConsumerSecret)
	c.Upstream.UserAgent = getEnv("USER_AGENT", c.Upstream.UserAgent)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Webhook.Secret = getEnv("WEBHOOK_SECRET", c.Webhook.Secret)

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Listen = ":" + port
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == CacheRedis || c.Limiter.Enabled
}

// ClientResolver builds the policy resolver described by c.
func (c *Config) ClientResolver(latency client.LatencySource) *client.Resolver {
	var rules []client.Rule
	if len(c.Resolver.Rules) > 0 {
		rules = c.Resolver.Rules
	}
	return client.NewResolver(client.ResolverConfig{
		Rules:          rules,
		Default:        c.Resolver.Default,
		Latency:        latency,
		AdaptiveFactor: c.Resolver.AdaptiveFactor,
		MaxTimeout:     c.Resolver.MaxTimeout,
	})
}
