package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/calder-ai/relay/internal/core/domain"
)

type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	RateLimit RateLimitConfig         `mapstructure:"rate_limit"`
	Budget    BudgetConfig            `mapstructure:"budget"`
	Cache     CacheConfig             `mapstructure:"cache"`
	Store     StoreConfig             `mapstructure:"store"`
	Providers []domain.ProviderConfig `mapstructure:"providers" validate:"dive"`
}

type ServerConfig struct {
	Port    string   `mapstructure:"port"`
	Env     string   `mapstructure:"env"`
	APIKeys []string `mapstructure:"api_keys"`
}

// RateLimitConfig is the gateway-wide limit applied before any
// per-provider bucket is consulted.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gt=0"`
}

type BudgetConfig struct {
	DailyLimit float64 `mapstructure:"daily_limit" validate:"gte=0"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=memory redis none"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LoadConfig reads configuration from config.yaml and the environment.
func LoadConfig() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like LoadConfig but searches dir first when dir is
// non-empty. Environment variables override file values.
func LoadFrom(dir string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("budget.daily_limit", 0.0)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", "relay.db")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	resolveAPIKeys(v, cfg.Providers)
	fillProviderDefaults(cfg.Providers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveAPIKeys replaces "ENV:VAR" placeholders with the value of VAR
// so secrets stay out of the config file.
func resolveAPIKeys(v *viper.Viper, providers []domain.ProviderConfig) {
	for i, p := range providers {
		if !strings.HasPrefix(p.APIKey, "ENV:") {
			continue
		}
		envVar := strings.TrimPrefix(p.APIKey, "ENV:")
		val := os.Getenv(envVar)
		if val == "" {
			val = v.GetString(envVar)
		}
		providers[i].APIKey = val
	}
}

// fillProviderDefaults gives omitted breaker and rate limit settings
// workable values so a minimal provider entry is valid.
func fillProviderDefaults(providers []domain.ProviderConfig) {
	for i := range providers {
		p := &providers[i]
		if p.Breaker.FailureThreshold == 0 {
			p.Breaker.FailureThreshold = 5
		}
		if p.Breaker.RecoveryTimeout == 0 {
			p.Breaker.RecoveryTimeout = 30 * time.Second
		}
		if p.Breaker.HalfOpenMaxCalls == 0 {
			p.Breaker.HalfOpenMaxCalls = 1
		}
		if p.RateLimit.RequestsPerSecond == 0 {
			p.RateLimit.RequestsPerSecond = 10
		}
		if p.RateLimit.Burst == 0 {
			p.RateLimit.Burst = 20
		}
		if p.Timeout == 0 {
			p.Timeout = 30 * time.Second
		}
	}
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
