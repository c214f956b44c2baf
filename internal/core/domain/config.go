package domain

import "time"

// ProviderConfig describes one backend. Loaded once at startup, read-only
// thereafter; owned by the failover service.
type ProviderConfig struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Type    string `json:"type" yaml:"type" mapstructure:"type" validate:"required"`
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	Model   string `json:"model" yaml:"model" mapstructure:"model" validate:"required"`

	// Priority orders candidates; lower is tried first. Providers sharing a
	// priority keep their configuration order.
	Priority int `json:"priority" yaml:"priority" mapstructure:"priority" validate:"min=0"`

	// Cost per 1K tokens, used to price completed requests.
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k" mapstructure:"input_cost_per_1k" validate:"min=0"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k" mapstructure:"output_cost_per_1k" validate:"min=0"`

	// Tags are capability labels matched against a request's required_tags.
	// The "free" tag additionally marks budget-degradation fallbacks.
	Tags []string `json:"tags" yaml:"tags" mapstructure:"tags"`

	Breaker   BreakerConfig   `json:"circuit_breaker" yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// Timeout bounds a single upstream call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// BreakerConfig holds per-provider circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"min=1"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls" yaml:"half_open_max_calls" mapstructure:"half_open_max_calls" validate:"min=1"`
}

// RateLimitConfig holds per-provider admission limits.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst" validate:"min=1"`
}

// HasTag reports whether the provider carries the given capability tag.
func (p ProviderConfig) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the provider's tag set is a superset of tags.
func (p ProviderConfig) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !p.HasTag(t) {
			return false
		}
	}
	return true
}
