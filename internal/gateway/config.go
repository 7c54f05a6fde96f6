package gateway

import (
	"strings"
	"time"
)

// Provider identifiers accepted by Config.PreferredProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Rate-limited endpoint names. One quota bucket exists per (user, endpoint).
const (
	EndpointSummary     = "summary"
	EndpointSuggestions = "suggestions"
	EndpointAutoLabel   = "autolabel"
)

// Config defines provider and gating configuration for the AI gateway.
//
// This is intentionally self-contained so it can be rebuilt wholesale on
// reload rather than mutated in place.
type Config struct {
	// PreferredProvider selects the primary backend; the other configured
	// provider acts as fallback when the preferred one has no credential.
	PreferredProvider string `mapstructure:"preferred_provider"`

	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`

	// RequestTimeout bounds every single provider invocation. A timeout
	// classifies as transient and is retried.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`

	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`

	// PromptsDir allows operators to override the built-in prompt set.
	PromptsDir string `mapstructure:"prompts_dir"`
}

// ProviderConfig holds one backend's credential and model selection.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Configured reports whether a usable credential is present.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.PreferredProvider) == "" {
		c.PreferredProvider = ProviderOpenAI
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 20
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if strings.TrimSpace(c.OpenAI.Model) == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(c.Anthropic.Model) == "" {
		c.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	return c
}
