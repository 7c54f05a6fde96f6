package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProvidersPrefersConfiguredPrimary(t *testing.T) {
	p := NewProviders(Config{
		PreferredProvider: ProviderOpenAI,
		OpenAI:            ProviderConfig{APIKey: "key-o"},
		Anthropic:         ProviderConfig{APIKey: "key-a"},
	})

	require.True(t, p.Available())
	require.Equal(t, "openai", p.Active.Name())
	require.False(t, p.FellBack)
}

func TestNewProvidersFallsBackToSecondary(t *testing.T) {
	p := NewProviders(Config{
		PreferredProvider: ProviderOpenAI,
		Anthropic:         ProviderConfig{APIKey: "key-a", Model: "claude-sonnet-4-0"},
	})

	require.True(t, p.Available())
	require.Equal(t, "anthropic", p.Active.Name())
	require.Equal(t, "claude-sonnet-4-0", p.Model)
	require.True(t, p.FellBack)
}

func TestNewProvidersAnthropicPreferred(t *testing.T) {
	p := NewProviders(Config{
		PreferredProvider: ProviderAnthropic,
		OpenAI:            ProviderConfig{APIKey: "key-o"},
		Anthropic:         ProviderConfig{APIKey: "key-a"},
	})

	require.Equal(t, "anthropic", p.Active.Name())
	require.False(t, p.FellBack)
}

func TestNewProvidersNoCredentials(t *testing.T) {
	p := NewProviders(Config{})

	require.False(t, p.Available())

	status := p.Status()
	require.False(t, status.Available)
	require.Empty(t, status.ActiveProvider)
	require.Equal(t, ProviderOpenAI, status.Preferred)
}

func TestNewProvidersAppliesDefaultModels(t *testing.T) {
	p := NewProviders(Config{OpenAI: ProviderConfig{APIKey: "key-o"}})
	require.Equal(t, "gpt-4o-mini", p.Model)
}
