package gateway

import (
	"github.com/tracklens/tracklens/internal/gateway/driver"
	"github.com/tracklens/tracklens/internal/gateway/driver/anthropic"
	"github.com/tracklens/tracklens/internal/gateway/driver/openai"
)

// Providers is an immutable snapshot of the resolved provider chain. A new
// snapshot is built on startup and on every reload; in-flight requests keep
// using the snapshot they started with.
type Providers struct {
	Active    driver.Driver
	Model     string
	Preferred string
	FellBack  bool
}

// ProviderStatus is the externally visible shape of a Providers snapshot.
type ProviderStatus struct {
	Available      bool   `json:"available"`
	ActiveProvider string `json:"active_provider,omitempty"`
	Model          string `json:"model,omitempty"`
	Preferred      string `json:"preferred"`
	FellBack       bool   `json:"fell_back"`
}

// NewProviders resolves the active driver from cfg. The preferred provider
// wins when it has a credential; otherwise the other configured provider is
// used and FellBack is set. With no credentials at all, Active is nil.
func NewProviders(cfg Config) *Providers {
	cfg = cfg.withDefaults()

	order := []string{ProviderOpenAI, ProviderAnthropic}
	if cfg.PreferredProvider == ProviderAnthropic {
		order = []string{ProviderAnthropic, ProviderOpenAI}
	}

	p := &Providers{Preferred: cfg.PreferredProvider}
	for i, name := range order {
		pc := cfg.providerConfig(name)
		if !pc.Configured() {
			continue
		}
		p.Active = buildDriver(name, pc, cfg)
		p.Model = pc.Model
		p.FellBack = i > 0
		return p
	}
	return p
}

// Available reports whether a provider can serve requests.
func (p *Providers) Available() bool {
	return p != nil && p.Active != nil && p.Active.Configured()
}

// Status summarizes the snapshot for health and reload responses.
func (p *Providers) Status() ProviderStatus {
	st := ProviderStatus{}
	if p == nil {
		return st
	}
	st.Preferred = p.Preferred
	st.FellBack = p.FellBack
	if p.Available() {
		st.Available = true
		st.ActiveProvider = p.Active.Name()
		st.Model = p.Model
	}
	return st
}

func (c Config) providerConfig(name string) ProviderConfig {
	if name == ProviderAnthropic {
		return c.Anthropic
	}
	return c.OpenAI
}

func buildDriver(name string, pc ProviderConfig, cfg Config) driver.Driver {
	switch name {
	case ProviderAnthropic:
		client := anthropic.NewClient(pc.BaseURL, pc.APIKey)
		client.Timeout = cfg.RequestTimeout
		return client
	default:
		client := openai.NewClient(pc.BaseURL, pc.APIKey)
		client.Timeout = cfg.RequestTimeout
		return client
	}
}
