package provider

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jeanpaul/redel/internal/config"
)

// New builds an engine for the named provider, wrapped with retries.
func New(cfg *config.Config, name string) (Engine, error) {
	p, ok := cfg.ProviderFor(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}

	var e Engine
	switch p.Type {
	case "openai":
		o := NewOpenAI(name, p.BaseURL, p.APIKey, p.Model, p.MaxContext)
		if p.Temperature != nil {
			o.SetTemperature(*p.Temperature)
		}
		e = o
	case "anthropic":
		var opts []option.RequestOption
		if p.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(p.BaseURL))
		}
		a := NewAnthropic(p.APIKey, p.Model, p.MaxContext, opts...)
		if p.Temperature != nil {
			a.SetTemperature(*p.Temperature)
		}
		e = a
	case "google":
		g := NewGoogle(p.APIKey, p.Model, p.MaxContext)
		if p.BaseURL != "" {
			g.baseURL = strings.TrimRight(p.BaseURL, "/") + "/v1beta"
		}
		e = g
	default:
		return nil, fmt.Errorf("provider %q has unknown type %q", name, p.Type)
	}
	return WithRetry(e, cfg.MaxRetries), nil
}
