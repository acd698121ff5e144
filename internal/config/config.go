package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Engine     string                    `yaml:"engine" mapstructure:"engine"`
	LongEngine string                    `yaml:"long_engine" mapstructure:"long_engine"`
	Providers  map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Browser    BrowserConfig             `yaml:"browser" mapstructure:"browser"`
	Delegation DelegationConfig          `yaml:"delegation" mapstructure:"delegation"`
	Prompts    PromptsConfig             `yaml:"prompts" mapstructure:"prompts"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
	MaxTurns   int                       `yaml:"max_turns" mapstructure:"max_turns"`
	MaxRetries int                       `yaml:"max_retries" mapstructure:"max_retries"`
	StateDir   string                    `yaml:"state_dir" mapstructure:"state_dir"`
}

type ProviderConfig struct {
	Type        string   `yaml:"type" mapstructure:"type"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	Model       string   `yaml:"model" mapstructure:"model"`
	MaxContext  int      `yaml:"max_context" mapstructure:"max_context"`
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature"`
}

type BrowserConfig struct {
	Driver           string   `yaml:"driver" mapstructure:"driver"` // playwright | chromedp
	Headless         bool     `yaml:"headless" mapstructure:"headless"`
	MaxWebpageTokens int      `yaml:"max_webpage_tokens" mapstructure:"max_webpage_tokens"`
	SearchURL        string   `yaml:"search_url" mapstructure:"search_url"`
	BlockedSites     []string `yaml:"blocked_sites" mapstructure:"blocked_sites"`
}

type DelegationConfig struct {
	MaxDepth            int     `yaml:"max_depth" mapstructure:"max_depth"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// PromptsConfig overrides the built-in system prompts. {name} and {time}
// are substituted when the prompt is refreshed.
type PromptsConfig struct {
	Root     string `yaml:"root" mapstructure:"root"`
	Delegate string `yaml:"delegate" mapstructure:"delegate"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text | json
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func DefaultConfig() *Config {
	return &Config{
		Engine:     "openai",
		LongEngine: "openai-long",
		Providers: map[string]ProviderConfig{
			"openai":      {Type: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "$OPENAI_API_KEY", Model: "gpt-4", MaxContext: 8192},
			"openai-long": {Type: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "$OPENAI_API_KEY", Model: "gpt-4-32k", MaxContext: 32768},
		},
		Browser: BrowserConfig{
			Driver:           "playwright",
			Headless:         true,
			MaxWebpageTokens: 1024,
			SearchURL:        "https://html.duckduckgo.com/html/?q=",
		},
		Delegation: DelegationConfig{
			MaxDepth:            8,
			SimilarityThreshold: 80,
		},
		Log:        LogConfig{Level: "info", Format: "text"},
		MaxTurns:   50,
		MaxRetries: 3,
		StateDir:   defaultStateDir(),
	}
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "redel")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "redel")
}

// Load reads configuration from path, or from redel.yaml in the usual
// search paths when path is empty. Environment variables prefixed with
// REDEL_ override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("redel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "redel"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "redel"))
	}

	v.SetEnvPrefix("REDEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"engine", "long_engine", "max_turns", "max_retries", "state_dir",
		"browser.driver", "browser.headless", "browser.max_webpage_tokens", "browser.search_url",
		"delegation.max_depth", "delegation.similarity_threshold",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error produced
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	// A file that lists providers replaces the defaults rather than
	// merging into them.
	if v.IsSet("providers") {
		cfg.Providers = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		cfg.Providers[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ProviderFor(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// Validate checks the configuration for errors and fills zero values.
func (c *Config) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("config: engine is required")
	}
	if _, ok := c.Providers[c.Engine]; !ok {
		return fmt.Errorf("config: engine %q not found in providers", c.Engine)
	}
	if c.LongEngine == "" {
		c.LongEngine = c.Engine
	}
	if _, ok := c.Providers[c.LongEngine]; !ok {
		return fmt.Errorf("config: long_engine %q not found in providers", c.LongEngine)
	}
	validTypes := map[string]bool{"openai": true, "anthropic": true, "google": true}
	for name, p := range c.Providers {
		if !validTypes[p.Type] {
			return fmt.Errorf("config: provider %q has invalid type %q (must be openai, anthropic, or google)", name, p.Type)
		}
		if p.Type == "openai" && p.BaseURL == "" {
			return fmt.Errorf("config: provider %q (type openai) requires base_url", name)
		}
	}
	switch c.Browser.Driver {
	case "playwright", "chromedp":
	case "":
		c.Browser.Driver = "playwright"
	default:
		return fmt.Errorf("config: browser.driver %q is not supported (must be playwright or chromedp)", c.Browser.Driver)
	}
	if t := c.Delegation.SimilarityThreshold; t < 0 || t > 100 {
		return fmt.Errorf("config: delegation.similarity_threshold %v must be within 0-100", t)
	}
	if c.Delegation.SimilarityThreshold == 0 {
		c.Delegation.SimilarityThreshold = 80
	}
	if c.Delegation.MaxDepth < 1 {
		c.Delegation.MaxDepth = 8
	}
	if c.Browser.MaxWebpageTokens < 1 {
		c.Browser.MaxWebpageTokens = 1024
	}
	if c.MaxTurns < 1 {
		c.MaxTurns = 50
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return nil
}
