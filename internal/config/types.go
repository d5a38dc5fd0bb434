package config

import "time"

// Config represents the complete aibridge configuration.
type Config struct {
	Service      ServiceConfig               `yaml:"service"`
	Runtime      RuntimeConfig               `yaml:"runtime"`
	Ledger       LedgerConfig                `yaml:"ledger"`
	API          APIConfig                   `yaml:"api,omitempty"`
	Capabilities map[string]CapabilityConfig `yaml:"capabilities,omitempty"`

	// SourcePath is the absolute path of the loaded file. Not read from YAML.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RuntimeConfig controls how interpreter processes are spawned.
type RuntimeConfig struct {
	// Interpreter is a command line, split with shell quoting rules (e.g. "python3 -u").
	Interpreter string `yaml:"interpreter"`
	// ModelsDir holds the external script modules (summarizer/, chatbot/, ...).
	ModelsDir      string            `yaml:"models_dir"`
	WorkingDir     string            `yaml:"working_dir,omitempty"`
	Timeout        time.Duration     `yaml:"timeout"`
	GracePeriod    time.Duration     `yaml:"grace_period"`
	MaxOutputBytes int64             `yaml:"max_output_bytes"`
	Env            map[string]string `yaml:"env,omitempty"`
}

// LedgerConfig defines invocation ledger storage.
type LedgerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Auth          APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// CapabilityConfig overrides settings for a single capability.
type CapabilityConfig struct {
	Enabled *bool         `yaml:"enabled,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Script replaces the embedded script with the contents of this file.
	Script string            `yaml:"script,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// IsEnabled reports whether the capability is enabled. Capabilities default to enabled.
func (c CapabilityConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "aibridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Runtime: RuntimeConfig{
			Interpreter:    "python3",
			ModelsDir:      "./models",
			Timeout:        5 * time.Minute,
			GracePeriod:    5 * time.Second,
			MaxOutputBytes: 16 * 1024 * 1024,
		},
		Ledger: LedgerConfig{
			Enabled:   true,
			Path:      "./data/ledger.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled:       false,
			Listen:        "127.0.0.1:8080",
			MaxConcurrent: 8,
		},
		Capabilities: make(map[string]CapabilityConfig),
	}
}
