package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates a configuration file.
// configPath may point at a file or at a directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolveFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := VerifyChecksum(absPath); err != nil {
		return nil, fmt.Errorf("config verification failed: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolveFile returns the absolute path of the config file named by
// configPath, which may be a file or a directory containing config.yaml.
func ResolveFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Parse decodes YAML on top of Defaults after ${VAR} interpolation. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = make(map[string]CapabilityConfig)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $AIBRIDGE_CONFIG, ~/.config/aibridge/config.yaml, /etc/aibridge/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("AIBRIDGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	var candidates []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "aibridge", "config.yaml"))
	}
	candidates = append(candidates, "/etc/aibridge/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $AIBRIDGE_CONFIG, ~/.config/aibridge/config.yaml, /etc/aibridge/config.yaml, ./config.yaml)")
}

// ResolvePath makes p absolute relative to the config file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.SourcePath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.SourcePath), p)
}

// EnvList renders an env map as sorted KEY=VALUE entries.
func EnvList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Runtime.Interpreter == "" {
		return fmt.Errorf("runtime.interpreter is required")
	}
	if cfg.Runtime.ModelsDir == "" {
		return fmt.Errorf("runtime.models_dir is required")
	}
	if cfg.Runtime.Timeout < 0 {
		return fmt.Errorf("runtime.timeout must not be negative")
	}
	if cfg.Runtime.MaxOutputBytes <= 0 {
		return fmt.Errorf("runtime.max_output_bytes must be positive")
	}
	if err := checkUnresolved("runtime.env", cfg.Runtime.Env); err != nil {
		return err
	}

	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if cfg.API.MaxConcurrent <= 0 {
			return fmt.Errorf("api.max_concurrent must be positive")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set",
				envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)[1])
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set",
					i, envVarPattern.FindStringSubmatch(tok.Token)[1])
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	for name, cc := range cfg.Capabilities {
		if cc.Timeout < 0 {
			return fmt.Errorf("capabilities.%s.timeout must not be negative", name)
		}
	}
	return nil
}

// checkUnresolved rejects ${VAR} placeholders left in env values. Capability
// env is not checked here: optional keys such as TAVILY_API_KEY may stay unset.
func checkUnresolved(field string, env map[string]string) error {
	for k, v := range env {
		if m := envVarPattern.FindStringSubmatch(v); m != nil {
			return fmt.Errorf("%s.%s: environment variable ${%s} is not set", field, k, m[1])
		}
	}
	return nil
}
