// Package doctor validates aibridge configuration and the script environment.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/aibridge/internal/auth"
	"github.com/mattjoyce/aibridge/internal/capability"
	"github.com/mattjoyce/aibridge/internal/config"
	"github.com/mattjoyce/aibridge/internal/invoke"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]bool{
	auth.ScopeAll:           true,
	auth.ScopeCapabilityRO:  true,
	auth.ScopeCapabilityRW:  true,
	auth.ScopeInvocationsRO: true,
	auth.ScopeInvocationsRW: true,
}

// keyedCapabilities need an LLM key to produce useful answers.
var keyedCapabilities = []capability.Name{capability.Chatbot, capability.CallScreening}

// Doctor validates a loaded configuration against the local environment.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	getenv   func(string) string
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithLookPath replaces exec.LookPath for interpreter resolution.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(d *Doctor) { d.lookPath = fn }
}

// WithGetenv replaces os.Getenv for API key checks.
func WithGetenv(fn func(string) string) Option {
	return func(d *Doctor) { d.getenv = fn }
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config, opts ...Option) *Doctor {
	d := &Doctor{cfg: cfg, lookPath: exec.LookPath, getenv: os.Getenv}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRuntime(r)
	d.validateCapabilityRefs(r)
	d.validateModules(r)
	d.validateLedger(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnMissingEnvVars(r)
	d.warnMissingAPIKeys(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRuntime checks that the interpreter resolves and the models directory exists.
func (d *Doctor) validateRuntime(r *Result) {
	argv, err := invoke.ParseInterpreter(d.cfg.Runtime.Interpreter)
	if err != nil {
		d.addError(r, "runtime", "runtime.interpreter", err.Error())
	} else if _, err := d.lookPath(argv[0]); err != nil {
		d.addError(r, "runtime", "runtime.interpreter",
			fmt.Sprintf("interpreter %q not found in PATH", argv[0]))
	}

	if d.cfg.Runtime.WorkingDir != "" {
		if !isDir(d.cfg.ResolvePath(d.cfg.Runtime.WorkingDir)) {
			d.addError(r, "runtime", "runtime.working_dir",
				fmt.Sprintf("working directory %q does not exist", d.cfg.Runtime.WorkingDir))
		}
	}

	if !isDir(d.modelsDir()) {
		d.addError(r, "runtime", "runtime.models_dir",
			fmt.Sprintf("models directory %q does not exist", d.modelsDir()))
	}

	if d.cfg.Runtime.Timeout == 0 {
		d.addWarning(r, "runtime", "runtime.timeout",
			"timeout is 0: a hung script blocks its caller indefinitely")
	}
}

// validateCapabilityRefs checks capability names and script overrides.
func (d *Doctor) validateCapabilityRefs(r *Result) {
	for _, name := range sortedKeys(d.cfg.Capabilities) {
		cc := d.cfg.Capabilities[name]
		field := fmt.Sprintf("capabilities.%s", name)

		n, err := capability.ParseName(name)
		if err != nil {
			d.addError(r, "capabilities", field, err.Error())
			continue
		}
		if cc.Script == "" {
			continue
		}
		if n == capability.Extraction {
			d.addWarning(r, "capabilities", field+".script",
				"extraction runs the extractor scripts in the models directory; script override is ignored")
			continue
		}
		if _, err := os.Stat(d.cfg.ResolvePath(cc.Script)); err != nil {
			d.addError(r, "capabilities", field+".script",
				fmt.Sprintf("script override %q not found", cc.Script))
		}
	}
}

// validateModules warns about module directories and extractor scripts missing for enabled capabilities.
func (d *Doctor) validateModules(r *Result) {
	if !isDir(d.modelsDir()) {
		return
	}

	seen := map[string]bool{}
	for _, n := range capability.Names() {
		if !d.cfg.Capabilities[string(n)].IsEnabled() {
			continue
		}
		dir := filepath.Join(d.modelsDir(), n.ModuleDir())
		if !seen[dir] && !isDir(dir) {
			d.addWarning(r, "modules", fmt.Sprintf("capabilities.%s", n),
				fmt.Sprintf("module directory %q not found", dir))
		}
		seen[dir] = true
	}

	if !d.cfg.Capabilities[string(capability.Extraction)].IsEnabled() {
		return
	}
	for _, fileType := range []string{"pdf", "image", "audio", "video"} {
		script, _ := capability.ExtractorScript(fileType)
		path := filepath.Join(d.modelsDir(), capability.Extraction.ModuleDir(), script)
		if _, err := os.Stat(path); err != nil {
			d.addWarning(r, "modules", "capabilities.extraction",
				fmt.Sprintf("%s extractor %q not found", fileType, path))
		}
	}
}

// validateLedger checks ledger settings.
func (d *Doctor) validateLedger(r *Result) {
	if !d.cfg.Ledger.Enabled {
		return
	}
	if d.cfg.Ledger.Retention <= 0 {
		d.addWarning(r, "ledger", "ledger.retention", "retention is 0: invocations are never pruned")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	if !d.cfg.Ledger.Enabled {
		d.addWarning(r, "api", "ledger.enabled", "ledger disabled: /v1/invocations will return 404")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if knownScopes[strings.TrimSpace(scope)] {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q", scope))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved in capability env.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	for _, name := range sortedKeys(d.cfg.Capabilities) {
		env := d.cfg.Capabilities[name].Env
		for _, key := range sortedKeys(env) {
			for _, m := range envVarRe.FindAllStringSubmatch(env[key], -1) {
				d.addWarning(r, "env_vars", fmt.Sprintf("capabilities.%s.env.%s", name, key),
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// warnMissingAPIKeys warns when a capability that calls an LLM has no GROQ_API_KEY.
func (d *Doctor) warnMissingAPIKeys(r *Result) {
	for _, n := range keyedCapabilities {
		cc := d.cfg.Capabilities[string(n)]
		if !cc.IsEnabled() {
			continue
		}
		if d.getenv("GROQ_API_KEY") != "" || d.cfg.Runtime.Env["GROQ_API_KEY"] != "" || cc.Env["GROQ_API_KEY"] != "" {
			continue
		}
		d.addWarning(r, "env_vars", fmt.Sprintf("capabilities.%s", n),
			"GROQ_API_KEY is not set for this capability")
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) modelsDir() string {
	return d.cfg.ResolvePath(d.cfg.Runtime.ModelsDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
