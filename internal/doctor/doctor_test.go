package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/aibridge/internal/config"
)

// modelsTree creates a models directory with every module directory and extractor script.
func modelsTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"summarizer", "database_similarity", "chatbot", "call_scam_detector"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, script := range []string{"pdf_to_text.py", "image_to_text.py", "audio_to_text.py", "video_to_text.py"} {
		if err := os.WriteFile(filepath.Join(root, "summarizer", script), []byte("print('x')\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Runtime.ModelsDir = modelsTree(t)
	cfg.Runtime.Env = map[string]string{"GROQ_API_KEY": "gsk_test"}
	return cfg
}

func foundInterpreter(name string) (string, error) { return "/usr/bin/" + name, nil }

func missingInterpreter(string) (string, error) { return "", errors.New("not found") }

func noEnv(string) string { return "" }

func newDoctor(cfg *config.Config) *Doctor {
	return New(cfg, WithLookPath(foundInterpreter), WithGetenv(noEnv))
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_InterpreterNotFound(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.Interpreter = "python3.99 -u"
	r := New(cfg, WithLookPath(missingInterpreter), WithGetenv(noEnv)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "runtime", "python3.99")
}

func TestValidate_InterpreterUnparsable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.Interpreter = `"python3`
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "runtime", "interpreter")
}

func TestValidate_MissingModelsDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.ModelsDir = filepath.Join(t.TempDir(), "nope")
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "runtime", "models directory")
}

func TestValidate_ModelsDirRelativeToConfig(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	models := cfg.Runtime.ModelsDir
	cfg.SourcePath = filepath.Join(filepath.Dir(models), "config.yaml")
	cfg.Runtime.ModelsDir = filepath.Base(models)
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected models_dir to resolve next to the config file, got: %v", r.Errors)
	}
}

func TestValidate_MissingModuleAndExtractor(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.RemoveAll(filepath.Join(cfg.Runtime.ModelsDir, "chatbot")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(cfg.Runtime.ModelsDir, "summarizer", "video_to_text.py")); err != nil {
		t.Fatal(err)
	}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("missing modules are warnings, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "modules", "chatbot")
	assertHasWarning(t, r, "modules", "video extractor")
}

func TestValidate_DisabledCapabilitySkipsModuleCheck(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.RemoveAll(filepath.Join(cfg.Runtime.ModelsDir, "database_similarity")); err != nil {
		t.Fatal(err)
	}
	disabled := false
	cfg.Capabilities["similarity"] = config.CapabilityConfig{Enabled: &disabled}
	r := newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_UnknownCapability(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Capabilities["astrology"] = config.CapabilityConfig{}
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "capabilities", "astrology")
}

func TestValidate_ScriptOverride(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Capabilities["chatbot"] = config.CapabilityConfig{Script: filepath.Join(t.TempDir(), "missing.py")}
	cfg.Capabilities["extraction"] = config.CapabilityConfig{Script: "anything.py"}
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "capabilities", "missing.py")
	assertHasWarning(t, r, "capabilities", "ignored")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"capability:rw", "invocations:ro"}},
		{Token: "b", Scopes: []string{"jobs:rw"}},
	}
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one scope error, got: %v", r.Errors)
	}
	assertHasError(t, r, "token_scopes", "jobs:rw")
}

func TestValidate_APIWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.Ledger.Enabled = false
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "no authentication")
	assertHasWarning(t, r, "api", "ledger disabled")

	cfg.API.Auth.APIKey = "legacy"
	r = newDoctor(cfg).Validate()
	assertHasWarning(t, r, "deprecated", "legacy api_key")
}

func TestValidate_RuntimeAndLedgerWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.Timeout = 0
	cfg.Ledger.Retention = 0
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "runtime", "timeout is 0")
	assertHasWarning(t, r, "ledger", "never pruned")
}

func TestValidate_MissingWorkingDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.WorkingDir = filepath.Join(t.TempDir(), "gone")
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "runtime", "working directory")
}

func TestValidate_EnvWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Runtime.Env = nil
	cfg.Capabilities["similarity"] = config.CapabilityConfig{
		Env:     map[string]string{"AIBRIDGE_CROSS_DB_THRESHOLD": "${CROSS}"},
		Timeout: time.Minute,
	}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "${CROSS}")
	assertHasWarning(t, r, "env_vars", "GROQ_API_KEY")

	withKey := New(cfg, WithLookPath(foundInterpreter), WithGetenv(func(k string) string {
		if k == "GROQ_API_KEY" {
			return "from-env"
		}
		return ""
	})).Validate()
	for _, w := range withKey.Warnings {
		if strings.Contains(w.Message, "GROQ_API_KEY") {
			t.Fatalf("unexpected GROQ warning with key in environment: %v", w)
		}
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "odd") {
		t.Fatalf("expected warning in output, got: %s", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
