// Package capability exposes the complaint-processing tasks (analysis,
// similarity, chatbot, extraction, classification, contradiction and call
// screening) as typed Go calls. Each call builds one invoke.Request, hands it
// to a Runner, and decodes the script's output into a typed response.
//
// The analytical work happens in external Python modules under the models
// directory. The embedded driver scripts locate those modules through the
// AIBRIDGE_MODULE_DIR environment variable and read their tuning parameters
// from AIBRIDGE_* variables, so nothing is interpolated into script source.
package capability

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/mattjoyce/aibridge/internal/invoke"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/aibridge/internal/capability Runner

// Runner executes one invocation. *invoke.Invoker satisfies it.
type Runner interface {
	Invoke(ctx context.Context, req invoke.Request) (*invoke.Result, error)
}

// Name identifies a capability in config, logs, the ledger and the API.
type Name string

const (
	Analysis       Name = "analysis"
	Similarity     Name = "similarity"
	Chatbot        Name = "chatbot"
	Extraction     Name = "extraction"
	Classification Name = "classification"
	Contradiction  Name = "contradiction"
	CallScreening  Name = "call_screening"
)

var names = []Name{Analysis, Similarity, Chatbot, Extraction, Classification, Contradiction, CallScreening}

var tags = map[Name]string{
	Analysis:       "AI analysis failed: ",
	Similarity:     "Database similarity check failed: ",
	Chatbot:        "Chatbot response failed: ",
	Extraction:     "Text extraction failed: ",
	Classification: "Content classification failed: ",
	Contradiction:  "Contradiction analysis failed: ",
	CallScreening:  "Call screening failed: ",
}

// moduleDirs maps a capability to its subdirectory of the models directory.
var moduleDirs = map[Name]string{
	Analysis:       "summarizer",
	Similarity:     "database_similarity",
	Chatbot:        "chatbot",
	Extraction:     "summarizer",
	Classification: "summarizer",
	Contradiction:  "summarizer",
	CallScreening:  "call_scam_detector",
}

// extractors maps a lower-cased file type to its script in the summarizer module.
var extractors = map[string]string{
	"pdf":   "pdf_to_text.py",
	"image": "image_to_text.py",
	"audio": "audio_to_text.py",
	"video": "video_to_text.py",
}

//go:embed scripts/*.py
var scripts embed.FS

// Names returns every capability in a stable order.
func Names() []Name {
	out := make([]Name, len(names))
	copy(out, names)
	return out
}

// ParseName validates a capability name.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tags[n]; !ok {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return n, nil
}

// Tag returns the fixed message prefix used when the capability fails.
func (n Name) Tag() string {
	return tags[n]
}

// ModuleDir returns the models subdirectory the capability's scripts import from.
func (n Name) ModuleDir() string {
	return moduleDirs[n]
}

// EmbeddedScript returns the built-in driver script for n. Extraction has none:
// it runs the extractor scripts from the models directory directly.
func EmbeddedScript(n Name) (string, error) {
	if n == Extraction {
		return "", fmt.Errorf("capability %s has no embedded script", n)
	}
	data, err := scripts.ReadFile("scripts/" + string(n) + ".py")
	if err != nil {
		return "", fmt.Errorf("embedded script for %s: %w", n, err)
	}
	return string(data), nil
}

// ExtractorScript returns the extractor file name for fileType (case-insensitive).
func ExtractorScript(fileType string) (string, bool) {
	script, ok := extractors[strings.ToLower(fileType)]
	return script, ok
}
