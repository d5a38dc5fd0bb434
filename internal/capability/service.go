package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/aibridge/internal/invoke"
	"github.com/mattjoyce/aibridge/internal/log"
)

// Defaults for the tuning parameters passed to scripts. Capability env
// entries with the same keys override them.
const (
	DefaultCrossDBThreshold  = "0.5"
	DefaultWithinDBThreshold = "0.3"
	DefaultChunkSize         = "1000"
	DefaultChunkOverlap      = "200"
	DefaultTopK              = "5"
)

// EnvModuleDir tells a driver script where its external modules live.
const EnvModuleDir = "AIBRIDGE_MODULE_DIR"

var defaultEnv = map[Name][]string{
	Similarity: {
		"AIBRIDGE_CROSS_DB_THRESHOLD=" + DefaultCrossDBThreshold,
		"AIBRIDGE_WITHIN_DB_THRESHOLD=" + DefaultWithinDBThreshold,
	},
	Chatbot: {
		"AIBRIDGE_CHUNK_SIZE=" + DefaultChunkSize,
		"AIBRIDGE_CHUNK_OVERLAP=" + DefaultChunkOverlap,
		"AIBRIDGE_TOP_K=" + DefaultTopK,
	},
}

type settings struct {
	disabled bool
	timeout  time.Duration
	script   string
	env      []string
}

// Service runs capabilities on top of a Runner.
type Service struct {
	runner    Runner
	modelsDir string
	settings  map[Name]*settings
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithScript replaces the embedded driver script of a capability with inline
// source. It has no effect on Extraction, whose scripts live in the models directory.
func WithScript(name Name, source string) Option {
	return func(s *Service) { s.setting(name).script = source }
}

// WithTimeout overrides the invoker timeout for one capability.
func WithTimeout(name Name, d time.Duration) Option {
	return func(s *Service) { s.setting(name).timeout = d }
}

// WithEnv appends KEY=VALUE entries to the capability's process environment.
func WithEnv(name Name, env ...string) Option {
	return func(s *Service) {
		st := s.setting(name)
		st.env = append(st.env, env...)
	}
}

// WithDisabled turns a capability off. Calls fail with ErrDisabled without spawning.
func WithDisabled(name Name) Option {
	return func(s *Service) { s.setting(name).disabled = true }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. modelsDir is the root holding summarizer/, chatbot/
// and the other module directories.
func New(runner Runner, modelsDir string, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		modelsDir: modelsDir,
		settings:  make(map[Name]*settings, len(names)),
		logger:    log.WithComponent("capability"),
	}
	for _, n := range names {
		s.settings[n] = &settings{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) setting(name Name) *settings {
	st, ok := s.settings[name]
	if !ok {
		st = &settings{}
		s.settings[name] = st
	}
	return st
}

// Enabled reports whether name is a known, enabled capability.
func (s *Service) Enabled(name Name) bool {
	st, ok := s.settings[name]
	return ok && !st.disabled && name.Tag() != ""
}

// EnabledNames lists the enabled capabilities in a stable order.
func (s *Service) EnabledNames() []Name {
	var out []Name
	for _, n := range names {
		if s.Enabled(n) {
			out = append(out, n)
		}
	}
	return out
}

// AnalyzeComplaint extracts incident details and a narrative summary from a
// complaint and its attached evidence.
func (s *Service) AnalyzeComplaint(ctx context.Context, in ComplaintInput) (*ComplaintAnalysis, error) {
	var out ComplaintAnalysis
	if err := s.runInline(ctx, Analysis, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckDatabaseSimilarity matches an entity against the victim report and
// official scam record stores.
func (s *Service) CheckDatabaseSimilarity(ctx context.Context, entity map[string]any) (*SimilarityReport, error) {
	if entity == nil {
		entity = map[string]any{}
	}
	var out SimilarityReport
	if err := s.runInline(ctx, Similarity, entity, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChatbotResponse answers query from the chatbot's document index.
func (s *Service) GetChatbotResponse(ctx context.Context, query, queryContext string) (*ChatbotResponse, error) {
	var out ChatbotResponse
	if err := s.runInline(ctx, Chatbot, ChatbotRequest{Query: query, Context: queryContext}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractTextFromFile runs the extractor for fileType (pdf, image, audio or
// video) with filePath as its only argument. Unsupported types fail before
// any process is spawned.
func (s *Service) ExtractTextFromFile(ctx context.Context, filePath, fileType string) (*ExtractionResult, error) {
	if err := s.check(Extraction); err != nil {
		return nil, err
	}
	script, ok := ExtractorScript(fileType)
	if !ok {
		return nil, wrap(Extraction, unsupportedFileType(fileType))
	}

	req := invoke.Request{
		Script: filepath.Join(s.moduleDir(Extraction), script),
		Mode:   invoke.ModeScript,
		Args:   []string{filePath},
		Options: invoke.Options{
			FallbackKey: "text",
		},
	}
	res, err := s.invoke(ctx, Extraction, req)
	if err != nil {
		return nil, err
	}

	return decodeExtraction(res), nil
}

// ClassifyContent assigns a priority to an incident record. A plain string is
// sent as {"text": content}; any other value is sent as is.
func (s *Service) ClassifyContent(ctx context.Context, content any) (*ClassificationResult, error) {
	payload := content
	if text, ok := content.(string); ok {
		payload = map[string]any{"text": text}
	}
	var out ClassificationResult
	if err := s.runInline(ctx, Classification, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindContradictions compares a complaint narrative against its evidence.
func (s *Service) FindContradictions(ctx context.Context, in ComplaintInput) (*ContradictionReport, error) {
	var out ContradictionReport
	if err := s.runInline(ctx, Contradiction, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ScreenCallTranscript classifies a phone-call transcript as scam or not.
func (s *Service) ScreenCallTranscript(ctx context.Context, transcript string) (*CallScreeningResult, error) {
	return s.ScreenCall(ctx, CallScreeningRequest{Transcript: transcript})
}

// ScreenCall classifies a call from its transcript, or from a recording that
// the script transcribes first when no transcript is given.
func (s *Service) ScreenCall(ctx context.Context, in CallScreeningRequest) (*CallScreeningResult, error) {
	if err := s.check(CallScreening); err != nil {
		return nil, err
	}
	in.Transcript = strings.TrimSpace(in.Transcript)
	if in.Transcript == "" && in.AudioPath == "" {
		return nil, wrap(CallScreening, fmt.Errorf("%w: transcript or audio_path is required", ErrInvalidInput))
	}
	in.Language = strings.ToLower(strings.TrimSpace(in.Language))
	switch in.Language {
	case "", "en", "hi":
	default:
		return nil, wrap(CallScreening, fmt.Errorf("%w: unsupported language %q (want en or hi)", ErrInvalidInput, in.Language))
	}

	var out CallScreeningResult
	if err := s.runInline(ctx, CallScreening, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run decodes a JSON input document for name and calls the matching
// operation. It backs the CLI and the HTTP API.
func (s *Service) Run(ctx context.Context, name Name, input []byte) (any, error) {
	switch name {
	case Analysis:
		var in ComplaintInput
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.AnalyzeComplaint(ctx, in))
	case Similarity:
		var in map[string]any
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.CheckDatabaseSimilarity(ctx, in))
	case Chatbot:
		var in ChatbotRequest
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.GetChatbotResponse(ctx, in.Query, in.Context))
	case Extraction:
		var in ExtractionRequest
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		if in.FilePath == "" {
			return nil, wrap(name, fmt.Errorf("%w: file_path is required", ErrInvalidInput))
		}
		return box(s.ExtractTextFromFile(ctx, in.FilePath, in.FileType))
	case Classification:
		var in any
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.ClassifyContent(ctx, in))
	case Contradiction:
		var in ComplaintInput
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.FindContradictions(ctx, in))
	case CallScreening:
		var in CallScreeningRequest
		if err := decodeInput(input, &in); err != nil {
			return nil, wrap(name, err)
		}
		return box(s.ScreenCall(ctx, in))
	default:
		return nil, fmt.Errorf("unknown capability %q", name)
	}
}

func box[T any](v *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeInput(input []byte, dst any) error {
	if len(strings.TrimSpace(string(input))) == 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidInput)
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// runInline sends payload to the capability's driver script and decodes the result into dst.
func (s *Service) runInline(ctx context.Context, name Name, payload any, dst response) error {
	if err := s.check(name); err != nil {
		return err
	}
	script, err := s.script(name)
	if err != nil {
		return wrap(name, err)
	}

	req := invoke.Request{
		Script:  script,
		Mode:    invoke.ModeInline,
		Payload: payload,
	}
	res, err := s.invoke(ctx, name, req)
	if err != nil {
		return err
	}
	if !decodeResponse(res.Value, dst) {
		s.logger.Warn("output does not match the response shape, returning it raw",
			"capability", string(name), "invocation_id", res.ID)
	}
	return nil
}

// invoke applies per-capability settings to req and runs it. Errors are wrapped with the capability tag.
func (s *Service) invoke(ctx context.Context, name Name, req invoke.Request) (*invoke.Result, error) {
	st := s.setting(name)
	req.Label = string(name)
	if st.timeout > 0 {
		req.Options.Timeout = st.timeout
	}

	env := make([]string, 0, 1+len(defaultEnv[name])+len(st.env))
	env = append(env, EnvModuleDir+"="+s.moduleDir(name))
	env = append(env, defaultEnv[name]...)
	req.Options.Env = append(env, st.env...)

	logger := s.logger.With("capability", string(name))
	logger.Debug("running capability", "mode", string(req.Mode))

	res, err := s.runner.Invoke(ctx, req)
	if err != nil {
		logger.Warn("capability failed", "error", err)
		return nil, wrap(name, err)
	}
	if !res.Parsed {
		logger.Debug("capability returned plain text", "bytes", len(res.Raw))
	}
	return res, nil
}

func (s *Service) check(name Name) error {
	if !s.Enabled(name) {
		return wrap(name, ErrDisabled)
	}
	return nil
}

func (s *Service) script(name Name) (string, error) {
	if st := s.settings[name]; st != nil && st.script != "" {
		return st.script, nil
	}
	return EmbeddedScript(name)
}

func (s *Service) moduleDir(name Name) string {
	return filepath.Join(s.modelsDir, name.ModuleDir())
}

// decodeExtraction accepts a bare JSON string as the extracted text and
// otherwise decodes leniently like every other response.
func decodeExtraction(res *invoke.Result) *ExtractionResult {
	var out ExtractionResult
	if text, ok := res.Value.(string); ok {
		out.Text = text
		return &out
	}
	decodeResponse(res.Value, &out)
	return &out
}
