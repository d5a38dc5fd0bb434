package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/aibridge/internal/capability/mocks"
	"github.com/mattjoyce/aibridge/internal/invoke"
)

func newShellInvoker(t *testing.T) *invoke.Invoker {
	t.Helper()
	iv, err := invoke.New(invoke.Config{
		Interpreter: []string{"sh"},
		GracePeriod: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	return iv
}

func parsed(v any) *invoke.Result {
	return &invoke.Result{Value: v, Parsed: true}
}

func envValue(env []string, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			val, found = v, true
		}
	}
	return val, found
}

func TestParseName(t *testing.T) {
	for _, n := range Names() {
		got, err := ParseName(" " + strings.ToUpper(string(n)) + " ")
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.NotEmpty(t, n.Tag())
		assert.NotEmpty(t, n.ModuleDir())
	}

	_, err := ParseName("astrology")
	assert.Error(t, err)
}

func TestEmbeddedScripts(t *testing.T) {
	for _, n := range Names() {
		script, err := EmbeddedScript(n)
		if n == Extraction {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err, n)
		assert.Contains(t, script, EnvModuleDir, "script for %s must locate its modules through the environment", n)
		assert.Contains(t, script, "sys.stdin.read()", n)
	}
}

func TestService_FailuresCarryTag(t *testing.T) {
	ctx := context.Background()
	calls := map[Name]func(*Service) error{
		Analysis: func(s *Service) error {
			_, err := s.AnalyzeComplaint(ctx, ComplaintInput{Complaint: "x"})
			return err
		},
		Similarity: func(s *Service) error {
			_, err := s.CheckDatabaseSimilarity(ctx, map[string]any{"phones": "1"})
			return err
		},
		Chatbot: func(s *Service) error {
			_, err := s.GetChatbotResponse(ctx, "q", "")
			return err
		},
		Extraction: func(s *Service) error {
			_, err := s.ExtractTextFromFile(ctx, "/tmp/a.pdf", "pdf")
			return err
		},
		Classification: func(s *Service) error {
			_, err := s.ClassifyContent(ctx, "text")
			return err
		},
		Contradiction: func(s *Service) error {
			_, err := s.FindContradictions(ctx, ComplaintInput{Complaint: "x"})
			return err
		},
		CallScreening: func(s *Service) error {
			_, err := s.ScreenCallTranscript(ctx, "hello")
			return err
		},
	}
	require.Len(t, calls, len(Names()))

	for name, call := range calls {
		t.Run(string(name), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runner := mocks.NewMockRunner(ctrl)
			runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).
				Return(nil, &invoke.ExitError{Code: 3, Stderr: "Traceback: boom"})

			err := call(New(runner, "/models"))
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), name.Tag()), "got %q", err.Error())
			assert.Contains(t, err.Error(), "3")
			assert.Contains(t, err.Error(), "Traceback: boom")
			assert.ErrorIs(t, err, invoke.ErrNonZeroExit)

			var capErr *Error
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, name, capErr.Capability)
		})
	}
}

func TestService_ChatbotEndToEnd(t *testing.T) {
	stub := `cat > /dev/null; printf '{"answer":"42","sources":["doc1"]}'`
	svc := New(newShellInvoker(t), t.TempDir(), WithScript(Chatbot, stub))

	got, err := svc.GetChatbotResponse(context.Background(), "test", "")
	require.NoError(t, err)
	assert.Equal(t, &ChatbotResponse{Answer: "42", Sources: []string{"doc1"}}, got)
}

func TestService_PlainTextOutputFallsBack(t *testing.T) {
	svc := New(newShellInvoker(t), t.TempDir(), WithScript(Chatbot, `cat > /dev/null; echo "  not json  "`))

	got, err := svc.GetChatbotResponse(context.Background(), "test", "")
	require.NoError(t, err)
	assert.Equal(t, "not json", got.Output)
	assert.Empty(t, got.Answer)
}

func TestService_ExtractUnsupportedTypeDoesNotSpawn(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl) // no expectations: any Invoke fails the test

	svc := New(runner, "/models")
	_, err := svc.ExtractTextFromFile(context.Background(), "/tmp/file.bin", "unsupported")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
	assert.True(t, strings.HasPrefix(err.Error(), Extraction.Tag()))
	assert.Contains(t, err.Error(), "unsupported")
}

func TestService_ExtractRunsScriptWithPathArgument(t *testing.T) {
	models := t.TempDir()
	summarizer := filepath.Join(models, "summarizer")
	require.NoError(t, os.MkdirAll(summarizer, 0o755))
	// Reads stdin to prove it is empty, then prints plain text.
	script := `input=$(cat); printf 'text of %s [%s]\n' "$1" "$input"`
	require.NoError(t, os.WriteFile(filepath.Join(summarizer, "pdf_to_text.py"), []byte(script), 0o644))

	svc := New(newShellInvoker(t), models)

	got, err := svc.ExtractTextFromFile(context.Background(), "/data/report.pdf", "PDF")
	require.NoError(t, err)
	assert.Equal(t, "text of /data/report.pdf []", got.Text)
}

func TestService_ExtractRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req invoke.Request) (*invoke.Result, error) {
			assert.Equal(t, invoke.ModeScript, req.Mode)
			assert.Equal(t, filepath.Join("/models", "summarizer", "video_to_text.py"), req.Script)
			assert.Equal(t, []string{"/data/clip.mp4"}, req.Args)
			assert.Nil(t, req.Payload)
			assert.Equal(t, "text", req.Options.FallbackKey)
			assert.Equal(t, string(Extraction), req.Label)
			return parsed(map[string]any{
				"transcribed_audio": "hello",
				"text_from_frames":  []any{"frame one", "frame two"},
			}), nil
		})

	got, err := New(runner, "/models").ExtractTextFromFile(context.Background(), "/data/clip.mp4", "video")
	require.NoError(t, err)
	assert.Equal(t, &ExtractionResult{TranscribedAudio: "hello", TextFromFrames: []string{"frame one", "frame two"}}, got)
}

func TestService_ExtractNonObjectOutputDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	gomock.InOrder(
		runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(parsed("page one text"), nil),
		runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(parsed(42.0), nil),
	)
	svc := New(runner, "/models")

	got, err := svc.ExtractTextFromFile(context.Background(), "/a.pdf", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "page one text", got.Text)

	got, err = svc.ExtractTextFromFile(context.Background(), "/a.png", "image")
	require.NoError(t, err)
	assert.Empty(t, got.Text)
	assert.JSONEq(t, `42`, string(got.Raw))
}

func TestService_ClassifyWrapsStrings(t *testing.T) {
	tests := []struct {
		name    string
		content any
		want    any
	}{
		{
			name:    "string is wrapped",
			content: "phishing email with a fake bank link",
			want:    map[string]any{"text": "phishing email with a fake bank link"},
		},
		{
			name:    "object passes through",
			content: map[string]any{"crime_type": "upi_fraud", "financial_loss_inr": 50000},
			want:    map[string]any{"crime_type": "upi_fraud", "financial_loss_inr": 50000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runner := mocks.NewMockRunner(ctrl)
			runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req invoke.Request) (*invoke.Result, error) {
					assert.Equal(t, tt.want, req.Payload)
					assert.Equal(t, invoke.ModeInline, req.Mode)
					return parsed(map[string]any{"priority": "High", "score": 0.92}), nil
				})

			got, err := New(runner, "/models").ClassifyContent(context.Background(), tt.content)
			require.NoError(t, err)
			assert.Equal(t, &ClassificationResult{Priority: "High", Score: 0.92}, got)
		})
	}
}

func TestService_EnvironmentAndOverrides(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req invoke.Request) (*invoke.Result, error) {
			dir, ok := envValue(req.Options.Env, EnvModuleDir)
			assert.True(t, ok)
			assert.Equal(t, filepath.Join("/models", "database_similarity"), dir)

			within, _ := envValue(req.Options.Env, "AIBRIDGE_WITHIN_DB_THRESHOLD")
			assert.Equal(t, DefaultWithinDBThreshold, within)

			cross, _ := envValue(req.Options.Env, "AIBRIDGE_CROSS_DB_THRESHOLD")
			assert.Equal(t, "0.8", cross, "configured env must win over defaults")

			assert.Equal(t, 2*time.Second, req.Options.Timeout)
			assert.Equal(t, "print('custom')", req.Script)
			return parsed(map[string]any{
				"cross_db_matches":  []any{},
				"within_db_matches": []any{map[string]any{"a": 1.0}},
			}), nil
		})

	svc := New(runner, "/models",
		WithEnv(Similarity, "AIBRIDGE_CROSS_DB_THRESHOLD=0.8"),
		WithTimeout(Similarity, 2*time.Second),
		WithScript(Similarity, "print('custom')"),
	)
	got, err := svc.CheckDatabaseSimilarity(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got.CrossDBMatches))
	assert.JSONEq(t, `[{"a":1}]`, string(got.WithinDBMatches))
}

func TestService_Disabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	svc := New(runner, "/models", WithDisabled(Contradiction))
	assert.False(t, svc.Enabled(Contradiction))
	assert.NotContains(t, svc.EnabledNames(), Contradiction)
	assert.Len(t, svc.EnabledNames(), len(Names())-1)

	_, err := svc.FindContradictions(context.Background(), ComplaintInput{})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.True(t, strings.HasPrefix(err.Error(), Contradiction.Tag()))
}

func TestService_MismatchedOutputDegrades(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(t *testing.T, svc *Service)
	}{
		{
			name:   "wrong field type keeps the document",
			script: `cat > /dev/null; printf '{"priority":"High","score":"0.92"}'`,
			check: func(t *testing.T, svc *Service) {
				got, err := svc.ClassifyContent(context.Background(), "refund scam")
				require.NoError(t, err)
				assert.Equal(t, "High", got.Priority)
				assert.Zero(t, got.Score)
				assert.JSONEq(t, `{"priority":"High","score":"0.92"}`, string(got.Raw))
			},
		},
		{
			name:   "unknown keys are kept",
			script: `cat > /dev/null; printf '{"answer":"42","sources":["doc1"],"confidence":0.8}'`,
			check: func(t *testing.T, svc *Service) {
				got, err := svc.GetChatbotResponse(context.Background(), "q", "")
				require.NoError(t, err)
				assert.Equal(t, "42", got.Answer)
				assert.Equal(t, []string{"doc1"}, got.Sources)
				assert.Equal(t, map[string]any{"confidence": 0.8}, got.Extra)
				assert.Nil(t, got.Raw)
			},
		},
		{
			name:   "non-object output",
			script: `cat > /dev/null; printf '["not","an","object"]'`,
			check: func(t *testing.T, svc *Service) {
				got, err := svc.FindContradictions(context.Background(), ComplaintInput{Complaint: "x"})
				require.NoError(t, err)
				assert.False(t, got.HasContradiction)
				assert.JSONEq(t, `["not","an","object"]`, string(got.Raw))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(newShellInvoker(t), t.TempDir(),
				WithScript(Classification, tt.script),
				WithScript(Chatbot, tt.script),
				WithScript(Contradiction, tt.script),
			)
			tt.check(t, svc)
		})
	}
}

func TestService_ScreenCall(t *testing.T) {
	t.Run("recording is sent for transcription", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		runner := mocks.NewMockRunner(ctrl)
		runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req invoke.Request) (*invoke.Result, error) {
				assert.Equal(t, CallScreeningRequest{AudioPath: "/calls/1.wav", Language: "hi"}, req.Payload)
				dir, _ := envValue(req.Options.Env, EnvModuleDir)
				assert.Equal(t, filepath.Join("/models", "call_scam_detector"), dir)
				return parsed(map[string]any{
					"classification": "Scam",
					"reason":         "asked for an OTP",
					"transcript":     "please share the otp",
				}), nil
			})

		got, err := New(runner, "/models").Run(context.Background(), CallScreening,
			[]byte(`{"audio_path":"/calls/1.wav","language":"HI"}`))
		require.NoError(t, err)
		res, ok := got.(*CallScreeningResult)
		require.True(t, ok)
		assert.Equal(t, "Scam", res.Classification)
		assert.Equal(t, "please share the otp", res.Transcript)
	})

	t.Run("rejected before spawning", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := New(mocks.NewMockRunner(ctrl), "/models") // no expectations

		for _, in := range []CallScreeningRequest{
			{},
			{Transcript: "   "},
			{AudioPath: "/calls/1.wav", Language: "fr"},
		} {
			_, err := svc.ScreenCall(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput, "%+v", in)
			assert.True(t, strings.HasPrefix(err.Error(), CallScreening.Tag()))
		}
	})
}

func TestService_TimeoutKeepsCause(t *testing.T) {
	svc := New(newShellInvoker(t), t.TempDir(),
		WithScript(CallScreening, "exec sleep 10"),
		WithTimeout(CallScreening, 100*time.Millisecond),
	)

	_, err := svc.ScreenCallTranscript(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, invoke.ErrTimedOut)
	assert.True(t, strings.HasPrefix(err.Error(), CallScreening.Tag()))
}

func TestService_Run(t *testing.T) {
	t.Run("dispatches decoded input", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		runner := mocks.NewMockRunner(ctrl)
		runner.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req invoke.Request) (*invoke.Result, error) {
				assert.Equal(t, ComplaintInput{Complaint: "lost money", PDFPath: "/e/bank.pdf"}, req.Payload)
				assert.Equal(t, string(Analysis), req.Label)
				return parsed(map[string]any{"details": map[string]any{"amount": 500.0}, "summary": "s"}), nil
			})

		got, err := New(runner, "/models").Run(context.Background(), Analysis,
			[]byte(`{"complaint":"lost money","pdf_path":"/e/bank.pdf"}`))
		require.NoError(t, err)
		analysis, ok := got.(*ComplaintAnalysis)
		require.True(t, ok)
		assert.Equal(t, "s", analysis.Summary)
		assert.JSONEq(t, `{"amount":500}`, string(analysis.Details))
	})

	t.Run("invalid input", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := New(mocks.NewMockRunner(ctrl), "/models")

		for _, input := range []string{"", "{not json", `{"complaint": 5}`} {
			_, err := svc.Run(context.Background(), Analysis, []byte(input))
			assert.ErrorIs(t, err, ErrInvalidInput, "input %q", input)
		}

		_, err := svc.Run(context.Background(), Extraction, []byte(`{"file_type":"pdf"}`))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown capability", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		_, err := New(mocks.NewMockRunner(ctrl), "/models").Run(context.Background(), Name("nope"), []byte(`{}`))
		require.Error(t, err)
		var capErr *Error
		assert.False(t, errors.As(err, &capErr))
	})
}
