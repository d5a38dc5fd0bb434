package invoke

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"mvdan.cc/sh/v3/shell"

	"github.com/mattjoyce/aibridge/internal/log"
	"github.com/mattjoyce/aibridge/internal/protocol"
)

const (
	// DefaultMaxOutputBytes bounds stdout when neither the invoker nor the request sets a limit.
	DefaultMaxOutputBytes = 16 * 1024 * 1024

	// maxStderrBytes caps the stderr kept from a process. The tail is kept.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// pipeDrainDelay bounds how long Wait keeps reading pipes after the process
	// exits, in case a grandchild inherited them.
	pipeDrainDelay = 2 * time.Second
)

// Config holds invoker-wide defaults.
type Config struct {
	// Interpreter is the argv prefix, e.g. ["python3", "-u"].
	Interpreter []string
	// Env entries (KEY=VALUE) appended to the current process environment.
	Env []string
	// Dir is the default working directory.
	Dir string
	// Timeout is the default per-invocation timeout. Zero disables it.
	Timeout time.Duration
	// MaxOutputBytes bounds stdout. Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int64
	// GracePeriod between SIGTERM and SIGKILL. Zero means 5s.
	GracePeriod time.Duration
}

// Invoker spawns one interpreter process per Invoke call. It holds no
// per-invocation state and is safe for concurrent use.
type Invoker struct {
	cfg      Config
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRecorder persists a Record for every invocation.
func WithRecorder(r Recorder) Option {
	return func(iv *Invoker) { iv.recorder = r }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(iv *Invoker) { iv.logger = l }
}

// New creates an Invoker.
func New(cfg Config, opts ...Option) (*Invoker, error) {
	if len(cfg.Interpreter) == 0 || cfg.Interpreter[0] == "" {
		return nil, fmt.Errorf("interpreter is empty")
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = terminationGracePeriod
	}

	iv := &Invoker{
		cfg:    cfg,
		logger: log.WithComponent("invoke"),
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv, nil
}

// ParseInterpreter splits an interpreter command line such as `python3 -u` or
// `"/opt/my env/bin/python"` using shell quoting rules. $VAR references are
// expanded from the environment.
func ParseInterpreter(cmdline string) ([]string, error) {
	fields, err := shell.Fields(cmdline, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parse interpreter %q: %w", cmdline, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("interpreter is empty")
	}
	return fields, nil
}

// ScriptDigest returns the hex BLAKE3 digest of a script body.
func ScriptDigest(script string) string {
	sum := blake3.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Invoke runs req and returns its result. The call blocks until the process
// exits, the timeout fires, or ctx is cancelled.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Script == "" {
		return nil, ErrEmptyScript
	}
	if req.Mode == "" {
		req.Mode = ModeInline
	}
	if req.Mode != ModeInline && req.Mode != ModeScript {
		return nil, fmt.Errorf("unknown invocation mode %q", req.Mode)
	}

	input, err := protocol.EncodePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec := Record{
		ID:           id,
		Label:        req.Label,
		Mode:         req.Mode,
		ScriptDigest: iv.digest(req),
		StartedAt:    time.Now().UTC(),
	}
	logger := iv.logger.With("invocation_id", id, "label", req.Label, "mode", string(req.Mode))

	res, err := iv.run(ctx, req, input, logger)
	rec.CompletedAt = time.Now().UTC()

	if err != nil {
		rec.Status, rec.ExitCode, rec.Stderr = classify(err)
		rec.Error = err.Error()
		logger.Warn("invocation failed", "status", rec.Status, "error", err, "duration", rec.Duration())
		iv.record(ctx, rec, logger)
		return nil, err
	}

	res.ID = id
	res.ScriptDigest = rec.ScriptDigest
	res.Duration = rec.Duration()
	rec.Status = StatusSucceeded
	rec.Stderr = res.Stderr
	logger.Info("invocation completed", "parsed", res.Parsed, "duration", res.Duration)
	iv.record(ctx, rec, logger)
	return res, nil
}

// run spawns the process, feeds stdin, waits for exit and decodes stdout.
func (iv *Invoker) run(ctx context.Context, req Request, input []byte, logger *slog.Logger) (*Result, error) {
	argv := iv.argv(req)

	timeout := iv.cfg.Timeout
	if req.Options.Timeout > 0 {
		timeout = req.Options.Timeout
	}
	limit := iv.cfg.MaxOutputBytes
	if req.Options.MaxOutputBytes > 0 {
		limit = req.Options.MaxOutputBytes
	}

	// Prepare command (don't use CommandContext - we'll manage termination ourselves)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = iv.cfg.Dir
	if req.Options.Dir != "" {
		cmd.Dir = req.Options.Dir
	}
	cmd.Env = iv.environ(req.Options.Env)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = pipeDrainDelay

	stdout := newCappedBuffer(limit)
	stderr := newTailBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning process", "program", argv[0], "args", len(argv)-1, "stdin_bytes", len(input), "timeout", timeout)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("invocation canceled: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: argv[0], Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-timeoutC:
		logger.Warn("process timed out, sending SIGTERM", "timeout", timeout)
		iv.terminate(cmd, waitErr, logger)
		return nil, &TimeoutError{After: timeout, Stderr: stderr.String()}

	case <-ctx.Done():
		logger.Warn("invocation canceled, sending SIGTERM", "reason", ctx.Err())
		iv.terminate(cmd, waitErr, logger)
		return nil, fmt.Errorf("invocation canceled: %w", ctx.Err())

	case err := <-waitErr:
		if stderr.Truncated() {
			logger.Debug("stderr truncated, kept the tail", "dropped_bytes", stderr.discarded)
		}
		if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, &ExitError{
					Code:   exitErr.ExitCode(),
					Stderr: stderr.String(),
					Stdout: stdout.String(),
				}
			}
			return nil, fmt.Errorf("wait for process: %w", err)
		}
		if err != nil {
			logger.Warn("process exited but its output pipes stayed open", "error", err)
		}

		if stdout.Overflowed() {
			return nil, &OutputTooLargeError{Limit: limit, Discarded: stdout.discarded}
		}

		fallbackKey := req.Options.FallbackKey
		if fallbackKey == "" {
			fallbackKey = protocol.DefaultFallbackKey
		}
		out := protocol.DecodeOutput(stdout.Bytes(), fallbackKey)
		if !out.Parsed {
			logger.Debug("stdout is not JSON, returning raw text", "bytes", len(out.Raw))
		}
		return &Result{
			Value:    out.Value,
			Raw:      out.Raw,
			Parsed:   out.Parsed,
			ExitCode: 0,
			Stderr:   stderr.String(),
		}, nil
	}
}

// terminate sends SIGTERM, waits for the grace period, then SIGKILL. It returns
// once the process has been reaped.
func (iv *Invoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Debug("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(iv.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("process exited after SIGTERM")
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func (iv *Invoker) argv(req Request) []string {
	argv := make([]string, 0, len(iv.cfg.Interpreter)+len(req.Args)+2)
	argv = append(argv, iv.cfg.Interpreter...)
	if req.Mode == ModeInline {
		argv = append(argv, "-c", req.Script)
	} else {
		argv = append(argv, req.Script)
	}
	return append(argv, req.Args...)
}

func (iv *Invoker) environ(extra []string) []string {
	env := os.Environ()
	env = append(env, iv.cfg.Env...)
	return append(env, extra...)
}

// digest hashes inline source directly; for script mode it hashes the file
// contents, falling back to the path when the file cannot be read.
func (iv *Invoker) digest(req Request) string {
	if req.Mode == ModeScript {
		if data, err := os.ReadFile(req.Script); err == nil {
			return ScriptDigest(string(data))
		}
	}
	return ScriptDigest(req.Script)
}

func (iv *Invoker) record(ctx context.Context, rec Record, logger *slog.Logger) {
	if iv.recorder == nil {
		return
	}
	if err := iv.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to record invocation", "error", err)
	}
}

// classify maps an invocation error onto a ledger status, exit code and stderr.
func classify(err error) (Status, int, string) {
	var (
		exitErr    *ExitError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &exitErr):
		return StatusFailed, exitErr.Code, exitErr.Stderr
	case errors.As(err, &timeoutErr):
		return StatusTimedOut, -1, timeoutErr.Stderr
	case errors.Is(err, ErrLaunch):
		return StatusLaunchFailed, -1, ""
	case errors.Is(err, ErrOutputTooLarge):
		return StatusOutputTooLarge, 0, ""
	case errors.Is(err, context.Canceled):
		return StatusCanceled, -1, ""
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut, -1, ""
	default:
		return StatusFailed, -1, ""
	}
}
