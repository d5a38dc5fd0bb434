package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mattjoyce/aibridge/internal/api"
	"github.com/mattjoyce/aibridge/internal/auth"
	"github.com/mattjoyce/aibridge/internal/capability"
	"github.com/mattjoyce/aibridge/internal/config"
	"github.com/mattjoyce/aibridge/internal/invoke"
	"github.com/mattjoyce/aibridge/internal/ledger"
	"github.com/mattjoyce/aibridge/internal/log"
	"github.com/mattjoyce/aibridge/internal/storage"
)

// stack is everything a command needs to run capabilities.
type stack struct {
	db      *sql.DB
	ledger  *ledger.Ledger
	invoker *invoke.Invoker
	service *capability.Service
}

func (s *stack) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openLedger opens the ledger database, or returns nil when the ledger is disabled.
func openLedger(ctx context.Context, cfg *config.Config) (*sql.DB, *ledger.Ledger, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil, nil
	}
	path := cfg.ResolvePath(cfg.Ledger.Path)
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return db, ledger.New(db), nil
}

// buildStack wires storage, the invoker and the capability service from config.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &stack{db: db, ledger: l}

	iv, err := buildInvoker(cfg, l)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.invoker = iv

	svc, err := buildService(cfg, iv)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.service = svc
	return s, nil
}

func buildInvoker(cfg *config.Config, l *ledger.Ledger) (*invoke.Invoker, error) {
	argv, err := invoke.ParseInterpreter(cfg.Runtime.Interpreter)
	if err != nil {
		return nil, err
	}

	opts := []invoke.Option{invoke.WithLogger(log.WithComponent("invoke"))}
	if l != nil {
		opts = append(opts, invoke.WithRecorder(l))
	}
	return invoke.New(invoke.Config{
		Interpreter:    argv,
		Env:            config.EnvList(cfg.Runtime.Env),
		Dir:            cfg.ResolvePath(cfg.Runtime.WorkingDir),
		Timeout:        cfg.Runtime.Timeout,
		MaxOutputBytes: cfg.Runtime.MaxOutputBytes,
		GracePeriod:    cfg.Runtime.GracePeriod,
	}, opts...)
}

func buildService(cfg *config.Config, runner capability.Runner) (*capability.Service, error) {
	opts := []capability.Option{capability.WithLogger(log.WithComponent("capability"))}

	for key, cc := range cfg.Capabilities {
		name, err := capability.ParseName(key)
		if err != nil {
			return nil, fmt.Errorf("capabilities.%s: %w", key, err)
		}
		if !cc.IsEnabled() {
			opts = append(opts, capability.WithDisabled(name))
			continue
		}
		if cc.Timeout > 0 {
			opts = append(opts, capability.WithTimeout(name, cc.Timeout))
		}
		if len(cc.Env) > 0 {
			opts = append(opts, capability.WithEnv(name, config.EnvList(cc.Env)...))
		}
		if cc.Script != "" && name != capability.Extraction {
			src, err := os.ReadFile(cfg.ResolvePath(cc.Script))
			if err != nil {
				return nil, fmt.Errorf("capabilities.%s.script: %w", key, err)
			}
			opts = append(opts, capability.WithScript(name, string(src)))
		}
	}

	return capability.New(runner, cfg.ResolvePath(cfg.Runtime.ModelsDir), opts...), nil
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:        cfg.API.Listen,
		APIKey:        cfg.API.Auth.APIKey,
		Tokens:        tokens,
		MaxConcurrent: cfg.API.MaxConcurrent,
	}
}
