package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/aibridge/internal/api"
	"github.com/mattjoyce/aibridge/internal/ledger"
	"github.com/mattjoyce/aibridge/internal/lock"
	"github.com/mattjoyce/aibridge/internal/log"
)

// pruneInterval is how often the server drops invocations older than ledger.retention.
const pruneInterval = time.Hour

func (c *cli) newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Run and manage the aibridge server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the HTTP API server",
		Long: `Start serving capabilities over HTTP. Requires api.enabled: true.

The server holds a lock next to the ledger database so two servers cannot
share one ledger. SIGINT or SIGTERM shuts it down gracefully.`,
		Args: cobra.NoArgs,
		RunE: c.runStart,
	})
	return cmd
}

func (c *cli) runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.API.Enabled {
		return errors.New("api.enabled is false: nothing to serve")
	}

	logger := log.WithComponent("main")
	logger.Info("aibridge starting", "version", version, "config", cfg.SourcePath)

	if cfg.Ledger.Enabled {
		lockPath := lock.PathFor(cfg.ResolvePath(cfg.Ledger.Path))
		l, err := lock.Acquire(lockPath)
		if err != nil {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		defer func() { _ = l.Release() }()
		logger.Info("acquired instance lock", "path", lockPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var invocations api.InvocationStore
	if st.ledger != nil {
		invocations = st.ledger
	}
	server := api.New(apiConfig(cfg), st.service, invocations, log.WithComponent("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	if st.ledger != nil && cfg.Ledger.Retention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, st.ledger, cfg.Ledger.Retention, pruneInterval)
			return nil
		})
	}

	logger.Info("aibridge running", "listen", cfg.API.Listen, "capabilities", len(st.service.EnabledNames()))
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("aibridge stopped")
	return nil
}

// pruneLoop deletes expired invocations once immediately and then every interval until ctx ends.
func pruneLoop(ctx context.Context, l *ledger.Ledger, retention, interval time.Duration) {
	logger := log.WithComponent("ledger")
	prune := func() {
		n, err := l.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("ledger prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned invocations", "count", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
