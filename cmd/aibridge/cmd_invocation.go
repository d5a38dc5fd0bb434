package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/aibridge/internal/invoke"
	"github.com/mattjoyce/aibridge/internal/ledger"
)

var errLedgerDisabled = errors.New("ledger is disabled (ledger.enabled: false)")

func (c *cli) newInvocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invocation",
		Aliases: []string{"invocations"},
		Short:   "Inspect recorded invocations",
	}

	var (
		filter  ledger.Filter
		status  string
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent invocations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = invoke.Status(status)
			return c.runInvocationList(cmd, filter, jsonOut)
		},
	}
	list.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of invocations")
	list.Flags().StringVar(&filter.Label, "label", "", "Only invocations with this label (capability name)")
	list.Flags().StringVar(&status, "status", "", "Only invocations with this status (succeeded, failed, timed_out, ...)")
	list.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single invocation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInvocationShow(cmd, args[0])
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// openInvocations loads config and opens the invocation ledger. Callers must call the returned close func.
func (c *cli) openInvocations(cmd *cobra.Command) (*ledger.Ledger, func(), error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Ledger.Enabled {
		return nil, nil, errLedgerDisabled
	}
	db, l, err := openLedger(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = db.Close() }, nil
}

func (c *cli) runInvocationList(cmd *cobra.Command, f ledger.Filter, jsonOut bool) error {
	if f.Limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", f.Limit)
	}
	l, closeDB, err := c.openInvocations(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	entries, err := l.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), entries)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTATUS\tEXIT\tDURATION\tSTARTED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Label, e.Status, e.ExitCode,
			time.Duration(e.DurationMS)*time.Millisecond,
			e.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (c *cli) runInvocationShow(cmd *cobra.Command, id string) error {
	l, closeDB, err := c.openInvocations(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	e, err := l.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), e)
}
