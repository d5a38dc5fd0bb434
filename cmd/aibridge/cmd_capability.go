package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/aibridge/internal/capability"
	"github.com/mattjoyce/aibridge/internal/log"
)

func (c *cli) newCapabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capability",
		Short: "Run and list capabilities",
	}

	var input string
	run := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a capability once and print its JSON response",
		Long: `Run a capability with a JSON request read from --input (a file, or - for stdin).

Examples:
  aibridge capability run chatbot --input query.json
  echo '{"text":"urgent refund"}' | aibridge capability run classification --input -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCapability(cmd, args[0], input)
		},
	}
	run.Flags().StringVarP(&input, "input", "i", "-", "Request JSON file, or - for stdin")

	list := &cobra.Command{
		Use:   "list",
		Short: "List capabilities and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE:  c.runCapabilityList,
	}

	cmd.AddCommand(run, list)
	return cmd
}

func (c *cli) runCapability(cmd *cobra.Command, rawName, input string) error {
	name, err := capability.ParseName(rawName)
	if err != nil {
		return err
	}
	payload, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := buildStack(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	logger := log.WithCapability(string(name))
	logger.Debug("running capability", "input_bytes", len(payload))

	out, err := st.service.Run(cmd.Context(), name, payload)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func (c *cli) runCapabilityList(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, n := range capability.Names() {
		state := "enabled"
		if !svc.Enabled(n) {
			state = "disabled"
		}
		fmt.Fprintf(out, "%-16s %-9s %s\n", n, state, filepath.Join(cfg.ResolvePath(cfg.Runtime.ModelsDir), n.ModuleDir()))
	}
	return nil
}

// readInput reads the request body from a file, or from stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("input is empty")
	}
	return data, nil
}
