// Command aibridge runs interpreter-backed AI capabilities from the command
// line or behind an HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/aibridge/internal/config"
	"github.com/mattjoyce/aibridge/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// runCLI executes the command tree and returns the process exit code.
func runCLI(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// cli carries flags shared by every subcommand.
type cli struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "aibridge",
		Short: "Run Python AI capabilities through a process boundary",
		Long: `aibridge spawns an interpreter per request, pipes a JSON payload to the
script on stdin and returns the script's JSON output.

Capabilities: analysis, similarity, chatbot, extraction, classification,
contradiction, call_screening.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"Path to config file or directory (default: discovered)")

	root.AddCommand(
		c.newSystemCmd(),
		c.newCapabilityCmd(),
		c.newInvocationCmd(),
		c.newConfigCmd(),
		c.newDoctorCmd(),
		newVersionCmd(),
	)
	return root
}

// configFile returns the --config file, falling back to discovery.
func (c *cli) configFile() (string, error) {
	path := c.configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return "", err
		}
		path = discovered
	}
	return config.ResolveFile(path)
}

// loadConfig loads and verifies the config file and sets up logging.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := c.configFile()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	log.Debug("config loaded", "path", cfg.SourcePath, "command", cmd.CommandPath())
	return cfg, nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "aibridge %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			fmt.Fprintf(out, "built_at: %s\n", info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version metadata as JSON")
	return cmd
}

// currentVersionInfo prefers ldflags values and falls back to VCS build settings.
func currentVersionInfo() versionInfo {
	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" && s.Value != "" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
