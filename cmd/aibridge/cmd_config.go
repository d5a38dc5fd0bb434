package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/aibridge/internal/config"
	"github.com/mattjoyce/aibridge/internal/doctor"
)

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and lock configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid: %s\n", cfg.SourcePath)
			return nil
		},
	})

	var dryRun bool
	lock := &cobra.Command{
		Use:   "lock",
		Short: "Record BLAKE3 checksums of the configuration file",
		Long: `Write a .checksums manifest next to the configuration file. Later loads
refuse to start if the file no longer matches. Run it again after editing
the file on purpose.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runConfigLock(cmd, dryRun)
		},
	}
	lock.Flags().BoolVar(&dryRun, "dry-run", false, "Print the hash without writing .checksums")
	cmd.AddCommand(lock)
	return cmd
}

// runConfigLock skips checksum verification so an edited file can be relocked.
func (c *cli) runConfigLock(cmd *cobra.Command, dryRun bool) error {
	path, err := c.configFile()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if _, err := config.Parse(data); err != nil {
		return err
	}

	dir, file := filepath.Split(path)
	out := cmd.OutOrStdout()
	if dryRun {
		hash, err := config.ComputeBlake3Hash(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "HASH %s: %s\n", file, hash)
		fmt.Fprintf(out, "DRY-RUN %s: not written\n", config.ChecksumFile)
		return nil
	}

	manifest, err := config.Lock(dir, file)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "HASH %s: %s\n", file, manifest.Hashes[file])
	fmt.Fprintf(out, "WROTE %s: %s\n", config.ChecksumFile, filepath.Join(dir, config.ChecksumFile))
	return nil
}

func (c *cli) newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the interpreter, models directory and capability settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()

			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}
			if !result.Valid {
				return fmt.Errorf("doctor found %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
