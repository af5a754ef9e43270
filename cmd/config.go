package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bnema/grabarbiter/internal/config"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage grabarbiter configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		fmt.Fprintf(w, "Config file:\t%s\n", config.GetConfigPath())
		fmt.Fprintln(w, "\n[engine]")
		fmt.Fprintf(w, "  pointer_emulation\t%v\n", cfg.Engine.PointerEmulation)
		fmt.Fprintf(w, "  touch_history_size\t%d\n", cfg.Engine.TouchHistorySize)
		fmt.Fprintf(w, "  initial_touch_slots\t%d\n", cfg.Engine.InitialSlots)
		fmt.Fprintf(w, "  max_resources\t%d\n", cfg.Engine.MaxResources)
		fmt.Fprintf(w, "  xi2_minor_version\t%d\n", cfg.Engine.XI2MinorVersion)
		fmt.Fprintln(w, "\n[logging]")
		fmt.Fprintf(w, "  log_level\t%q\n", cfg.Logging.LogLevel)
		fmt.Fprintln(w, "\n[trace]")
		fmt.Fprintf(w, "  enabled\t%v\n", cfg.Trace.Enabled)
		fmt.Fprintf(w, "  path\t%s\n", cfg.Trace.Path)
		fmt.Fprintln(w, "\n[replay]")
		fmt.Fprintf(w, "  interactive\t%v\n", cfg.Replay.Interactive)
		fmt.Fprintf(w, "  stop_on_failure\t%v\n", cfg.Replay.StopOnFailure)

		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush writer: %w", err)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveTo(path); err != nil {
			return err
		}
		logger.Infof("Config written to %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
