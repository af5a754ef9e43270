package cmd

import (
	"github.com/bnema/grabarbiter/internal/config"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "grabarbiter",
		Short: "grabarbiter - X input grab arbitration",
		Long: `grabarbiter arbitrates ownership of X input events between clients.
It resolves passive and active grabs, freezes and replays devices on sync
grabs, and hands touch and gesture sequences between listeners. Scenarios
written in YAML drive the engine and check what each client receives.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search /etc/grabarbiter, ~/.config/grabarbiter, .)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("logging.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return err
	}
	logger.SetLevel(config.Get().Logging.LogLevel)
	return nil
}
