package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "estatedesk",
	Short: "estatedesk: multi-channel real estate assistant with operator handoff",
	Long: `estatedesk answers property questions on the web widget, Telegram, WhatsApp,
Facebook Messenger and Discord, indexes listings posted to a Telegram channel,
and lets human operators take over any conversation from the console.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.estatedesk/config.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
}
