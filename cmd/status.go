package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dayuer/estatedesk/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show estatedesk status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	fmt.Fprintln(out, "🏠 estatedesk Status")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config: %s\n", path)
	fmt.Fprintf(out, "Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	fmt.Fprintln(out, "\nChannels:")
	for _, line := range channelLines(cfg.Channels) {
		fmt.Fprintf(out, "  %s\n", line)
	}

	repo, cache, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		fmt.Fprintf(out, "\nDatabase: ❌ %v\n", err)
		return nil
	}
	defer repo.Close()

	fmt.Fprintf(out, "\nDatabase: %s\n", cfg.Store.DatabasePath())
	if stats, err := repo.Stats(cmd.Context()); err == nil {
		fmt.Fprintf(out, "  Sessions: %d  Messages: %d  Listings: %d\n", stats.Sessions, stats.Messages, stats.Listings)
	}

	switch {
	case cfg.Redis.URL == "":
		fmt.Fprintln(out, "Redis cache: off")
	case cache.Available():
		fmt.Fprintln(out, "Redis cache: ✓")
	default:
		fmt.Fprintln(out, "Redis cache: ⚠️ unreachable")
	}
	return nil
}

func channelLines(c config.ChannelConfig) []string {
	mark := func(on bool) string {
		if on {
			return "✓"
		}
		return "-"
	}
	lines := []string{"Web: ✓"}
	lines = append(lines, "Telegram: "+mark(c.Telegram != nil && c.Telegram.Token != ""))
	if c.Telegram != nil && c.Telegram.BroadcastChannel != "" {
		lines = append(lines, "  listings from "+c.Telegram.BroadcastChannel)
	}
	lines = append(lines, "WhatsApp: "+mark(c.WhatsApp != nil))
	lines = append(lines, "Facebook: "+mark(c.Facebook != nil && c.Facebook.VerifyToken != ""))
	lines = append(lines, "Discord: "+mark(c.Discord != nil && c.Discord.Token != ""))
	return lines
}
