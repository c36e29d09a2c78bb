package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dayuer/estatedesk/internal/config"
	"github.com/dayuer/estatedesk/internal/store"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize estatedesk configuration and database",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

const envTemplate = `# estatedesk environment. Values here override config.json.
PORT=3000
TELEGRAM_TOKEN=
TELEGRAM_CHANNEL=
FB_VERIFY_TOKEN=
FB_PAGE_TOKEN=
WHATSAPP_BRIDGE_URL=
DISCORD_TOKEN=
DATABASE_PATH=
REDIS_URL=
`

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
	} else {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Fprintf(out, "✓ Created config at %s\n", path)
	}

	example := filepath.Join(filepath.Dir(path), ".env.example")
	if _, err := os.Stat(example); os.IsNotExist(err) {
		if err := os.WriteFile(example, []byte(envTemplate), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", example, err)
		}
		fmt.Fprintf(out, "  Created %s\n", example)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, _, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cfg.Store.SeedSamples {
		n, err := store.SeedIfEmpty(cmd.Context(), repo)
		if err != nil {
			return fmt.Errorf("seeding samples: %w", err)
		}
		if n > 0 {
			fmt.Fprintf(out, "  Added %d sample listings\n", n)
		}
	}
	fmt.Fprintf(out, "✓ Database at %s\n", cfg.Store.DatabasePath())

	fmt.Fprintln(out, "\n🏠 estatedesk is ready!")
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Add channel tokens to %s or a .env file\n", path)
	fmt.Fprintln(out, "  2. Start: estatedesk serve")
	return nil
}
