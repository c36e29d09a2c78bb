package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/dayuer/estatedesk/internal/utils"
)

// GetConfigPath returns the default config file path (~/.estatedesk/config.json).
func GetConfigPath() string {
	return filepath.Join(utils.GetDataPath(), "config.json")
}

// Load reads configuration from a JSON file.
// If path is empty, uses the default config path.
// If the file doesn't exist, returns DefaultConfig().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadEnvFile loads KEY=value pairs from the given .env files (default
// ./.env) into the process environment. Variables already set win. Missing
// files are not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the deployment environment variables onto cfg. A set
// token switches its channel on.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		telegram(cfg).Token = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL"); v != "" {
		telegram(cfg).BroadcastChannel = v
	}

	if v := os.Getenv("FB_VERIFY_TOKEN"); v != "" {
		facebook(cfg).VerifyToken = v
	}
	if v := os.Getenv("FB_PAGE_TOKEN"); v != "" {
		facebook(cfg).PageToken = v
	}

	if v := os.Getenv("WHATSAPP_BRIDGE_URL"); v != "" {
		if cfg.Channels.WhatsApp == nil {
			cfg.Channels.WhatsApp = &WhatsAppConfig{}
		}
		cfg.Channels.WhatsApp.BridgeURL = v
	}

	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		if cfg.Channels.Discord == nil {
			cfg.Channels.Discord = &DiscordConfig{}
		}
		cfg.Channels.Discord.Token = v
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	return nil
}

func telegram(cfg *Config) *TelegramConfig {
	if cfg.Channels.Telegram == nil {
		cfg.Channels.Telegram = &TelegramConfig{}
	}
	return cfg.Channels.Telegram
}

func facebook(cfg *Config) *FacebookConfig {
	if cfg.Channels.Facebook == nil {
		cfg.Channels.Facebook = &FacebookConfig{}
	}
	return cfg.Channels.Facebook
}
