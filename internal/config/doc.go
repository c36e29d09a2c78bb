// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"path/filepath"
	"time"

	"github.com/dayuer/estatedesk/internal/utils"
)

// Config is the top-level estatedesk configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Server   ServerConfig  `json:"server"`
	Channels ChannelConfig `json:"channels"`
	Store    StoreConfig   `json:"store"`
	Redis    RedisConfig   `json:"redis"`
	Reply    ReplyConfig   `json:"reply"`
	Lanes    LanesConfig   `json:"lanes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	StaticDir string `json:"staticDir,omitempty"` // operator console assets served at /operator
}

// ChannelConfig holds per-channel settings. A nil entry disables the
// channel; the web channel is always on.
type ChannelConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	WhatsApp *WhatsAppConfig `json:"whatsapp,omitempty"`
	Facebook *FacebookConfig `json:"facebook,omitempty"`
	Discord  *DiscordConfig  `json:"discord,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token            string   `json:"token"`
	BroadcastChannel string   `json:"broadcastChannel,omitempty"` // listings channel id or @username
	AllowFrom        []string `json:"allowFrom,omitempty"`
}

// WhatsAppConfig holds WhatsApp bridge settings.
type WhatsAppConfig struct {
	BridgeURL   string   `json:"bridgeUrl,omitempty"`
	BridgeToken string   `json:"bridgeToken,omitempty"`
	AllowFrom   []string `json:"allowFrom,omitempty"`
}

// FacebookConfig holds Messenger webhook settings.
type FacebookConfig struct {
	VerifyToken string   `json:"verifyToken"`
	PageToken   string   `json:"pageToken,omitempty"`
	AllowFrom   []string `json:"allowFrom,omitempty"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path        string `json:"path,omitempty"` // SQLite file; ":memory:" keeps nothing
	SeedSamples bool   `json:"seedSamples,omitempty"`
}

// DatabasePath returns the configured path or ~/.estatedesk/estatedesk.db.
func (s StoreConfig) DatabasePath() string {
	if s.Path != "" {
		return utils.ExpandHome(s.Path)
	}
	return filepath.Join(utils.GetDataPath(), "estatedesk.db")
}

// RedisConfig holds the optional listing query cache.
type RedisConfig struct {
	URL             string `json:"url,omitempty"`
	Password        string `json:"password,omitempty"`
	DB              int    `json:"db,omitempty"`
	CacheTTLSeconds int    `json:"cacheTtlSeconds,omitempty"`
}

// CacheTTL returns the cache TTL as a duration.
func (r RedisConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// ReplyConfig holds bot reply settings.
type ReplyConfig struct {
	RulesFile string `json:"rulesFile,omitempty"` // YAML rule table; empty uses the built-in one
}

// LanesConfig holds per-session worker settings.
type LanesConfig struct {
	IdleTimeoutSeconds int `json:"idleTimeoutSeconds,omitempty"`
	QueueSize          int `json:"queueSize,omitempty"`
}

// IdleTimeout returns the idle timeout as a duration.
func (l LanesConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSeconds) * time.Second
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Store: StoreConfig{
			SeedSamples: true,
		},
		Redis: RedisConfig{
			CacheTTLSeconds: 300,
		},
		Lanes: LanesConfig{
			IdleTimeoutSeconds: 300,
			QueueSize:          100,
		},
	}
}
