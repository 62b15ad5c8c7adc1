package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18791
	DefaultBufSize         = 100
	DefaultCooldownSeconds = 5
	DefaultRetentionDays   = 15
	DefaultMinSpeakers     = 2
	DefaultDedupWindow     = 100
	DefaultDedupTrim       = 90
	DefaultDedupRooms      = 4096
	DefaultSpeakEverySec   = 5
	DefaultPruneSpec       = "0 0 4 * * *"
)

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Engine   EngineConfig   `json:"engine"`
	Gateway  GatewayConfig  `json:"gateway"`
	DataDir  string         `json:"dataDir"`
}

// EngineConfig holds the policy knobs of the learning/reply engine.
// Every value is an explicit field here; no component carries implicit
// per-type defaults of its own.
type EngineConfig struct {
	CooldownSeconds int    `json:"cooldownSeconds"`
	RetentionDays   int    `json:"retentionDays"`
	MinSpeakers     int    `json:"minSpeakers"`
	DedupWindow     int    `json:"dedupWindow"`
	DedupTrim       int    `json:"dedupTrim"`
	DedupRooms      int    `json:"dedupRooms"`
	SpeakEverySec   int    `json:"speakEverySec"`
	PruneSpec       string `json:"pruneSpec"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Tokens    []string `json:"tokens"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Channels: ChannelsConfig{},
		Engine: EngineConfig{
			CooldownSeconds: DefaultCooldownSeconds,
			RetentionDays:   DefaultRetentionDays,
			MinSpeakers:     DefaultMinSpeakers,
			DedupWindow:     DefaultDedupWindow,
			DedupTrim:       DefaultDedupTrim,
			DedupRooms:      DefaultDedupRooms,
			SpeakEverySec:   DefaultSpeakEverySec,
			PruneSpec:       DefaultPruneSpec,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		DataDir: filepath.Join(home, ".parrot", "data"),
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".parrot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("PARROT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Tokens = []string{token}
		cfg.Channels.Telegram.Enabled = true
	}
	if dir := os.Getenv("PARROT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if v := os.Getenv("PARROT_COOLDOWN_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.CooldownSeconds = parsed
		}
	}
	if v := os.Getenv("PARROT_RETENTION_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.RetentionDays = parsed
		}
	}
	if v := os.Getenv("PARROT_MIN_SPEAKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MinSpeakers = parsed
		}
	}
	if v := os.Getenv("PARROT_SPEAK_EVERY_SEC"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.SpeakEverySec = parsed
		}
	}

	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults backfills zero values left by a sparse config file.
func (c *Config) fillDefaults() {
	if c.Engine.CooldownSeconds <= 0 {
		c.Engine.CooldownSeconds = DefaultCooldownSeconds
	}
	if c.Engine.RetentionDays <= 0 {
		c.Engine.RetentionDays = DefaultRetentionDays
	}
	if c.Engine.MinSpeakers <= 0 {
		c.Engine.MinSpeakers = DefaultMinSpeakers
	}
	if c.Engine.DedupWindow <= 0 {
		c.Engine.DedupWindow = DefaultDedupWindow
	}
	if c.Engine.DedupTrim <= 0 || c.Engine.DedupTrim > c.Engine.DedupWindow {
		c.Engine.DedupTrim = c.Engine.DedupWindow * 9 / 10
	}
	if c.Engine.DedupRooms <= 0 {
		c.Engine.DedupRooms = DefaultDedupRooms
	}
	if c.Engine.SpeakEverySec <= 0 {
		c.Engine.SpeakEverySec = DefaultSpeakEverySec
	}
	if c.Engine.PruneSpec == "" {
		c.Engine.PruneSpec = DefaultPruneSpec
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = DefaultHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultPort
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(ConfigDir(), "data")
	}
}
