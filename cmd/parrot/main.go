package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/parrot/internal/config"
	"github.com/stellarlinkco/parrot/internal/corpus"
	"github.com/stellarlinkco/parrot/internal/gateway"
)

var rootCmd = &cobra.Command{
	Use:   "parrot",
	Short: "parrot - group chat repeater bot",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + engine + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show parrot status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.WebUI.Enabled {
		return fmt.Errorf("no channel enabled. Run 'parrot onboard' and edit %s", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("Data directory ready: %s\n", cfg.DataDir)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to add telegram bot tokens\n", cfgPath)
	fmt.Println("  2. Or set PARROT_TELEGRAM_TOKEN environment variable")
	fmt.Println("  3. Run 'parrot gateway' to start")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Data dir: %s\n", cfg.DataDir)
	fmt.Printf("Telegram: enabled=%v accounts=%d\n", cfg.Channels.Telegram.Enabled, len(cfg.Channels.Telegram.Tokens))
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Printf("Cooldown: %ds\n", cfg.Engine.CooldownSeconds)
	fmt.Printf("Retention: %d days\n", cfg.Engine.RetentionDays)
	fmt.Printf("Min speakers: %d\n", cfg.Engine.MinSpeakers)

	dbPath := filepath.Join(cfg.DataDir, "corpus.db")
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Corpus: not found (run 'parrot gateway' first)")
		return nil
	}

	store, err := corpus.Open(dbPath, cfg.Engine.RetentionDays, cfg.Engine.MinSpeakers)
	if err != nil {
		fmt.Printf("Corpus: error (%v)\n", err)
		return nil
	}
	defer store.Close()

	entries, bans := store.Stats()
	fmt.Printf("Corpus: %d entries, %d bans\n", entries, bans)

	return nil
}
