package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"slackbridge/internal/config"
)

// Version information, injected at build time via ldflags.
var (
	Version   = "dev"
	Build     = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "slackbridge",
	Short: "Fetch, group, and answer questions over Slack conversations",
	Long: `slackbridge connects a Slack workspace to a language model.

It fetches channel history through a rate-limited gateway, groups
messages into conversation units, and runs a bot that answers questions
using recent conversation as context. Configuration is YAML plus
SLACKBRIDGE_* environment variables; a .env file is honored.`,
	Version: fmt.Sprintf("%s (build %s, %s)", Version, Build, BuildTime),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
}

// loadConfig loads .env, the config file, and the environment overlay,
// and installs the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
