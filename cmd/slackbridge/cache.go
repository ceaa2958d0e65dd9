package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slackbridge/internal/pipeline"
	"slackbridge/internal/slack"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Rebuild the user and channel directory cache",
	Long: `Cache rebuilds the workspace directory (users and channels), writes
the snapshot file when one is configured, and persists the directory to
the store.`,
	Args: cobra.NoArgs,
	RunE: runCache,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}

func runCache(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := cfg.Credentials()
	client, err := newClient(cfg, creds, log)
	if err != nil {
		return err
	}
	id, err := client.Auth(ctx)
	if err != nil {
		return err
	}
	log.Info("building directory cache",
		"workspace", id.Team, "token", slack.Redacted(creds.Token))

	cache, err := newCache(cfg, client, log)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := pipeline.BuildCache(ctx, cache, cfg.Cache.SnapshotPath, st, log); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cached %d users and %d channels\n",
		len(cache.Users()), len(cache.Channels()))
	return nil
}
