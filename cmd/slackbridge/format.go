package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slackbridge/internal/convo"
	"slackbridge/internal/pipeline"
)

var formatFlags struct {
	format  string
	resolve bool
}

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Group stored messages into conversation units",
	Long: `Format reads the message store, groups messages into conversation
units per the configured grouping (channel, time bucket, threads), and
writes the rendered units back to the store. It does not call the API
unless user resolution is enabled and the cache is cold.`,
	Args: cobra.NoArgs,
	RunE: runFormat,
}

func init() {
	formatCmd.Flags().StringVar(&formatFlags.format, "format", "", "output format: markdown, text, or json (default from config)")
	formatCmd.Flags().BoolVar(&formatFlags.resolve, "resolve", false, "resolve user IDs to names (needs API access or a warm snapshot)")
	rootCmd.AddCommand(formatCmd)
}

func runFormat(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spec, err := cfg.ConvoSpec()
	if err != nil {
		return err
	}
	if formatFlags.resolve {
		spec.Resolve = true
	}
	if spec.Resolve {
		client, err := newClient(cfg, cfg.Credentials(), log)
		if err != nil {
			return err
		}
		cache, err := newCache(cfg, client, log)
		if err != nil {
			return err
		}
		spec.Resolver = cache
	}

	name := formatFlags.format
	if name == "" {
		name = cfg.Convo.Format
	}
	format, err := convo.ParseFormat(name)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := pipeline.NewFormatter(st, st, log).Run(ctx, spec, format)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d conversation units\n", n)
	return nil
}
