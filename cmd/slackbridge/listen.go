package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slackbridge/internal/bot"
	"slackbridge/internal/config"
	"slackbridge/internal/dispatch"
	"slackbridge/internal/llm"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the question-answering bot",
	Long: `Listen connects the configured transport (Socket Mode or the Events
API webhook), routes inbound events through dedup and self-filtering,
and answers mentions and direct messages with the language model,
using recent conversation as context.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := cfg.Credentials()
	if cfg.TransportMode() == config.ModeSocket && creds.AppToken == "" {
		return fmt.Errorf("socket mode requires an app-level token")
	}
	if cfg.TransportMode() == config.ModeWebhook && creds.SigningSecret == "" {
		return fmt.Errorf("webhook mode requires the signing secret")
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("the llm api key is required to answer questions")
	}

	client, err := newClient(cfg, creds, log)
	if err != nil {
		return err
	}
	self, err := client.Auth(ctx)
	if err != nil {
		return err
	}

	cache, err := newCache(cfg, client, log)
	if err != nil {
		return err
	}

	completer, err := llm.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	if err != nil {
		return err
	}

	builder := bot.NewContextBuilder(client, cache,
		cfg.Bot.ContextLimit, time.Duration(cfg.Bot.LookbackDays)*24*time.Hour)
	responder := bot.NewResponder(client, builder, completer, self, cfg.Bot.SystemPrompt, log)

	var transport dispatch.Transport
	switch cfg.TransportMode() {
	case config.ModeWebhook:
		transport = dispatch.NewWebhookTransport(
			cfg.Slack.ListenAddr, cfg.Slack.WebhookPath, creds.SigningSecret, log)
	default:
		transport = dispatch.NewSocketTransport(client.API(), creds.AppToken, log)
	}

	d := dispatch.NewDispatcher(responder, self, dispatch.Config{
		DedupCapacity: cfg.Dedup.Capacity,
		DedupMaxAge:   cfg.Dedup.MaxAge,
	}, log)

	log.Info("listening", "transport", transport.Name(), "bot", self.Name)
	if err := d.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
