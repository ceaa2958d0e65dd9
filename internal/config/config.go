// Package config loads the service configuration from an optional YAML
// file overlaid with SLACKBRIDGE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"slackbridge/internal/convo"
	"slackbridge/internal/slack"
)

// Mode selects the event transport.
type Mode string

const (
	ModeSocket  Mode = "socket"
	ModeWebhook Mode = "webhook"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string `koanf:"log_level"`

	Slack struct {
		BotToken      string `koanf:"bot_token"`
		UserToken     string `koanf:"user_token"`
		AppToken      string `koanf:"app_token"`
		SigningSecret string `koanf:"signing_secret"`
		Mode          string `koanf:"mode"`
		ListenAddr    string `koanf:"listen_addr"`
		WebhookPath   string `koanf:"webhook_path"`
	} `koanf:"slack"`

	Limits struct {
		MaxAttempts     int           `koanf:"max_attempts"`
		BaseDelay       time.Duration `koanf:"base_delay"`
		MaxDelay        time.Duration `koanf:"max_delay"`
		MaxPages        int           `koanf:"max_pages"`
		ChannelPageSize int           `koanf:"channel_page_size"`
		MessagePageSize int           `koanf:"message_page_size"`
		UserPageSize    int           `koanf:"user_page_size"`
	} `koanf:"limits"`

	Cache struct {
		TTL            time.Duration `koanf:"ttl"`
		SnapshotPath   string        `koanf:"snapshot_path"`
		IncludePrivate bool          `koanf:"include_private"`
	} `koanf:"cache"`

	Convo struct {
		ByChannel  bool   `koanf:"by_channel"`
		Bucket     string `koanf:"bucket"`
		Threads    bool   `koanf:"threads"`
		MaxPerUnit int    `koanf:"max_per_unit"`
		Resolve    bool   `koanf:"resolve"`
		Format     string `koanf:"format"`
		Timezone   string `koanf:"timezone"`
	} `koanf:"convo"`

	Bot struct {
		ContextLimit int    `koanf:"context_limit"`
		LookbackDays int    `koanf:"lookback_days"`
		SystemPrompt string `koanf:"system_prompt"`
	} `koanf:"bot"`

	LLM struct {
		APIKey  string        `koanf:"api_key"`
		Model   string        `koanf:"model"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"llm"`

	Store struct {
		Driver string `koanf:"driver"` // "jsonl" or "postgres"
		DSN    string `koanf:"dsn"`
		Path   string `koanf:"path"`
	} `koanf:"store"`

	Dedup struct {
		Capacity int           `koanf:"capacity"`
		MaxAge   time.Duration `koanf:"max_age"`
	} `koanf:"dedup"`

	Fetch struct {
		Channels        []string `koanf:"channels"`
		ExcludeChannels []string `koanf:"exclude_channels"`
		LookbackDays    int      `koanf:"lookback_days"`
		IncludePrivate  bool     `koanf:"include_private"`
		Threads         bool     `koanf:"threads"`
	} `koanf:"fetch"`
}

const envPrefix = "SLACKBRIDGE_"

// configSections are the nested config groups; an environment variable
// starting with one maps into that group.
var configSections = map[string]bool{
	"slack": true, "limits": true, "cache": true, "convo": true,
	"bot": true, "llm": true, "store": true, "dedup": true, "fetch": true,
}

// envKey maps SLACKBRIDGE_SLACK_BOT_TOKEN to slack.bot_token and
// SLACKBRIDGE_LOG_LEVEL to log_level.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if ok && configSections[section] {
		return section + "." + rest
	}
	return key
}

// Load reads path (ignored when empty or missing) and overlays the
// environment. SLACKBRIDGE_SLACK_BOT_TOKEN maps to slack.bot_token.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and validates cross-field constraints.
// Token presence is checked by the commands that need tokens, not here.
func (c *Config) Normalize() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	if c.Slack.Mode == "" {
		c.Slack.Mode = string(ModeSocket)
	}
	switch Mode(c.Slack.Mode) {
	case ModeSocket, ModeWebhook:
	default:
		return fmt.Errorf("unknown transport mode %q", c.Slack.Mode)
	}
	if c.Slack.ListenAddr == "" {
		c.Slack.ListenAddr = ":8080"
	}

	if c.Convo.Bucket != "" {
		if _, err := convo.ParseBucketKind(c.Convo.Bucket); err != nil {
			return err
		}
	}
	if c.Convo.Format == "" {
		c.Convo.Format = string(convo.FormatMarkdown)
	}
	if _, err := convo.ParseFormat(c.Convo.Format); err != nil {
		return err
	}
	if c.Convo.Timezone != "" {
		if _, err := time.LoadLocation(c.Convo.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", c.Convo.Timezone, err)
		}
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "jsonl"
	}
	switch c.Store.Driver {
	case "jsonl":
		if c.Store.Path == "" {
			c.Store.Path = "data"
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Bot.ContextLimit <= 0 {
		c.Bot.ContextLimit = 10
	}
	if c.Bot.LookbackDays <= 0 {
		c.Bot.LookbackDays = 30
	}
	if c.Fetch.LookbackDays <= 0 {
		c.Fetch.LookbackDays = 30
	}
	return nil
}

// TransportMode returns the parsed transport selection.
func (c *Config) TransportMode() Mode { return Mode(c.Slack.Mode) }

// Credentials assembles the token set. The user token, when present,
// is preferred for fetch runs so search stays available.
func (c *Config) Credentials() *slack.Credentials {
	token := c.Slack.BotToken
	if token == "" {
		token = c.Slack.UserToken
	}
	return &slack.Credentials{
		Token:         token,
		AppToken:      c.Slack.AppToken,
		SigningSecret: c.Slack.SigningSecret,
	}
}

// FetchCredentials prefers the user token when configured.
func (c *Config) FetchCredentials() *slack.Credentials {
	token := c.Slack.UserToken
	if token == "" {
		token = c.Slack.BotToken
	}
	return &slack.Credentials{
		Token:         token,
		AppToken:      c.Slack.AppToken,
		SigningSecret: c.Slack.SigningSecret,
	}
}

// ClientConfig maps the limits onto the API client configuration.
func (c *Config) ClientConfig() slack.ClientConfig {
	return slack.ClientConfig{
		ChannelPageSize: c.Limits.ChannelPageSize,
		MessagePageSize: c.Limits.MessagePageSize,
		UserPageSize:    c.Limits.UserPageSize,
		MaxPages:        c.Limits.MaxPages,
		Limiter: slack.LimiterConfig{
			MaxAttempts: c.Limits.MaxAttempts,
			BaseDelay:   c.Limits.BaseDelay,
			MaxDelay:    c.Limits.MaxDelay,
		},
	}
}

// ConvoSpec maps the grouping settings onto a convo.Spec. The resolver
// is attached by the caller.
func (c *Config) ConvoSpec() (convo.Spec, error) {
	bucket, err := convo.ParseBucketKind(c.Convo.Bucket)
	if err != nil {
		return convo.Spec{}, err
	}
	var loc *time.Location
	if c.Convo.Timezone != "" {
		loc, err = time.LoadLocation(c.Convo.Timezone)
		if err != nil {
			return convo.Spec{}, fmt.Errorf("unknown timezone %q: %w", c.Convo.Timezone, err)
		}
	}
	return convo.Spec{
		ByChannel:  c.Convo.ByChannel,
		Bucket:     bucket,
		Threads:    c.Convo.Threads,
		MaxPerUnit: c.Convo.MaxPerUnit,
		Resolve:    c.Convo.Resolve,
		Location:   loc,
	}, nil
}
