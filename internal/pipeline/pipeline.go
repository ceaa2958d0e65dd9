// Package pipeline wires the API gateway, grouping engine, and stores
// into the batch runs the CLI exposes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slackbridge/internal/channels"
	"slackbridge/internal/convo"
	"slackbridge/internal/slack"
	"slackbridge/internal/store"
)

// Source is the read slice of the API a fetch run needs. *slack.Client
// satisfies it.
type Source interface {
	ListChannels(ctx context.Context, includePrivate bool, cursor string) ([]slack.Channel, slack.PageResult, error)
	History(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, slack.PageResult, error)
	Replies(ctx context.Context, channelID, rootTS string) ([]slack.Message, slack.PageResult, error)
}

// FetchOptions control a fetch run.
type FetchOptions struct {
	Filter         *channels.Filter
	Lookback       time.Duration // 0 means unbounded
	IncludePrivate bool
	Threads        bool // expand thread replies
	SkipArchived   bool
	MemberOnly     bool // only channels the authenticated user is in
}

// FetchSummary reports what a fetch run covered.
type FetchSummary struct {
	Channels int
	Messages int
	Partial  bool // some listing hit its page cap
}

// Fetcher walks the selected channels and persists their messages.
type Fetcher struct {
	source Source
	sink   store.MessageWriter
	log    *slog.Logger
	now    func() time.Time
}

// NewFetcher creates a Fetcher writing to sink.
func NewFetcher(source Source, sink store.MessageWriter, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{source: source, sink: sink, log: log, now: time.Now}
}

// WithClock sets the time source, for tests. Call before first use.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// Run fetches every selected channel. A failure in one channel aborts
// the run; messages persisted so far stay persisted, and rerunning is
// safe because the sink dedups on (channel, timestamp).
func (f *Fetcher) Run(ctx context.Context, opts FetchOptions) (FetchSummary, error) {
	var sum FetchSummary

	chans, res, err := f.source.ListChannels(ctx, opts.IncludePrivate, "")
	if err != nil {
		return sum, fmt.Errorf("listing channels: %w", err)
	}
	sum.Partial = res.Partial

	if opts.Filter != nil {
		chans = opts.Filter.Apply(chans)
	}

	oldest := ""
	if opts.Lookback > 0 {
		oldest = fmt.Sprintf("%d.000000", f.now().Add(-opts.Lookback).Unix())
	}

	for _, ch := range chans {
		if opts.SkipArchived && ch.Archived {
			continue
		}
		if opts.MemberOnly && !ch.Member {
			continue
		}
		n, partial, err := f.fetchChannel(ctx, ch, oldest, opts.Threads)
		if err != nil {
			return sum, fmt.Errorf("fetching #%s: %w", ch.Name, err)
		}
		sum.Channels++
		sum.Messages += n
		sum.Partial = sum.Partial || partial
		f.log.Info("channel fetched", "channel", ch.Name, "messages", n)
	}
	return sum, nil
}

func (f *Fetcher) fetchChannel(ctx context.Context, ch slack.Channel, oldest string, threads bool) (int, bool, error) {
	msgs, res, err := f.source.History(ctx, ch.ID, oldest, "")
	if err != nil {
		return 0, false, err
	}
	partial := res.Partial

	if threads {
		// History carries thread roots but not their replies.
		for _, m := range msgs {
			if m.ThreadRoot != m.Timestamp || m.ThreadRoot == "" {
				continue
			}
			replies, rres, err := f.source.Replies(ctx, ch.ID, m.ThreadRoot)
			if err != nil {
				return 0, false, err
			}
			partial = partial || rres.Partial
			for _, r := range replies {
				if r.Timestamp == m.Timestamp {
					continue // the root is already in the history page
				}
				msgs = append(msgs, r)
			}
		}
	}

	for i := range msgs {
		msgs[i].ChannelName = ch.Name
	}
	if err := f.sink.WriteMessages(ctx, msgs); err != nil {
		return 0, false, fmt.Errorf("persisting messages: %w", err)
	}
	return len(msgs), partial, nil
}

// Formatter groups stored messages and persists the rendered units.
type Formatter struct {
	reader store.MessageReader
	sink   store.UnitWriter
	log    *slog.Logger
}

// NewFormatter creates a Formatter.
func NewFormatter(reader store.MessageReader, sink store.UnitWriter, log *slog.Logger) *Formatter {
	if log == nil {
		log = slog.Default()
	}
	return &Formatter{reader: reader, sink: sink, log: log}
}

// Run groups everything in the message store per spec and writes the
// rendered units.
func (f *Formatter) Run(ctx context.Context, spec convo.Spec, format convo.Format) (int, error) {
	msgs, err := f.reader.ReadMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading messages: %w", err)
	}
	units := convo.Group(ctx, msgs, spec)

	formatted := make([]store.FormattedUnit, 0, len(units))
	for _, u := range units {
		doc, err := convo.RenderUnit(u, format)
		if err != nil {
			return 0, err
		}
		formatted = append(formatted, store.FormattedUnit{
			Key:      u.Key,
			Format:   format,
			Document: doc,
			Messages: len(u.Messages),
		})
	}
	if err := f.sink.WriteUnits(ctx, formatted); err != nil {
		return 0, fmt.Errorf("persisting units: %w", err)
	}
	f.log.Info("conversations formatted", "messages", len(msgs), "units", len(formatted))
	return len(formatted), nil
}

// BuildCache rebuilds the entity cache, snapshots it to snapshotPath
// (when set), and persists the directory to sink (when set).
func BuildCache(ctx context.Context, cache *slack.EntityCache, snapshotPath string, sink store.CacheWriter, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if err := cache.Rebuild(ctx); err != nil {
		return err
	}
	if snapshotPath != "" {
		if err := cache.Save(snapshotPath); err != nil {
			return err
		}
	}
	if sink != nil {
		if err := sink.WriteUsers(ctx, cache.Users()); err != nil {
			return fmt.Errorf("persisting users: %w", err)
		}
		if err := sink.WriteChannels(ctx, cache.Channels()); err != nil {
			return fmt.Errorf("persisting channels: %w", err)
		}
	}
	log.Info("directory cached", "users", len(cache.Users()), "channels", len(cache.Channels()))
	return nil
}
