// Package bot answers workspace questions: it assembles bounded
// conversational context and hands it to the completion backend.
package bot

import (
	"context"
	"fmt"
	"time"

	"slackbridge/internal/convo"
	"slackbridge/internal/dispatch"
	"slackbridge/internal/llm"
	"slackbridge/internal/slack"
)

const (
	// DefaultContextLimit bounds how many prior messages a prompt carries.
	DefaultContextLimit = 10
	// DefaultLookback bounds how far back context reaches.
	DefaultLookback = 30 * 24 * time.Hour
)

// HistorySource is the slice of the API the builder reads from.
// *slack.Client satisfies it.
type HistorySource interface {
	History(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, slack.PageResult, error)
	Replies(ctx context.Context, channelID, rootTS string) ([]slack.Message, slack.PageResult, error)
}

// ContextBuilder assembles the prior conversation for a prompt. Both
// bounds apply together: at most limit messages, none older than the
// lookback window. Inside a thread the context is the thread; outside
// it is channel recency.
type ContextBuilder struct {
	source   HistorySource
	resolver convo.Resolver
	limit    int
	lookback time.Duration
	now      func() time.Time
}

// NewContextBuilder creates a builder. Non-positive bounds select the
// defaults. resolver may be nil to skip enrichment.
func NewContextBuilder(source HistorySource, resolver convo.Resolver, limit int, lookback time.Duration) *ContextBuilder {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &ContextBuilder{
		source:   source,
		resolver: resolver,
		limit:    limit,
		lookback: lookback,
		now:      time.Now,
	}
}

// WithClock sets the time source, for tests. Call before first use.
func (b *ContextBuilder) WithClock(now func() time.Time) *ContextBuilder {
	b.now = now
	return b
}

// Build returns the context turns for the triggering event, oldest
// first. The triggering message itself is excluded; the caller appends
// the question separately. A degraded (empty) context is not an error
// unless the fetch itself failed.
func (b *ContextBuilder) Build(ctx context.Context, ev dispatch.Event) ([]llm.Turn, error) {
	var (
		msgs []slack.Message
		err  error
	)
	if ev.ThreadRoot != "" {
		msgs, _, err = b.source.Replies(ctx, ev.Channel, ev.ThreadRoot)
		if err != nil {
			return nil, fmt.Errorf("building thread context: %w", err)
		}
	} else {
		oldest := fmt.Sprintf("%d.000000", b.now().Add(-b.lookback).Unix())
		msgs, _, err = b.source.History(ctx, ev.Channel, oldest, "")
		if err != nil {
			return nil, fmt.Errorf("building channel context: %w", err)
		}
	}

	cutoff := b.now().Add(-b.lookback)
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Timestamp == ev.Timestamp {
			continue
		}
		if t := m.Time(); !t.IsZero() && t.Before(cutoff) {
			continue
		}
		kept = append(kept, m)
	}

	spec := convo.Spec{
		ByChannel:  true,
		MaxPerUnit: b.limit,
		Resolve:    b.resolver != nil,
		Resolver:   b.resolver,
	}
	units := convo.Group(ctx, kept, spec)

	var turns []llm.Turn
	for _, u := range units {
		for _, m := range u.Messages {
			turns = append(turns, llm.Turn{
				Role:    llm.RoleUser,
				Speaker: speakerLabel(m),
				Text:    m.Text,
			})
		}
	}
	return turns, nil
}

func speakerLabel(m slack.Message) string {
	if m.UserName != "" {
		return m.UserName
	}
	if m.User != "" {
		return m.User
	}
	return "bot"
}
