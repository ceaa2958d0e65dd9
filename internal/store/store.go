// Package store persists fetched messages and rendered conversation
// units.
package store

import (
	"context"

	"slackbridge/internal/convo"
	"slackbridge/internal/slack"
)

// FormattedUnit is a rendered conversation unit ready for storage.
type FormattedUnit struct {
	Key      convo.Key    `json:"key"`
	Format   convo.Format `json:"format"`
	Document string       `json:"document"`
	Messages int          `json:"messages"`
}

// MessageWriter persists raw messages. Writes are idempotent on the
// (channel, timestamp) identity; rewriting a message is a no-op.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs []slack.Message) error
}

// UnitWriter persists rendered conversation units, replacing any
// earlier rendering of the same key and format.
type UnitWriter interface {
	WriteUnits(ctx context.Context, units []FormattedUnit) error
}

// CacheWriter persists directory snapshots.
type CacheWriter interface {
	WriteUsers(ctx context.Context, users []slack.User) error
	WriteChannels(ctx context.Context, chans []slack.Channel) error
}

// MessageReader loads previously persisted messages, for runs that
// format without refetching.
type MessageReader interface {
	ReadMessages(ctx context.Context) ([]slack.Message, error)
}
