// Package dispatch receives workspace events over either transport,
// deduplicates them, and fans them out to per-channel workers.
package dispatch

import (
	"github.com/google/uuid"
	"github.com/slack-go/slack/slackevents"

	"slackbridge/internal/slack"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindMessage    Kind = "message"
	KindAppMention Kind = "app_mention"
	KindHomeOpened Kind = "app_home_opened"
)

// Event is the transport-independent form of an inbound event. Both
// transports produce it, so handlers never see wire envelopes.
type Event struct {
	ID         string // envelope event id; synthesized when absent
	Kind       Kind
	Channel    string
	User       string
	Text       string
	Timestamp  string
	ThreadRoot string
	BotID      string
	Subtype    slack.Subtype
}

// DedupKey returns the replay-detection key. Events carrying a channel
// and timestamp key on that pair: it identifies the underlying message,
// so a post that fans out as both message and app_mention (distinct
// envelope IDs) collapses to one delivery. Events without a timestamp
// fall back to the envelope ID.
func (e Event) DedupKey() string {
	if e.Channel != "" && e.Timestamp != "" {
		return e.Channel + ":" + e.Timestamp
	}
	return e.ID
}

// queueKey routes the event to a worker. Events for the same channel
// serialize; home-tab events serialize per user instead.
func (e Event) queueKey() string {
	if e.Kind == KindHomeOpened {
		return "home:" + e.User
	}
	return e.Channel
}

// FromCallback converts a parsed Events API callback into an Event.
// The second return is false for callback types the dispatcher does
// not route.
func FromCallback(outer slackevents.EventsAPIEvent) (Event, bool) {
	id := ""
	if cb, ok := outer.Data.(*slackevents.EventsAPICallbackEvent); ok {
		id = cb.EventID
	}

	var ev Event
	switch inner := outer.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		ev = Event{
			ID:         id,
			Kind:       KindMessage,
			Channel:    inner.Channel,
			User:       inner.User,
			Text:       inner.Text,
			Timestamp:  inner.TimeStamp,
			ThreadRoot: inner.ThreadTimeStamp,
			BotID:      inner.BotID,
			Subtype:    slack.ParseSubtype(inner.SubType),
		}
	case *slackevents.AppMentionEvent:
		ev = Event{
			ID:         id,
			Kind:       KindAppMention,
			Channel:    inner.Channel,
			User:       inner.User,
			Text:       inner.Text,
			Timestamp:  inner.TimeStamp,
			ThreadRoot: inner.ThreadTimeStamp,
			BotID:      inner.BotID,
		}
	case *slackevents.AppHomeOpenedEvent:
		ev = Event{
			ID:        id,
			Kind:      KindHomeOpened,
			User:      inner.User,
			Channel:   inner.Channel,
			Timestamp: inner.EventTimeStamp,
		}
	default:
		return Event{}, false
	}

	// Without an envelope ID or a timestamp there is nothing stable to
	// dedup on; synthesize an ID so the event is at least routable.
	if ev.ID == "" && ev.Timestamp == "" {
		ev.ID = "synthetic-" + uuid.NewString()
	}
	return ev, true
}
