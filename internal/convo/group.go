package convo

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"slackbridge/internal/slack"
)

// DefaultExclusions are the housekeeping subtypes dropped before
// grouping: joins, leaves, archive churn, tombstones, and bot noise.
func DefaultExclusions() []slack.Subtype {
	return []slack.Subtype{
		slack.SubtypeJoin,
		slack.SubtypeLeave,
		slack.SubtypeBot,
		slack.SubtypeArchive,
		slack.SubtypeUnarchive,
		slack.SubtypeTombstone,
	}
}

// Resolver supplies display metadata for user IDs. *slack.EntityCache
// satisfies it.
type Resolver interface {
	User(ctx context.Context, id string) (slack.User, slack.Lookup)
}

// Spec controls how messages are grouped. Every component is optional;
// with none enabled each message forms its own unit.
type Spec struct {
	ByChannel bool
	Bucket    BucketKind
	Threads   bool

	// Exclude lists subtypes to drop before grouping. nil means
	// DefaultExclusions; an explicit empty slice keeps everything.
	Exclude []slack.Subtype

	// MaxPerUnit caps messages per unit, keeping the most recent.
	// Zero means unbounded.
	MaxPerUnit int

	// Resolve enriches messages with user display metadata and
	// rewrites raw mentions, via Resolver.
	Resolve  bool
	Resolver Resolver

	// Location for bucket boundaries. nil means UTC.
	Location *time.Location
}

// Key identifies a conversation unit. Only the components the Spec
// enables are populated.
type Key struct {
	Channel string `json:"channel,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
	Thread  string `json:"thread,omitempty"`

	// ts is an internal disambiguator for per-message units.
	ts string
}

// String renders the key for logs and storage.
func (k Key) String() string {
	parts := make([]string, 0, 4)
	if k.Channel != "" {
		parts = append(parts, k.Channel)
	}
	if k.Bucket != "" {
		parts = append(parts, k.Bucket)
	}
	if k.Thread != "" {
		parts = append(parts, "t:"+k.Thread)
	}
	if k.ts != "" {
		parts = append(parts, k.ts)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, "/")
}

// Unit is one grouped conversation, ordered oldest first.
type Unit struct {
	Key      Key             `json:"key"`
	Messages []slack.Message `json:"messages"`

	// Orphaned marks a thread unit whose root was not in the input.
	Orphaned bool `json:"orphaned,omitempty"`

	// Truncated counts messages dropped by the per-unit cap.
	Truncated int `json:"truncated,omitempty"`
}

// Group partitions messages into conversation units per the Spec.
// Input order does not matter; output units are sorted by their oldest
// message and messages within a unit oldest first. Grouping is a pure
// function of its input except for the optional enrichment lookups.
func Group(ctx context.Context, msgs []slack.Message, spec Spec) []Unit {
	excluded := make(map[slack.Subtype]bool)
	exclude := spec.Exclude
	if exclude == nil {
		exclude = DefaultExclusions()
	}
	for _, s := range exclude {
		excluded[s] = true
	}

	// With threading on, replies inherit the root's timestamp for the
	// channel and bucket components, so a thread never straddles two
	// buckets. Index every non-reply as a potential root; a root's own
	// thread_ts may be absent when the event predates its first reply.
	rootTimes := make(map[string]time.Time)
	if spec.Threads {
		for _, m := range msgs {
			if !m.IsThreadReply() && m.Timestamp != "" {
				rootTimes[m.Timestamp] = m.Time()
			}
		}
	}

	perMessage := !spec.ByChannel && spec.Bucket == BucketNone && !spec.Threads

	units := make(map[Key]*Unit)
	var order []Key
	for _, m := range msgs {
		if excluded[m.Subtype] {
			continue
		}

		key := Key{}
		orphan := false
		at := m.Time()
		if spec.Threads {
			root := m.ThreadRoot
			if root == "" {
				root = m.Timestamp
			}
			key.Thread = root
			if rt, ok := rootTimes[root]; ok {
				at = rt
			} else if m.IsThreadReply() {
				orphan = true
			}
		} else if perMessage {
			key.ts = m.Timestamp
		}
		if spec.ByChannel {
			key.Channel = m.Channel
		}
		key.Bucket = BucketKey(spec.Bucket, at, spec.Location)

		u, ok := units[key]
		if !ok {
			u = &Unit{Key: key}
			units[key] = u
			order = append(order, key)
		}
		u.Messages = append(u.Messages, m)
		if orphan {
			u.Orphaned = true
		}
	}

	out := make([]Unit, 0, len(order))
	for _, key := range order {
		u := units[key]
		sort.SliceStable(u.Messages, func(i, j int) bool {
			return u.Messages[i].Timestamp < u.Messages[j].Timestamp
		})
		if spec.MaxPerUnit > 0 && len(u.Messages) > spec.MaxPerUnit {
			u.Truncated = len(u.Messages) - spec.MaxPerUnit
			u.Messages = u.Messages[u.Truncated:]
		}
		if spec.Resolve && spec.Resolver != nil {
			enrich(ctx, u, spec.Resolver)
		}
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return unitStart(out[i]) < unitStart(out[j])
	})
	return out
}

func unitStart(u Unit) string {
	if len(u.Messages) == 0 {
		return ""
	}
	return u.Messages[0].Timestamp
}

var mentionRE = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// enrich fills display metadata and rewrites raw <@UID> mentions on the
// unit's messages. Unknown IDs are left as-is; enrichment never fails a
// grouping run.
func enrich(ctx context.Context, u *Unit, r Resolver) {
	for i := range u.Messages {
		m := &u.Messages[i]
		if m.User != "" {
			if user, lk := r.User(ctx, m.User); lk.Status == slack.LookupFound {
				m.UserName = user.Label()
				m.UserEmail = user.Email
			}
		}
		m.Text = mentionRE.ReplaceAllStringFunc(m.Text, func(raw string) string {
			id := mentionRE.FindStringSubmatch(raw)[1]
			if user, lk := r.User(ctx, id); lk.Status == slack.LookupFound {
				return "@" + user.Label()
			}
			return raw
		})
	}
}
