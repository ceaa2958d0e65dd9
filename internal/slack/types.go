package slack

import (
	"strconv"
	"strings"
	"time"
)

// Subtype classifies a message by its platform-assigned subtype.
type Subtype string

const (
	SubtypeNone      Subtype = ""
	SubtypeJoin      Subtype = "channel_join"
	SubtypeLeave     Subtype = "channel_leave"
	SubtypeBot       Subtype = "bot_message"
	SubtypeArchive   Subtype = "channel_archive"
	SubtypeUnarchive Subtype = "channel_unarchive"
	SubtypeTombstone Subtype = "tombstone"
	SubtypeOther     Subtype = "other"
)

// ParseSubtype maps a raw wire subtype onto the known set.
// Unrecognized values collapse to SubtypeOther.
func ParseSubtype(s string) Subtype {
	switch Subtype(s) {
	case SubtypeNone, SubtypeJoin, SubtypeLeave, SubtypeBot,
		SubtypeArchive, SubtypeUnarchive, SubtypeTombstone:
		return Subtype(s)
	}
	return SubtypeOther
}

// Message is a single channel message. The Timestamp is platform-assigned,
// monotonic, and unique within a channel, so it doubles as the message id.
// Messages are immutable once fetched; enrichment fills UserName/UserEmail
// on copies, never on shared state.
type Message struct {
	Channel     string   `json:"channel_id"`
	ChannelName string   `json:"channel_name,omitempty"`
	User        string   `json:"user"`
	Timestamp   string   `json:"ts"`
	Text        string   `json:"text"`
	Subtype     Subtype  `json:"subtype,omitempty"`
	ThreadRoot  string   `json:"thread_ts,omitempty"`
	ReplyUsers  []string `json:"reply_users,omitempty"`
	BotID       string   `json:"bot_id,omitempty"`

	// Resolved display metadata, present only after enrichment.
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// Time converts the platform timestamp ("1712345678.000100") to a time.Time.
// Returns the zero time for unparseable input.
func (m Message) Time() time.Time {
	sec, frac, _ := strings.Cut(m.Timestamp, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micro int64
	if frac != "" {
		micro, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micro*1000)
}

// IsThreadReply reports whether the message is a reply inside a thread,
// as opposed to a thread root or a plain channel message.
func (m Message) IsThreadReply() bool {
	return m.ThreadRoot != "" && m.ThreadRoot != m.Timestamp
}

// Channel is a workspace channel. ID is the durable key and is never
// reused; Name is a denormalized, best-effort lookup aid that may change.
type Channel struct {
	ID       string `json:"channel_id"`
	Name     string `json:"channel_name"`
	Private  bool   `json:"is_private"`
	Archived bool   `json:"is_archived"`
	Member   bool   `json:"is_member"`
	Members  int    `json:"num_members"`
	Topic    string `json:"topic,omitempty"`
}

// User is a workspace member. ID is durable; name and email may change and
// are refreshed on cache rebuild, not incrementally.
type User struct {
	ID          string `json:"user_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	Bot         bool   `json:"is_bot,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// Label returns the best display name available for the user.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Identity describes the authenticated principal, probed via auth.test.
type Identity struct {
	UserID string
	BotID  string
	Name   string
	Team   string
	TeamID string
}
