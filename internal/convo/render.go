package convo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"slackbridge/internal/slack"
)

// Format selects the output representation of a rendered unit.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMarkdown, FormatText, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

const renderTimeLayout = "2006-01-02 15:04"

// RenderUnit renders one conversation unit. Rendering is a pure
// function of the unit; it performs no lookups.
func RenderUnit(u Unit, f Format) (string, error) {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(u, "", "  ")
		if err != nil {
			return "", fmt.Errorf("rendering unit %s: %w", u.Key, err)
		}
		return string(data), nil
	case FormatMarkdown:
		return renderMarkdown(u), nil
	case FormatText:
		return renderText(u), nil
	}
	return "", fmt.Errorf("unknown format %q", f)
}

// Render renders every unit in order, one document per unit.
func Render(units []Unit, f Format) ([]string, error) {
	out := make([]string, 0, len(units))
	for _, u := range units {
		doc, err := RenderUnit(u, f)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func renderMarkdown(u Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", headline(u))
	if u.Orphaned {
		b.WriteString("_thread root unavailable_\n")
	}
	if u.Truncated > 0 {
		fmt.Fprintf(&b, "_%d earlier message(s) omitted_\n", u.Truncated)
	}
	b.WriteString("\n")
	for _, m := range u.Messages {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", speaker(m), stamp(m.Time()), m.Text)
	}
	return b.String()
}

func renderText(u Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", headline(u))
	if u.Truncated > 0 {
		fmt.Fprintf(&b, "(%d earlier message(s) omitted)\n", u.Truncated)
	}
	for _, m := range u.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", stamp(m.Time()), speaker(m), m.Text)
	}
	return b.String()
}

func headline(u Unit) string {
	parts := make([]string, 0, 3)
	if name := channelLabel(u); name != "" {
		parts = append(parts, name)
	}
	if u.Key.Bucket != "" {
		parts = append(parts, u.Key.Bucket)
	}
	if u.Key.Thread != "" {
		parts = append(parts, "thread "+u.Key.Thread)
	}
	if len(parts) == 0 {
		return "conversation"
	}
	return strings.Join(parts, " / ")
}

func channelLabel(u Unit) string {
	if u.Key.Channel == "" {
		return ""
	}
	for _, m := range u.Messages {
		if m.ChannelName != "" {
			return "#" + m.ChannelName
		}
	}
	return u.Key.Channel
}

func speaker(m slack.Message) string {
	if m.UserName != "" {
		return m.UserName
	}
	if m.User != "" {
		return m.User
	}
	if m.BotID != "" {
		return m.BotID
	}
	return "unknown"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	return t.UTC().Format(renderTimeLayout)
}
