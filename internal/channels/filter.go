// Package channels selects which workspace channels a fetch run covers.
package channels

import (
	"path/filepath"
	"strings"

	"slackbridge/internal/slack"
)

// Filter selects channels by name glob or by exact ID. Patterns use
// filepath.Match syntax ("eng-*", "general") and match names without
// regard to case or a leading "#". Exclude patterns win over include
// patterns; an empty include list selects everything not excluded.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter compiles the given patterns. Invalid globs are reported up
// front rather than silently matching nothing at walk time.
func NewFilter(include, exclude []string) (*Filter, error) {
	inc, err := compile(include)
	if err != nil {
		return nil, err
	}
	exc, err := compile(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: inc, exclude: exc}, nil
}

func compile(patterns []string) ([]string, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		norm := normalize(p)
		if _, err := filepath.Match(norm, ""); err != nil {
			return nil, err
		}
		cleaned = append(cleaned, norm)
	}
	return cleaned, nil
}

// Empty reports whether the filter selects everything.
func (f *Filter) Empty() bool { return len(f.include) == 0 && len(f.exclude) == 0 }

// Match reports whether the channel is selected.
func (f *Filter) Match(ch slack.Channel) bool {
	if matchAny(f.exclude, ch) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, ch)
}

func matchAny(patterns []string, ch slack.Channel) bool {
	name := normalize(ch.Name)
	for _, p := range patterns {
		if p == strings.ToLower(ch.ID) {
			return true
		}
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Apply returns the channels selected by the filter, preserving order.
func (f *Filter) Apply(chans []slack.Channel) []slack.Channel {
	if f.Empty() {
		return chans
	}
	out := make([]slack.Channel, 0, len(chans))
	for _, ch := range chans {
		if f.Match(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "#"))
}
