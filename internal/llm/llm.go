// Package llm abstracts the completion backend the bot answers with.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the prompt transcript.
type Turn struct {
	Role    Role
	Speaker string // display name for context turns
	Text    string
}

// Request is a completion request: an optional system prompt, the
// conversation context oldest first, and the user's question last.
type Request struct {
	System string
	Turns  []Turn
}

// ErrEmptyCompletion marks a backend that returned no usable text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Completer produces a reply for a request. Implementations must honor
// ctx cancellation; the caller bounds every completion with a timeout.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Flatten renders the request as a single prompt document for backends
// without native multi-turn input.
func Flatten(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, turn := range req.Turns {
		switch {
		case turn.Speaker != "":
			b.WriteString(turn.Speaker)
			b.WriteString(": ")
		case turn.Role == RoleAssistant:
			b.WriteString("assistant: ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
