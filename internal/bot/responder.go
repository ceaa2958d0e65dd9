package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	slackgo "github.com/slack-go/slack"

	"slackbridge/internal/dispatch"
	"slackbridge/internal/llm"
	"slackbridge/internal/slack"
)

const (
	thinkingText = "Thinking..."
	emptyAskText = "Hi! Mention me with a question and I'll answer using the recent conversation here."
	failureText  = "Sorry, I ran into a problem answering that. Please try again."
)

// Messenger is the outbound slice of the API the responder uses.
// *slack.Client satisfies it.
type Messenger interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
	AddReaction(ctx context.Context, channelID, ts, name string) error
	PublishHome(ctx context.Context, userID string, view slackgo.HomeTabViewRequest) error
}

// Responder handles routed events end to end: it posts a placeholder,
// builds bounded context, asks the completer, and replaces the
// placeholder with the answer. It implements dispatch.Handler.
type Responder struct {
	msgr      Messenger
	builder   *ContextBuilder
	completer llm.Completer
	self      slack.Identity
	system    string
	log       *slog.Logger
}

// NewResponder creates a Responder. system is the completion system
// prompt; empty selects a plain default.
func NewResponder(msgr Messenger, builder *ContextBuilder, completer llm.Completer, self slack.Identity, system string, log *slog.Logger) *Responder {
	if system == "" {
		system = "You are a helpful assistant in a team messaging workspace. Answer concisely using the conversation context provided."
	}
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		msgr:      msgr,
		builder:   builder,
		completer: completer,
		self:      self,
		system:    system,
		log:       log,
	}
}

// HandleEvent implements dispatch.Handler.
func (r *Responder) HandleEvent(ctx context.Context, ev dispatch.Event) error {
	switch ev.Kind {
	case dispatch.KindAppMention:
		return r.answer(ctx, ev)
	case dispatch.KindMessage:
		if !r.shouldAnswer(ev) {
			return nil
		}
		return r.answer(ctx, ev)
	case dispatch.KindHomeOpened:
		return r.publishHome(ctx, ev.User)
	}
	return nil
}

// shouldAnswer gates plain message events: direct messages always
// qualify, channel messages only when they mention the bot (those
// normally arrive as app_mention too, but only one of the pair survives
// dedup when both are subscribed).
func (r *Responder) shouldAnswer(ev dispatch.Event) bool {
	if ev.Subtype != slack.SubtypeNone {
		return false
	}
	if strings.HasPrefix(ev.Channel, "D") {
		return true
	}
	return r.self.UserID != "" && strings.Contains(ev.Text, "<@"+r.self.UserID+">")
}

func (r *Responder) answer(ctx context.Context, ev dispatch.Event) error {
	question := r.stripSelfMention(ev.Text)
	threadTS := ev.ThreadRoot
	if threadTS == "" {
		threadTS = ev.Timestamp
	}

	if question == "" {
		if _, err := r.msgr.PostMessage(ctx, ev.Channel, threadTS, emptyAskText); err != nil {
			return fmt.Errorf("posting empty-ask reply: %w", err)
		}
		return nil
	}

	// Acknowledge receipt on the triggering message. Best effort: a
	// missing reactions scope must not block the answer.
	if err := r.msgr.AddReaction(ctx, ev.Channel, ev.Timestamp, "eyes"); err != nil {
		r.log.Debug("adding reaction failed", "channel", ev.Channel, "error", err)
	}

	// Post the placeholder first so the asker sees progress while the
	// context fetch and completion run.
	placeholderTS, err := r.msgr.PostMessage(ctx, ev.Channel, threadTS, thinkingText)
	if err != nil {
		return fmt.Errorf("posting placeholder: %w", err)
	}

	turns, err := r.builder.Build(ctx, ev)
	if err != nil {
		// Degrade to answering without context rather than failing.
		r.log.Warn("context build failed, answering without context",
			"channel", ev.Channel, "error", err)
		turns = nil
	}
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Speaker: speakerFromEvent(ev), Text: question})

	reply, err := r.completer.Complete(ctx, llm.Request{System: r.system, Turns: turns})
	if err != nil {
		r.log.Error("completion failed", "channel", ev.Channel, "error", err)
		reply = failureText
	}

	if err := r.msgr.UpdateMessage(ctx, ev.Channel, placeholderTS, reply); err != nil {
		// The placeholder may have been deleted; post fresh instead.
		r.log.Warn("placeholder update failed, posting fresh reply", "error", err)
		if _, err := r.msgr.PostMessage(ctx, ev.Channel, threadTS, reply); err != nil {
			return fmt.Errorf("posting reply: %w", err)
		}
	}
	return nil
}

var anyMentionRE = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]*)?>`)

// stripSelfMention removes mentions of the bot itself from the
// question text. Mentions of other users stay, the resolver gives them
// names later.
func (r *Responder) stripSelfMention(text string) string {
	cleaned := anyMentionRE.ReplaceAllStringFunc(text, func(raw string) string {
		if r.self.UserID != "" && strings.Contains(raw, r.self.UserID) {
			return ""
		}
		return raw
	})
	return strings.TrimSpace(cleaned)
}

func speakerFromEvent(ev dispatch.Event) string {
	if ev.User != "" {
		return ev.User
	}
	return "user"
}

func (r *Responder) publishHome(ctx context.Context, userID string) error {
	text := "*Welcome!*\nMention me in any channel I'm in, or send me a direct message, " +
		"and I'll answer using the recent conversation as context.\n\n" +
		"Inside a thread I read the thread; elsewhere I read the channel's recent messages."
	view := slackgo.HomeTabViewRequest{
		Type: slackgo.VTHomeTab,
		Blocks: slackgo.Blocks{BlockSet: []slackgo.Block{
			slackgo.NewSectionBlock(
				slackgo.NewTextBlockObject(slackgo.MarkdownType, text, false, false),
				nil, nil,
			),
		}},
	}
	if err := r.msgr.PublishHome(ctx, userID, view); err != nil {
		return fmt.Errorf("publishing home view: %w", err)
	}
	return nil
}
