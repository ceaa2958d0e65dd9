package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"slackbridge/internal/dispatch"
	"slackbridge/internal/slack"
)

type fakeHistory struct {
	history    []slack.Message
	replies    []slack.Message
	historyErr error

	gotOldest string
	gotRoot   string
}

func (f *fakeHistory) History(_ context.Context, _, oldest, _ string) ([]slack.Message, slack.PageResult, error) {
	f.gotOldest = oldest
	return f.history, slack.PageResult{}, f.historyErr
}

func (f *fakeHistory) Replies(_ context.Context, _, rootTS string) ([]slack.Message, slack.PageResult, error) {
	f.gotRoot = rootTS
	return f.replies, slack.PageResult{}, nil
}

func chanMsg(user string, offset int, text string) slack.Message {
	return slack.Message{
		Channel:   "C1",
		User:      user,
		Timestamp: fmt.Sprintf("%d.000000", 1700000000+offset),
		Text:      text,
	}
}

func TestContextBuilderChannelRecency(t *testing.T) {
	now := time.Unix(1700000100, 0)
	src := &fakeHistory{history: []slack.Message{
		chanMsg("U1", 10, "first"),
		chanMsg("U2", 20, "second"),
		chanMsg("U3", 30, "the question"), // trigger, excluded
	}}
	b := NewContextBuilder(src, nil, 10, 0).WithClock(func() time.Time { return now })

	ev := dispatch.Event{Kind: dispatch.KindAppMention, Channel: "C1", User: "U3", Timestamp: chanMsg("U3", 30, "").Timestamp}
	turns, err := b.Build(context.Background(), ev)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 with the trigger excluded", len(turns))
	}
	if turns[0].Text != "first" || turns[1].Text != "second" {
		t.Errorf("turns = %+v, want oldest first", turns)
	}
	if src.gotOldest == "" {
		t.Error("History called without an oldest bound")
	}
}

func TestContextBuilderThreadUsesReplies(t *testing.T) {
	now := time.Unix(1700000100, 0)
	root := fmt.Sprintf("%d.000000", 1700000010)
	src := &fakeHistory{replies: []slack.Message{
		{Channel: "C1", User: "U1", Timestamp: root, ThreadRoot: root, Text: "thread root"},
		{Channel: "C1", User: "U2", Timestamp: fmt.Sprintf("%d.000000", 1700000020), ThreadRoot: root, Text: "reply"},
	}}
	b := NewContextBuilder(src, nil, 10, 0).WithClock(func() time.Time { return now })

	ev := dispatch.Event{Kind: dispatch.KindAppMention, Channel: "C1", ThreadRoot: root, Timestamp: fmt.Sprintf("%d.000000", 1700000030)}
	turns, err := b.Build(context.Background(), ev)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if src.gotRoot != root {
		t.Errorf("Replies root = %q, want %q", src.gotRoot, root)
	}
	if len(turns) != 2 || turns[0].Text != "thread root" {
		t.Errorf("turns = %+v, want the thread oldest first", turns)
	}
}

func TestContextBuilderAppliesBothBounds(t *testing.T) {
	now := time.Unix(1700000000+1000, 0)
	lookback := 500 * time.Second
	var history []slack.Message
	for i := 0; i < 10; i++ {
		history = append(history, chanMsg("U1", i*100, fmt.Sprintf("m%d", i)))
	}
	src := &fakeHistory{history: history}
	b := NewContextBuilder(src, nil, 3, lookback).WithClock(func() time.Time { return now })

	turns, err := b.Build(context.Background(), dispatch.Event{Channel: "C1", Timestamp: "9.0"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// The lookback drops m0..m4; of m5..m9 only the 3 newest stay.
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	want := []string{"m7", "m8", "m9"}
	for i, turn := range turns {
		if turn.Text != want[i] {
			t.Errorf("turns[%d].Text = %q, want %q", i, turn.Text, want[i])
		}
	}
}

func TestContextBuilderFetchErrorSurfaces(t *testing.T) {
	src := &fakeHistory{historyErr: fmt.Errorf("boom")}
	b := NewContextBuilder(src, nil, 0, 0)
	if _, err := b.Build(context.Background(), dispatch.Event{Channel: "C1"}); err == nil {
		t.Error("Build() error = nil, want fetch error")
	}
}
