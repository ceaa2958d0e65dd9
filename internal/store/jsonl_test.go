package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"slackbridge/internal/convo"
	"slackbridge/internal/slack"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJSONLMessagesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}

	msgs := []slack.Message{
		{Channel: "C1", User: "U1", Timestamp: "1.0001", Text: "hello", ThreadRoot: "1.0001"},
		{Channel: "C1", User: "U2", Timestamp: "2.0001", Text: "joined", Subtype: slack.SubtypeJoin},
	}
	if err := s.WriteMessages(context.Background(), msgs); err != nil {
		t.Fatalf("WriteMessages() error = %v", err)
	}

	got, err := s.ReadMessages(context.Background())
	if err != nil {
		t.Fatalf("ReadMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Text != "hello" || got[1].Subtype != slack.SubtypeJoin {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestJSONLWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}

	msg := slack.Message{Channel: "C1", User: "U1", Timestamp: "1.0001", Text: "once"}
	for i := 0; i < 3; i++ {
		if err := s.WriteMessages(context.Background(), []slack.Message{msg}); err != nil {
			t.Fatalf("WriteMessages() error = %v", err)
		}
	}
	got, err := s.ReadMessages(context.Background())
	if err != nil {
		t.Fatalf("ReadMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d messages after repeated writes, want 1", len(got))
	}

	// A reopened store indexes what is on disk and stays idempotent.
	s2, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() reopen error = %v", err)
	}
	if err := s2.WriteMessages(context.Background(), []slack.Message{msg}); err != nil {
		t.Fatalf("WriteMessages() after reopen error = %v", err)
	}
	got, err = s2.ReadMessages(context.Background())
	if err != nil {
		t.Fatalf("ReadMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d messages after reopen, want 1", len(got))
	}
}

func TestJSONLReadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}
	if err := s.WriteMessages(context.Background(), []slack.Message{
		{Channel: "C1", User: "U1", Timestamp: "1.0001", Text: "kept"},
	}); err != nil {
		t.Fatalf("WriteMessages() error = %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "messages.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening messages file: %v", err)
	}
	f.WriteString("{truncated\n")
	f.Close()
	if err := s.WriteMessages(context.Background(), []slack.Message{
		{Channel: "C1", User: "U2", Timestamp: "2.0001", Text: "also kept"},
	}); err != nil {
		t.Fatalf("WriteMessages() error = %v", err)
	}

	got, err := s.ReadMessages(context.Background())
	if err != nil {
		t.Fatalf("ReadMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want the 2 valid ones", len(got))
	}
	if got[0].Text != "kept" || got[1].Text != "also kept" {
		t.Errorf("messages = %+v, want the corrupt line dropped", got)
	}
}

func TestJSONLUnitsReplaced(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}

	first := []FormattedUnit{
		{Key: convo.Key{Channel: "C1"}, Format: convo.FormatMarkdown, Document: "old", Messages: 5},
		{Key: convo.Key{Channel: "C2"}, Format: convo.FormatMarkdown, Document: "other", Messages: 2},
	}
	if err := s.WriteUnits(context.Background(), first); err != nil {
		t.Fatalf("WriteUnits() error = %v", err)
	}

	second := []FormattedUnit{
		{Key: convo.Key{Channel: "C1"}, Format: convo.FormatMarkdown, Document: "new", Messages: 6},
	}
	if err := s.WriteUnits(context.Background(), second); err != nil {
		t.Fatalf("WriteUnits() error = %v", err)
	}

	got, err := s.ReadUnits(context.Background())
	if err != nil {
		t.Fatalf("ReadUnits() error = %v", err)
	}
	if len(got) != 1 || got[0].Document != "new" {
		t.Errorf("units = %+v, want only the latest rendering", got)
	}
}

func TestJSONLDirectorySnapshots(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONL(dir, testLogger())
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}
	if err := s.WriteUsers(context.Background(), []slack.User{{ID: "U1", Name: "Ada"}}); err != nil {
		t.Errorf("WriteUsers() error = %v", err)
	}
	if err := s.WriteChannels(context.Background(), []slack.Channel{{ID: "C1", Name: "general"}}); err != nil {
		t.Errorf("WriteChannels() error = %v", err)
	}
}
