package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"slackbridge/internal/slack"
)

// JSONL stores messages and rendered units as JSON Lines files in a
// directory: messages.jsonl, units.jsonl, users.json, channels.json.
// Message writes dedup on (channel, timestamp) across the life of the
// store, so re-running a fetch appends only what is new.
type JSONL struct {
	dir string
	log *slog.Logger

	mu   sync.Mutex
	seen map[string]bool // channel:ts of messages already written
}

// NewJSONL creates the directory if needed and indexes any existing
// messages file so appends stay idempotent.
func NewJSONL(dir string, log *slog.Logger) (*JSONL, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	s := &JSONL{dir: dir, log: log, seen: make(map[string]bool)}
	if err := s.indexExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONL) messagesPath() string { return filepath.Join(s.dir, "messages.jsonl") }

func (s *JSONL) indexExisting() error {
	f, err := os.Open(s.messagesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening messages file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m slack.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		s.seen[m.Channel+":"+m.Timestamp] = true
	}
	return sc.Err()
}

// WriteMessages implements MessageWriter.
func (s *JSONL) WriteMessages(ctx context.Context, msgs []slack.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.messagesPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening messages file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := m.Channel + ":" + m.Timestamp
		if s.seen[key] {
			continue
		}
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshaling message %s: %w", key, err)
		}
		w.Write(line)
		w.WriteByte('\n')
		s.seen[key] = true
	}
	return w.Flush()
}

// ReadMessages implements MessageReader.
func (s *JSONL) ReadMessages(ctx context.Context) ([]slack.Message, error) {
	f, err := os.Open(s.messagesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening messages file: %w", err)
	}
	defer f.Close()

	var out []slack.Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m slack.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			// A corrupt line loses one message, not the whole file.
			s.log.Warn("skipping malformed message line", "line", line, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

// WriteUnits implements UnitWriter. Units are rewritten whole each run;
// renderings are cheap to regenerate and replacement keeps the file
// consistent with the latest grouping.
func (s *JSONL) WriteUnits(ctx context.Context, units []FormattedUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(filepath.Join(s.dir, "units.jsonl"))
	if err != nil {
		return fmt.Errorf("creating units file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshaling unit %s: %w", u.Key, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	return w.Flush()
}

// WriteUsers implements CacheWriter.
func (s *JSONL) WriteUsers(ctx context.Context, users []slack.User) error {
	return s.writeJSON("users.json", users)
}

// WriteChannels implements CacheWriter.
func (s *JSONL) WriteChannels(ctx context.Context, chans []slack.Channel) error {
	return s.writeJSON("channels.json", chans)
}

func (s *JSONL) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

var _ MessageWriter = (*JSONL)(nil)
var _ MessageReader = (*JSONL)(nil)
var _ UnitWriter = (*JSONL)(nil)
var _ CacheWriter = (*JSONL)(nil)

// ReadUnits loads the rendered units file, mostly for inspection tools.
func (s *JSONL) ReadUnits(ctx context.Context) ([]FormattedUnit, error) {
	f, err := os.Open(filepath.Join(s.dir, "units.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening units file: %w", err)
	}
	defer f.Close()

	var out []FormattedUnit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var u FormattedUnit
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			return nil, fmt.Errorf("parsing units file: %w", err)
		}
		out = append(out, u)
	}
	return out, sc.Err()
}
