package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"slackbridge/internal/slack"
)

// Postgres persists messages, units, and directory snapshots in
// PostgreSQL. Message inserts conflict-skip on (channel_id, ts);
// everything else upserts.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := &Postgres{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			channel_id TEXT NOT NULL,
			ts         TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL DEFAULT '',
			subtype    TEXT NOT NULL DEFAULT '',
			thread_ts  TEXT NOT NULL DEFAULT '',
			bot_id     TEXT NOT NULL DEFAULT '',
			user_name  TEXT NOT NULL DEFAULT '',
			user_email TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (channel_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS units (
			unit_key  TEXT NOT NULL,
			format    TEXT NOT NULL,
			document  TEXT NOT NULL,
			messages  INTEGER NOT NULL,
			PRIMARY KEY (unit_key, format)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id      TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			is_bot       BOOLEAN NOT NULL DEFAULT FALSE,
			deleted      BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id   TEXT PRIMARY KEY,
			channel_name TEXT NOT NULL DEFAULT '',
			is_private   BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived  BOOLEAN NOT NULL DEFAULT FALSE,
			num_members  INTEGER NOT NULL DEFAULT 0,
			topic        TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// WriteMessages implements MessageWriter.
func (s *Postgres) WriteMessages(ctx context.Context, msgs []slack.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning message write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (channel_id, ts, user_id, text, subtype, thread_ts, bot_id, user_name, user_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (channel_id, ts) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx,
			m.Channel, m.Timestamp, m.User, m.Text, string(m.Subtype),
			m.ThreadRoot, m.BotID, m.UserName, m.UserEmail); err != nil {
			return fmt.Errorf("inserting message %s/%s: %w", m.Channel, m.Timestamp, err)
		}
	}
	return tx.Commit()
}

// WriteUnits implements UnitWriter.
func (s *Postgres) WriteUnits(ctx context.Context, units []FormattedUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning unit write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (unit_key, format, document, messages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (unit_key, format) DO UPDATE
		SET document = EXCLUDED.document, messages = EXCLUDED.messages`)
	if err != nil {
		return fmt.Errorf("preparing unit insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, u.Key.String(), string(u.Format), u.Document, u.Messages); err != nil {
			return fmt.Errorf("inserting unit %s: %w", u.Key, err)
		}
	}
	return tx.Commit()
}

// WriteUsers implements CacheWriter.
func (s *Postgres) WriteUsers(ctx context.Context, users []slack.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning user write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (user_id, name, display_name, email, title, is_bot, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name, display_name = EXCLUDED.display_name,
		    email = EXCLUDED.email, title = EXCLUDED.title,
		    is_bot = EXCLUDED.is_bot, deleted = EXCLUDED.deleted`)
	if err != nil {
		return fmt.Errorf("preparing user insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.ID, u.Name, u.DisplayName, u.Email, u.Title, u.Bot, u.Deleted); err != nil {
			return fmt.Errorf("inserting user %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// WriteChannels implements CacheWriter.
func (s *Postgres) WriteChannels(ctx context.Context, chans []slack.Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning channel write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channels (channel_id, channel_name, is_private, is_archived, num_members, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id) DO UPDATE
		SET channel_name = EXCLUDED.channel_name, is_private = EXCLUDED.is_private,
		    is_archived = EXCLUDED.is_archived, num_members = EXCLUDED.num_members,
		    topic = EXCLUDED.topic`)
	if err != nil {
		return fmt.Errorf("preparing channel insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chans {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Name, ch.Private, ch.Archived, ch.Members, ch.Topic); err != nil {
			return fmt.Errorf("inserting channel %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// ReadMessages implements MessageReader.
func (s *Postgres) ReadMessages(ctx context.Context) ([]slack.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, ts, user_id, text, subtype, thread_ts, bot_id, user_name, user_email
		FROM messages ORDER BY channel_id, ts`)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []slack.Message
	for rows.Next() {
		var m slack.Message
		var subtype string
		if err := rows.Scan(&m.Channel, &m.Timestamp, &m.User, &m.Text, &subtype,
			&m.ThreadRoot, &m.BotID, &m.UserName, &m.UserEmail); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Subtype = slack.ParseSubtype(subtype)
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ MessageWriter = (*Postgres)(nil)
var _ MessageReader = (*Postgres)(nil)
var _ UnitWriter = (*Postgres)(nil)
var _ CacheWriter = (*Postgres)(nil)
