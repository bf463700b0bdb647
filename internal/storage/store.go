// Package storage persists per-chat client state (unread counters and
// last-read marks) in a local SQLite file. The data is a cache: everything
// here is rebuildable from server state.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle and exposes the helpers the roster uses.
type Store struct {
	db *sql.DB
}

// ChatState is a row of the chat_state table, namespaced by chat id and
// the local role so a coach and a student profile on one machine do not
// share counters.
type ChatState struct {
	ChatID   string
	Role     string
	Unread   int
	LastRead time.Time
}

// NewStore initializes the SQLite database at the provided path. Call
// Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "coachchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chat_state (
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		unread INTEGER NOT NULL DEFAULT 0,
		last_read DATETIME,
		PRIMARY KEY (chat_id, role)
	);`)
	return err
}

// Unread returns the persisted unread counter for a chat and role.
func (s *Store) Unread(ctx context.Context, chatID, role string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT unread FROM chat_state WHERE chat_id = ? AND role = ?`, chatID, role)
	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// IncrementUnread bumps a counter, creating the row if needed, and returns
// the new value.
func (s *Store) IncrementUnread(ctx context.Context, chatID, role string) (int, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_state(chat_id, role, unread) VALUES(?, ?, 1)
		ON CONFLICT(chat_id, role) DO UPDATE SET unread = unread + 1`, chatID, role)
	if err != nil {
		return 0, err
	}
	return s.Unread(ctx, chatID, role)
}

// ClearUnread zeroes a counter.
func (s *Store) ClearUnread(ctx context.Context, chatID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_state SET unread = 0 WHERE chat_id = ? AND role = ?`, chatID, role)
	return err
}

// AllUnread returns every non-zero counter for a role.
func (s *Store) AllUnread(ctx context.Context, role string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, unread FROM chat_state WHERE role = ? AND unread > 0`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var chatID string
		var unread int
		if err := rows.Scan(&chatID, &unread); err != nil {
			return nil, err
		}
		counts[chatID] = unread
	}
	return counts, rows.Err()
}

// SetLastRead stores the moment a chat was last opened.
func (s *Store) SetLastRead(ctx context.Context, chatID, role string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_state(chat_id, role, unread, last_read) VALUES(?, ?, 0, ?)
		ON CONFLICT(chat_id, role) DO UPDATE SET last_read = excluded.last_read`, chatID, role, at.UTC())
	return err
}

// LastRead returns the stored last-read mark, zero when unknown.
func (s *Store) LastRead(ctx context.Context, chatID, role string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_read FROM chat_state WHERE chat_id = ? AND role = ?`, chatID, role)
	var at sql.NullTime
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

// DeleteChatState removes all persisted state for a chat and role, used
// when the user deletes a conversation.
func (s *Store) DeleteChatState(ctx context.Context, chatID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_state WHERE chat_id = ? AND role = ?`, chatID, role)
	return err
}

// RoleStore binds a Store to one role so callers satisfy the roster's
// UnreadStore interface without threading the role everywhere.
type RoleStore struct {
	store *Store
	role  string
}

// ForRole returns a role-bound view of the store.
func (s *Store) ForRole(role string) *RoleStore {
	return &RoleStore{store: s, role: role}
}

func (r *RoleStore) Unread(ctx context.Context, chatID string) (int, error) {
	return r.store.Unread(ctx, chatID, r.role)
}

func (r *RoleStore) IncrementUnread(ctx context.Context, chatID string) (int, error) {
	return r.store.IncrementUnread(ctx, chatID, r.role)
}

func (r *RoleStore) ClearUnread(ctx context.Context, chatID string) error {
	return r.store.ClearUnread(ctx, chatID, r.role)
}

func (r *RoleStore) AllUnread(ctx context.Context) (map[string]int, error) {
	return r.store.AllUnread(ctx, r.role)
}

func (r *RoleStore) SetLastRead(ctx context.Context, chatID string, at time.Time) error {
	return r.store.SetLastRead(ctx, chatID, r.role, at)
}
