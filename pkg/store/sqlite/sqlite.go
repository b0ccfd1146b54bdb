// Package sqlite provides a SQLite-backed store using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinyland-inc/switchyard/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS banned (
	user_id INTEGER PRIMARY KEY,
	ts      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending (
	user_id  INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	ts       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS active (
	user_id  INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	ts       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	role    TEXT NOT NULL,
	text    TEXT NOT NULL,
	ts      INTEGER NOT NULL
);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the
// schema exists. An in-memory database can be opened with ":memory:".
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) upsert(ctx context.Context, table string, userID int64, username string) error {
	q := fmt.Sprintf(
		`INSERT INTO %s (user_id, username, ts) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username`, table)
	if _, err := s.db.ExecContext(ctx, q, userID, username, time.Now().Unix()); err != nil {
		return fmt.Errorf("insert %s %d: %w", table, userID, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, table string, userID int64) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, table)
	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("delete %s %d: %w", table, userID, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, table string) ([]store.Entry, error) {
	q := fmt.Sprintf(`SELECT user_id, username, ts FROM %s ORDER BY user_id`, table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		var ts int64
		if err := rows.Scan(&e.UserID, &e.Username, &ts); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		e.AddedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AddPending(ctx context.Context, userID int64, username string) error {
	return s.upsert(ctx, "pending", userID, username)
}

func (s *Store) RemovePending(ctx context.Context, userID int64) error {
	return s.remove(ctx, "pending", userID)
}

func (s *Store) ListPending(ctx context.Context) ([]store.Entry, error) {
	return s.list(ctx, "pending")
}

func (s *Store) AddActive(ctx context.Context, userID int64, username string) error {
	return s.upsert(ctx, "active", userID, username)
}

func (s *Store) RemoveActive(ctx context.Context, userID int64) error {
	return s.remove(ctx, "active", userID)
}

func (s *Store) ListActive(ctx context.Context) ([]store.Entry, error) {
	return s.list(ctx, "active")
}

func (s *Store) Ban(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO banned (user_id, ts) VALUES (?, ?)`,
		userID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ban %d: %w", userID, err)
	}
	return nil
}

func (s *Store) Unban(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM banned WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("unban %d: %w", userID, err)
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM banned WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is banned %d: %w", userID, err)
	}
	return true, nil
}

func (s *Store) ListBanned(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM banned ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list banned: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan banned row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) SaveTranscript(ctx context.Context, msg store.TranscriptMessage) error {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, role, text, ts) VALUES (?, ?, ?, ?)`,
		msg.UserID, msg.Role, msg.Text, sentAt.Unix())
	if err != nil {
		return fmt.Errorf("save transcript for %d: %w", msg.UserID, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
