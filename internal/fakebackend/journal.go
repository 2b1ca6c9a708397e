// ABOUTME: SQLite journal that lets the fake backend keep chat history across restarts
// ABOUTME: Accounts and messages are written through; Restore replays them into a Store

package fakebackend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/marketdesk/internal/api"
)

// Journal persists accounts and messages in SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens or creates the journal at path. Parent directories are
// created if needed.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return j, nil
}

func (j *Journal) createSchema() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			remark TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			cookie_id TEXT NOT NULL,
			chat_id TEXT NOT NULL DEFAULT '',
			buyer_id TEXT NOT NULL,
			buyer_name TEXT NOT NULL DEFAULT '',
			buyer_avatar TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL DEFAULT '',
			sender_type TEXT NOT NULL,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_buyer ON messages(cookie_id, buyer_id);
	`)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SaveAccount inserts or replaces an account.
func (j *Journal) SaveAccount(ctx context.Context, a api.Account) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO accounts (id, remark, enabled) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET remark = excluded.remark, enabled = excluded.enabled`,
		a.ID, a.Remark, a.Enabled,
	)
	if err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

// AppendMessage records a stored message with the buyer profile it arrived
// with.
func (j *Journal) AppendMessage(ctx context.Context, m api.Message, p BuyerProfile) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (id, cookie_id, chat_id, buyer_id, buyer_name, buyer_avatar, item_id,
		  sender_type, message_type, content, image_url, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CookieID, m.ChatID, m.BuyerID, p.Name, p.Avatar, m.ItemID,
		m.SenderType, m.MessageType, m.Content, m.ImageURL, m.IsRead,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// MarkRead marks a buyer's messages read.
func (j *Journal) MarkRead(ctx context.Context, cookieID, buyerID string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		 WHERE cookie_id = ? AND buyer_id = ? AND sender_type = ? AND is_read = 0`,
		cookieID, buyerID, api.SenderBuyer,
	)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// Restore loads every journaled account and message into s and returns the
// number of messages replayed.
func (j *Journal) Restore(ctx context.Context, s *Store) (int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, remark, enabled FROM accounts ORDER BY rowid`)
	if err != nil {
		return 0, fmt.Errorf("querying accounts: %w", err)
	}
	for rows.Next() {
		var a api.Account
		if err := rows.Scan(&a.ID, &a.Remark, &a.Enabled); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning account: %w", err)
		}
		s.AddAccount(a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterating accounts: %w", err)
	}
	rows.Close()

	rows, err = j.db.QueryContext(ctx,
		`SELECT id, cookie_id, chat_id, buyer_id, buyer_name, buyer_avatar, item_id,
		        sender_type, message_type, content, image_url, is_read, created_at
		 FROM messages ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			m         api.Message
			p         BuyerProfile
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.CookieID, &m.ChatID, &m.BuyerID, &p.Name, &p.Avatar, &m.ItemID,
			&m.SenderType, &m.MessageType, &m.Content, &m.ImageURL, &m.IsRead, &createdAt); err != nil {
			return count, fmt.Errorf("scanning message: %w", err)
		}
		t, err := api.ParseTime(createdAt)
		if err != nil {
			return count, fmt.Errorf("message %d: %w", m.ID, err)
		}
		m.CreatedAt = api.Time{Time: t}
		p.ID = m.BuyerID
		s.AddMessage(m, p)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterating messages: %w", err)
	}

	j.logger.Info("journal restored", "messages", count)
	return count, nil
}

// Snapshot writes every account and message currently in s.
func (j *Journal) Snapshot(ctx context.Context, s *Store) error {
	s.mu.Lock()
	accounts := append([]api.Account{}, s.accounts...)
	messages := append([]api.Message{}, s.messages...)
	profiles := make(map[buyerKey]BuyerProfile, len(s.buyers))
	for k, b := range s.buyers {
		profiles[k] = BuyerProfile{ID: b.BuyerID, Name: b.BuyerName, Avatar: b.BuyerAvatar}
	}
	s.mu.Unlock()

	for _, a := range accounts {
		if err := j.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	for _, m := range messages {
		if err := j.AppendMessage(ctx, m, profiles[buyerKey{m.CookieID, m.BuyerID}]); err != nil {
			return err
		}
	}
	return nil
}
