package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/tabletalk/internal/history"
)

// HistoryStore persists conversation transcripts per chat so front ends
// can rebuild a History after a restart.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS messages_chat ON messages (chat_id, id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create messages table: %w", err)
		}
	}

	return &HistoryStore{DB: db}, nil
}

// AddTurn stores one user and one assistant message atomically.
func (h *HistoryStore) AddTurn(ctx context.Context, chatID, question, answer string) error {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, chatID, string(history.RoleUser), question); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, chatID, string(history.RoleAssistant), answer); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadHistory returns the chat's most recent limit messages in order.
// limit <= 0 loads everything.
func (h *HistoryStore) LoadHistory(ctx context.Context, chatID string, limit int) (history.History, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return history.History{}, err
	}
	defer rows.Close()

	var msgs []history.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return history.History{}, err
		}
		msgs = append(msgs, history.Message{Role: history.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return history.History{}, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return history.New(msgs...), nil
}

// Clear deletes a chat's transcript.
func (h *HistoryStore) Clear(ctx context.Context, chatID string) error {
	_, err := h.DB.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}
