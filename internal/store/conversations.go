package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gomess/internal/chat"
)

// SaveConversations replaces the persisted conversation snapshot in one
// transaction. The snapshot only ever reflects a fully merged in-memory
// list, never a partial one.
func (db *DB) SaveConversations(convos []*chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range convos {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, kind, last_message_at, payload, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, string(c.Kind), c.LastMessageAt.UnixMilli(), string(payload), now); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// UpsertConversation persists a single conversation merge.
func (db *DB) UpsertConversation(c *chat.Conversation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.ID, err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (id, kind, last_message_at, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			last_message_at = excluded.last_message_at,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), c.LastMessageAt.UnixMilli(), string(payload), now)
	return err
}

// LoadConversations rehydrates the persisted snapshot, newest first.
func (db *DB) LoadConversations() ([]*chat.Conversation, error) {
	rows, err := db.Query(`SELECT payload FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convos []*chat.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c chat.Conversation
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			// Skip rows written by an incompatible older build.
			continue
		}
		convos = append(convos, &c)
	}
	return convos, rows.Err()
}
