package store

import "time"

// OutboxEntry is a message composed while offline plus its send target.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	RecipientID    string
	IsGroup        bool
	Content        string
	MessageType    string
	CreatedAt      int64
}

// QueueOutbox appends an entry to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, recipient_id, is_group, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ClientMsgID, e.ConversationID, e.RecipientID, e.IsGroup, e.Content, e.MessageType, e.CreatedAt)
	return err
}

// PendingOutbox returns queued entries in FIFO order.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, recipient_id, is_group, content, message_type, created_at
		FROM outbox ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.RecipientID, &e.IsGroup, &e.Content, &e.MessageType, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOutbox removes an entry. The flusher deletes before attempting the
// send so an interrupted attempt cannot replay the same entry twice.
func (db *DB) DeleteOutbox(clientMsgID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	return err
}
