package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on chat_id +
// msg_id). Delivered/seen only move forward, so a replayed older frame
// never regresses a receipt.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, body, delivered, seen, reply_to, reply_text, reply_sender, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			body = excluded.body,
			delivered = MAX(messages.delivered, excluded.delivered),
			seen = MAX(messages.seen, excluded.seen)`,
		m.ChatID, m.MsgID, m.SenderID, m.Body, m.Delivered, m.Seen,
		m.ReplyTo, m.ReplyText, m.ReplySender, m.Timestamp, now)
	return err
}

// MarkDelivered sets the delivered flag on every message the given sender
// owns in a conversation.
func (db *DB) MarkDelivered(chatID, senderID string) error {
	_, err := db.Exec(`
		UPDATE messages SET delivered = 1 WHERE chat_id = ? AND sender_id = ?`,
		chatID, senderID)
	return err
}

// MarkSeen sets the seen flag on every delivered message the given sender
// owns in a conversation. Seen implies delivered, so undelivered rows are
// left alone.
func (db *DB) MarkSeen(chatID, senderID string) error {
	_, err := db.Exec(`
		UPDATE messages SET seen = 1 WHERE chat_id = ? AND sender_id = ? AND delivered = 1`,
		chatID, senderID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, sender_id, body, delivered, seen, reply_to, reply_text, reply_sender, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.Body, &m.Delivered, &m.Seen,
			&m.ReplyTo, &m.ReplyText, &m.ReplySender, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearMessages removes the cached messages of a conversation (local-only
// erase).
func (db *DB) ClearMessages(chatID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}
