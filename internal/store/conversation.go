package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary. The last
// message preview only moves forward in time.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (chat_id, peer_id, peer_name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			peer_id = CASE WHEN excluded.peer_id != '' THEN excluded.peer_id ELSE conversations.peer_id END,
			peer_name = CASE WHEN excluded.peer_name != '' THEN excluded.peer_name ELSE conversations.peer_name END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at > conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ChatID, c.PeerID, c.PeerName, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// SetUnread stores the unread count for a conversation.
func (db *DB) SetUnread(chatID string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = ?, updated_at = ? WHERE chat_id = ?`,
		count, now, chatID)
	return err
}

// ListConversations returns conversations sorted by last message timestamp
// descending.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT chat_id, peer_id, peer_name, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ChatID, &c.PeerID, &c.PeerName, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil when absent.
func (db *DB) GetConversation(chatID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT chat_id, peer_id, peer_name, unread_count, last_message_at, last_message_preview
		FROM conversations WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.PeerID, &c.PeerName, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes a conversation and its cached messages.
func (db *DB) DeleteConversation(chatID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE chat_id = ?`, chatID)
	return err
}
