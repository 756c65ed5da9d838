// Package sync keeps the local cache consistent with the realtime stream.
package sync

import (
	"context"
	"fmt"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/nabeelvk/pkchat/internal/store"
	"github.com/nabeelvk/pkchat/internal/unread"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of socket traffic into the cache.
// It subscribes to "sock." and "unread." events on the bus and processes
// them; nothing calls it directly.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to inbound socket events and unread changes on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	sockCh, unsubSock := e.bus.Subscribe("sock.", 256)
	unreadCh, unsubUnread := e.bus.Subscribe("unread.", 256)

	go func() {
		defer unsubSock()
		defer unsubUnread()
		for {
			select {
			case evt := <-sockCh:
				e.handleSock(evt)
			case evt := <-unreadCh:
				e.handleUnread(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleSock(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSockMessage:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindSockSeen:
		upd, ok := evt.Payload.(chat.SeenUpdate)
		if !ok || upd.SeenBy == e.selfID {
			return
		}
		if err := e.db.MarkSeen(upd.ChatID, e.selfID); err != nil {
			e.logger.Error("failed to mark seen", zap.Error(err), zap.String("chat_id", upd.ChatID))
		}
	case bus.KindSockDelivered:
		upd, ok := evt.Payload.(chat.DeliveredUpdate)
		if !ok {
			return
		}
		if err := e.db.MarkDelivered(upd.ChatID, e.selfID); err != nil {
			e.logger.Error("failed to mark delivered", zap.Error(err), zap.String("chat_id", upd.ChatID))
		}
	}
}

func (e *Engine) handleUnread(evt bus.Event) {
	change, ok := evt.Payload.(unread.Change)
	if !ok || change.ChatID == "" {
		return
	}
	if err := e.db.SetUnread(change.ChatID, change.Count); err != nil {
		e.logger.Error("failed to persist unread count", zap.Error(err), zap.String("chat_id", change.ChatID))
	}
}

// IngestMessage processes a single message into the cache (idempotent).
func (e *Engine) IngestMessage(msg chat.Message) error {
	peerID := ""
	if msg.Sender != e.selfID {
		peerID = msg.Sender
	}
	if err := e.db.UpsertConversation(&store.Conversation{
		ChatID:             msg.ChatID,
		PeerID:             peerID,
		LastMessageAt:      msg.CreatedAt.UnixMilli(),
		LastMessagePreview: truncate(msg.Text, 100),
	}); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if err := e.db.UpsertMessage(toStoreMessage(msg)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"chat_id": msg.ChatID,
		"msg_id":  msg.ID,
	})
	return nil
}

// IngestHistory caches a fetched history slice in one transaction.
func (e *Engine) IngestHistory(chatID string, msgs []chat.Message) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		sm := toStoreMessage(m)
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_id, body, delivered, seen, reply_to, reply_text, reply_sender, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				body = excluded.body,
				delivered = MAX(messages.delivered, excluded.delivered),
				seen = MAX(messages.seen, excluded.seen)`,
			sm.ChatID, sm.MsgID, sm.SenderID, sm.Body, sm.Delivered, sm.Seen,
			sm.ReplyTo, sm.ReplyText, sm.ReplySender, sm.Timestamp, sm.Timestamp); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	e.bus.Emit(bus.KindMessageUpserted, map[string]string{"chat_id": chatID})
	return nil
}

func toStoreMessage(m chat.Message) *store.Message {
	key := m.ID
	if key == "" {
		key = m.TempID
	}
	return &store.Message{
		ChatID:      m.ChatID,
		MsgID:       key,
		SenderID:    m.Sender,
		Body:        m.Text,
		Delivered:   m.Delivered,
		Seen:        m.Seen,
		ReplyTo:     m.ReplyTo,
		ReplyText:   m.ReplyText,
		ReplySender: m.ReplySender,
		Timestamp:   m.CreatedAt.UnixMilli(),
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
