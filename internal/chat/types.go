package chat

import "time"

// Message is a chat message in the server's wire shape. Locally created
// messages carry only TempID until the server echo assigns ID.
type Message struct {
	ID          string    `json:"_id,omitempty"`
	TempID      string    `json:"tempId,omitempty"`
	ChatID      string    `json:"chatId"`
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	Delivered   bool      `json:"delivered"`
	Seen        bool      `json:"seen"`
	ReplyTo     string    `json:"replyTo,omitempty"`
	ReplyText   string    `json:"replyText,omitempty"`
	ReplySender string    `json:"replySender,omitempty"`

	// Failed marks an optimistic message whose transmit errored. Local
	// only, never sent or received.
	Failed bool `json:"-"`
}

// OwnedBy reports whether the message was sent by the given user.
func (m *Message) OwnedBy(userID string) bool {
	return m.Sender == userID
}

// Peer is the counterpart identity snapshot held by an open session.
type Peer struct {
	ID       string    `json:"_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// TypingSignal is the inbound "typing" payload.
type TypingSignal struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
}

// SeenUpdate is the inbound "seenUpdate" payload.
type SeenUpdate struct {
	ChatID string `json:"chatId"`
	SeenBy string `json:"seenBy"`
}

// DeliveredUpdate is the inbound "deliveredUpdate" payload.
type DeliveredUpdate struct {
	ChatID string `json:"chatId"`
}

// NewMessagePing is the inbound "new-message" notification-channel payload.
// It carries no body; it only identifies the conversation and sender so the
// unread aggregator can count it.
type NewMessagePing struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
}

// PresencePayload is the inbound "presence" payload. Nil slices/maps mean
// the field was absent from the frame, which is treated as no information.
type PresencePayload struct {
	OnlineUsers []string             `json:"onlineUsers"`
	LastSeenMap map[string]time.Time `json:"lastSeenMap"`
}

// Notification is the inbound "new-notification" payload.
type Notification struct {
	ID      string            `json:"_id"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Body    string            `json:"message"`
	IsRead  bool              `json:"isRead"`
	Meta    map[string]string `json:"meta,omitempty"`
	Created time.Time         `json:"createdAt"`
}

// PermissionGrant is the result of the appointment chat-permission check.
type PermissionGrant struct {
	Allowed  bool   `json:"allowed"`
	UserID   string `json:"userId"`
	WorkerID string `json:"workerId"`
	Peer     Peer   `json:"otherUser"`
}

// Summary is a conversation-list entry as served by the chats collaborator.
type Summary struct {
	ChatID      string    `json:"chatId"`
	Peer        Peer      `json:"peer"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
