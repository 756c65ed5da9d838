package bus

import "time"

// Event kinds, grouped by namespace. Subscribers filter on a namespace
// prefix, so related kinds share a dotted prefix.
const (
	// sock.*: decoded frames arriving from the marketplace socket.
	KindSockConnected    = "sock.connected"
	KindSockDisconnected = "sock.disconnected"
	KindSockMessage      = "sock.message"
	KindSockTyping       = "sock.typing"
	KindSockSeen         = "sock.seen"
	KindSockDelivered    = "sock.delivered"
	KindSockPresence     = "sock.presence"
	KindSockNewMessage   = "sock.new_message"
	KindSockNotification = "sock.notification"

	// message.*: local cache mutations.
	KindMessageUpserted = "message.upserted"

	// unread.*: unread counter changes.
	KindUnreadChanged = "unread.changed"

	// presence.*: tracked counterpart presence changes.
	KindPresenceChanged = "presence.changed"

	// chat.*: per-conversation session lifecycle.
	KindChatStatusChanged = "chat.status_changed"
	KindChatTyping        = "chat.typing"
	KindChatTimeline      = "chat.timeline"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
