package store

// Conversation is a cached conversation summary.
type Conversation struct {
	ChatID             string
	PeerID             string
	PeerName           string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a cached message. Timestamps are Unix milliseconds.
type Message struct {
	ID          int64
	ChatID      string
	MsgID       string
	SenderID    string
	Body        string
	Delivered   bool
	Seen        bool
	ReplyTo     string
	ReplyText   string
	ReplySender string
	Timestamp   int64
}
