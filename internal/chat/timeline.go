package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Timeline holds the ordered message list of one open conversation and
// reconciles its two write paths: optimistic local sends and server pushes.
// Display order is arrival order; merges replace in place and never shift
// indexes destructively.
type Timeline struct {
	mu      sync.Mutex
	chatID  string
	selfID  string
	msgs    []Message
	sending bool
}

// NewTimeline creates an empty timeline owned by the given conversation.
func NewTimeline(chatID, selfID string) *Timeline {
	return &Timeline{chatID: chatID, selfID: selfID}
}

// Send validates text, takes the send lock and appends an optimistic
// message with a fresh temp id. Returns the message to transmit and false
// when the send was rejected (empty text or a send already in flight this
// tick). The lock releases on the next scheduler tick, which is what drops
// duplicate submissions from rapid double-activation.
func (t *Timeline) Send(text string, replyTo *Message) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sending {
		return Message{}, false
	}
	t.sending = true
	time.AfterFunc(0, func() {
		t.mu.Lock()
		t.sending = false
		t.mu.Unlock()
	})

	m := Message{
		TempID:    "temp-" + uuid.NewString(),
		ChatID:    t.chatID,
		Sender:    t.selfID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if replyTo != nil {
		m.ReplyTo = replyTo.ID
		m.ReplyText = replyTo.Text
		m.ReplySender = replyTo.Sender
	}
	t.msgs = append(t.msgs, m)
	return m, true
}

// Apply merges a server message into the list. An entry with a matching
// temp id (echo of an own send) or server id (duplicate push) is replaced
// in place, preserving seen/delivered as the logical OR of both versions so
// an authoritative push never regresses a flag the client already observed.
// Everything else is appended.
func (t *Timeline) Apply(in Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Seen implies delivered. Some server echoes carry seen with the
	// delivered flag still clear; normalize so the flags never disagree.
	if in.Seen {
		in.Delivered = true
	}

	if i := t.indexOf(in); i >= 0 {
		in.Seen = in.Seen || t.msgs[i].Seen
		in.Delivered = in.Delivered || t.msgs[i].Delivered || in.Seen
		t.msgs[i] = in
		return
	}
	t.msgs = append(t.msgs, in)
}

func (t *Timeline) indexOf(in Message) int {
	for i := range t.msgs {
		if in.TempID != "" && t.msgs[i].TempID == in.TempID {
			return i
		}
		if in.ID != "" && t.msgs[i].ID == in.ID {
			return i
		}
	}
	return -1
}

// SetHistory installs the fetched history, then re-merges whatever the
// timeline already held. Live pushes can land before the history fetch
// completes; re-applying them on top keeps both.
func (t *Timeline) SetHistory(history []Message) {
	t.mu.Lock()
	pending := t.msgs
	t.msgs = make([]Message, len(history))
	copy(t.msgs, history)
	t.mu.Unlock()

	for _, m := range pending {
		t.Apply(m)
	}
}

// ApplySeen handles a seen broadcast: every own delivered-but-unseen
// message becomes seen. A broadcast echoing our own markSeen is ignored.
// Idempotent.
func (t *Timeline) ApplySeen(seenBy string) bool {
	if seenBy == t.selfID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for i := range t.msgs {
		if t.msgs[i].Sender == t.selfID && t.msgs[i].Delivered && !t.msgs[i].Seen {
			t.msgs[i].Seen = true
			changed = true
		}
	}
	return changed
}

// ApplyDelivered handles a delivered broadcast: every own message becomes
// delivered. Idempotent.
func (t *Timeline) ApplyDelivered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for i := range t.msgs {
		if t.msgs[i].Sender == t.selfID && !t.msgs[i].Delivered {
			t.msgs[i].Delivered = true
			changed = true
		}
	}
	return changed
}

// MarkFailed flags an optimistic message whose transmit errored.
func (t *Timeline) MarkFailed(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].TempID == tempID && t.msgs[i].ID == "" {
			t.msgs[i].Failed = true
			return
		}
	}
}

// TakeRetry clears the failed flag and returns the message for
// re-transmission under the same temp id, so the eventual echo still
// reconciles to a single entry.
func (t *Timeline) TakeRetry(tempID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].TempID == tempID && t.msgs[i].Failed {
			t.msgs[i].Failed = false
			return t.msgs[i], true
		}
	}
	return Message{}, false
}

// Clear empties the timeline (local-only erase). Future server pushes are
// accepted again; the clear is not retroactive.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
}

// Messages returns a copy of the current list in display order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the current list length.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// UnseenKey identifies the set of received-but-unseen messages. The seen
// marker fires once per distinct key, not on every render.
func (t *Timeline) UnseenKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	for i := range t.msgs {
		if t.msgs[i].Sender != t.selfID && !t.msgs[i].Seen {
			if t.msgs[i].ID != "" {
				sb.WriteString(t.msgs[i].ID)
			} else {
				sb.WriteString(t.msgs[i].TempID)
			}
			sb.WriteByte('|')
		}
	}
	return sb.String()
}
