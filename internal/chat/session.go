package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nabeelvk/pkchat/internal/bus"
	"go.uber.org/zap"
)

// State represents a chat session lifecycle state.
type State string

const (
	StateUnauthorized   State = "UNAUTHORIZED"
	StateLoadingHistory State = "LOADING_HISTORY"
	StateActive         State = "ACTIVE"
	StateCleared        State = "CLEARED"
	StateClosed         State = "CLOSED"
)

// validTransitions defines allowed session state transitions.
var validTransitions = map[State][]State{
	StateUnauthorized:   {StateLoadingHistory, StateClosed},
	StateLoadingHistory: {StateActive, StateClosed},
	StateActive:         {StateCleared, StateClosed},
	StateCleared:        {StateActive, StateClosed},
	StateClosed:         {},
}

// TypingDecay is how long a received typing signal stays lit without a
// follow-up signal.
const TypingDecay = 1200 * time.Millisecond

// Emitter sends frames on the realtime socket. Implemented by socket.Conn.
type Emitter interface {
	JoinRoom(chatID, userID string)
	LeaveRoom(chatID string)
	SendMessage(m Message) error
	Typing(chatID, sender string)
	MarkSeen(chatID, userID string)
}

// HistoryLoader fetches prior messages of a conversation.
type HistoryLoader interface {
	Messages(ctx context.Context, chatID string) ([]Message, error)
}

// PermissionChecker asks the appointment service whether chat is enabled.
type PermissionChecker interface {
	ChatPermission(ctx context.Context, appointmentID string) (*PermissionGrant, error)
}

// UnreadControl is the slice of the unread aggregator a session drives.
type UnreadControl interface {
	SetActive(chatID string)
	ClearActive(chatID string)
	Clear(chatID string)
}

// StatusChange is the payload for chat.status_changed events.
type StatusChange struct {
	ChatID string
	From   State
	To     State
}

// TypingChange is the payload for chat.typing events.
type TypingChange struct {
	ChatID string
	Typing bool
}

// TimelineChange is the payload for chat.timeline events.
type TimelineChange struct {
	ChatID string
}

// Session is the per-conversation state machine. It owns the timeline,
// drives room membership, the typing decay timer and visibility-gated seen
// marking. All socket input arrives through the bus; switching conversations
// is safe because Close fully detaches the subscription.
type Session struct {
	mu       sync.Mutex
	chatID   string
	selfID   string
	peer     Peer
	state    State
	timeline *Timeline

	emitter Emitter
	history HistoryLoader
	unread  UnreadControl
	bus     *bus.Bus
	logger  *zap.Logger

	joined      bool
	visible     bool
	typing      bool
	typingTimer *time.Timer
	seenKey     string
	unsub       func()
	done        chan struct{}
}

// Opener creates sessions with their collaborators injected.
type Opener struct {
	SelfID      string
	Emitter     Emitter
	History     HistoryLoader
	Permissions PermissionChecker
	Unread      UnreadControl
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// OpenDirect opens a session for an existing conversation-list entry.
// Permission is implicit: the conversation exists, so it was granted.
func (o *Opener) OpenDirect(ctx context.Context, chatID string, peer Peer) *Session {
	s := o.newSession(chatID, peer)
	s.activate(ctx)
	return s
}

// OpenFromAppointment opens a session gated by the appointment permission
// check. When permission is denied the session stays in Unauthorized; the
// caller renders a placeholder, not an error.
func (o *Opener) OpenFromAppointment(ctx context.Context, appointmentID string) *Session {
	grant, err := o.Permissions.ChatPermission(ctx, appointmentID)
	if err != nil || grant == nil || !grant.Allowed {
		if err != nil {
			o.Logger.Warn("chat permission check failed", zap.String("appointment", appointmentID), zap.Error(err))
		}
		return o.newSession("", Peer{})
	}

	chatID := ConversationID(grant.UserID, grant.WorkerID)
	s := o.newSession(chatID, grant.Peer)
	s.activate(ctx)
	return s
}

func (o *Opener) newSession(chatID string, peer Peer) *Session {
	return &Session{
		chatID:   chatID,
		selfID:   o.SelfID,
		peer:     peer,
		state:    StateUnauthorized,
		timeline: NewTimeline(chatID, o.SelfID),
		emitter:  o.Emitter,
		history:  o.History,
		unread:   o.Unread,
		bus:      o.Bus,
		logger:   o.Logger,
		done:     make(chan struct{}),
	}
}

func (s *Session) activate(ctx context.Context) {
	if err := s.transition(StateLoadingHistory); err != nil {
		return
	}

	// Subscribe before the history fetch. A push that races the fetch
	// sits in the channel buffer until the loop starts, so it lands on
	// top of the installed history instead of vanishing.
	ch, unsub := s.bus.Subscribe("sock.", 256)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	msgs, err := s.history.Messages(ctx, s.chatID)
	if err != nil {
		// Degrade to an empty list; history is best-effort.
		s.logger.Warn("history load failed", zap.String("chat", s.chatID), zap.Error(err))
		msgs = nil
	}
	s.timeline.SetHistory(msgs)

	if err := s.transition(StateActive); err != nil {
		s.mu.Lock()
		s.unsub = nil
		s.mu.Unlock()
		unsub()
		return
	}

	s.ensureJoined()
	s.unread.SetActive(s.chatID)
	s.unread.Clear(s.chatID)

	go s.loop(ch)

	s.publishTimeline()
	s.maybeMarkSeen()
}

// ensureJoined announces room membership exactly once per activation. Safe
// to call repeatedly.
func (s *Session) ensureJoined() {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return
	}
	s.joined = true
	s.mu.Unlock()
	s.emitter.JoinRoom(s.chatID, s.selfID)
}

func (s *Session) loop(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			s.handle(evt)
		case <-s.done:
			return
		}
	}
}

func (s *Session) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSockMessage:
		msg, ok := evt.Payload.(Message)
		if !ok || msg.ChatID != s.chatID {
			return
		}
		s.onMessage(msg)
	case bus.KindSockTyping:
		sig, ok := evt.Payload.(TypingSignal)
		if !ok || sig.ChatID != s.chatID {
			return
		}
		s.onTyping()
	case bus.KindSockSeen:
		upd, ok := evt.Payload.(SeenUpdate)
		if !ok || upd.ChatID != s.chatID {
			return
		}
		if s.timeline.ApplySeen(upd.SeenBy) {
			s.publishTimeline()
		}
	case bus.KindSockDelivered:
		upd, ok := evt.Payload.(DeliveredUpdate)
		if !ok || upd.ChatID != s.chatID {
			return
		}
		if s.timeline.ApplyDelivered() {
			s.publishTimeline()
		}
	}
}

func (s *Session) onMessage(msg Message) {
	// A cleared conversation accepts new traffic again.
	s.mu.Lock()
	if s.state == StateCleared {
		s.mu.Unlock()
		_ = s.transition(StateActive)
	} else {
		s.mu.Unlock()
	}

	s.timeline.Apply(msg)
	s.publishTimeline()

	if msg.Sender != s.selfID {
		s.setTyping(false)
		s.maybeMarkSeen()
	}
}

func (s *Session) onTyping() {
	s.setTyping(true)
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(TypingDecay, func() {
		s.setTyping(false)
	})
	s.mu.Unlock()
}

func (s *Session) setTyping(v bool) {
	s.mu.Lock()
	if s.typing == v {
		s.mu.Unlock()
		return
	}
	s.typing = v
	s.mu.Unlock()
	s.bus.Emit(bus.KindChatTyping, TypingChange{ChatID: s.chatID, Typing: v})
}

// Send transmits a message, appending it optimistically first. Returns
// false when the send was rejected (inactive session, empty text, or the
// send lock).
func (s *Session) Send(text string, replyTo *Message) bool {
	st := s.State()
	if st != StateActive && st != StateCleared {
		return false
	}
	if st == StateCleared {
		_ = s.transition(StateActive)
	}

	msg, ok := s.timeline.Send(text, replyTo)
	if !ok {
		return false
	}
	s.publishTimeline()

	if err := s.emitter.SendMessage(msg); err != nil {
		s.logger.Warn("send failed", zap.String("chat", s.chatID), zap.String("temp_id", msg.TempID), zap.Error(err))
		s.timeline.MarkFailed(msg.TempID)
		s.publishTimeline()
	}
	return true
}

// Retry re-transmits a failed optimistic message under its original temp id.
func (s *Session) Retry(tempID string) bool {
	msg, ok := s.timeline.TakeRetry(tempID)
	if !ok {
		return false
	}
	s.publishTimeline()
	if err := s.emitter.SendMessage(msg); err != nil {
		s.logger.Warn("retry failed", zap.String("temp_id", tempID), zap.Error(err))
		s.timeline.MarkFailed(tempID)
		s.publishTimeline()
		return false
	}
	return true
}

// InputActivity emits a typing signal. Fired per keystroke; the receiver
// side owns the decay.
func (s *Session) InputActivity() {
	if s.State() != StateActive {
		return
	}
	s.emitter.Typing(s.chatID, s.selfID)
}

// SetVisible records whether the view is foreground and, when it is, marks
// received messages seen.
func (s *Session) SetVisible(v bool) {
	s.mu.Lock()
	s.visible = v
	s.mu.Unlock()
	if v {
		s.maybeMarkSeen()
	}
}

// maybeMarkSeen emits markSeen when the view is visible and the set of
// unseen received messages changed since the last emission.
func (s *Session) maybeMarkSeen() {
	s.mu.Lock()
	if !s.visible {
		s.mu.Unlock()
		return
	}
	key := s.timeline.UnseenKey()
	if key == "" || key == s.seenKey {
		s.mu.Unlock()
		return
	}
	s.seenKey = key
	s.mu.Unlock()
	s.emitter.MarkSeen(s.chatID, s.selfID)
}

// ClearLocal erases the conversation locally. Future server pushes are
// accepted again.
func (s *Session) ClearLocal() {
	if err := s.transition(StateCleared); err != nil {
		return
	}
	s.timeline.Clear()
	s.unread.Clear(s.chatID)
	s.publishTimeline()
}

// Close leaves the room and detaches every handler. A closed session
// receives nothing, so there is no cross-talk with the next open
// conversation.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	joined := s.joined
	s.joined = false
	unsub := s.unsub
	s.unsub = nil
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	if joined {
		s.emitter.LeaveRoom(s.chatID)
	}
	if unsub != nil {
		unsub()
	}
	close(s.done)
	s.unread.ClearActive(s.chatID)
	_ = s.transition(StateClosed)
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	allowed := validTransitions[s.state]
	if !slices.Contains(allowed, to) {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", cur, to)
	}
	from := s.state
	s.state = to
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(bus.KindChatStatusChanged, StatusChange{ChatID: s.chatID, From: from, To: to})
	}
	return nil
}

func (s *Session) publishTimeline() {
	if s.bus != nil {
		s.bus.Emit(bus.KindChatTimeline, TimelineChange{ChatID: s.chatID})
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChatID returns the conversation identifier, empty for an unauthorized
// session.
func (s *Session) ChatID() string { return s.chatID }

// Peer returns the counterpart identity snapshot.
func (s *Session) Peer() Peer { return s.peer }

// Messages returns the current timeline in display order.
func (s *Session) Messages() []Message { return s.timeline.Messages() }

// TypingActive reports whether the counterpart's typing indicator is lit.
func (s *Session) TypingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}
