package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Maximum number of queued outbound frames.
	sendQueueSize = 256

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// frame is the JSON envelope every socket event travels in.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Wire event names of the marketplace realtime contract.
const (
	evtJoinChat        = "joinChat"
	evtLeaveChat       = "leaveChat"
	evtSendMessage     = "sendMessage"
	evtReceiveMessage  = "receiveMessage"
	evtTyping          = "typing"
	evtMarkSeen        = "markSeen"
	evtSeenUpdate      = "seenUpdate"
	evtDeliveredUpdate = "deliveredUpdate"
	evtPresence        = "presence"
	evtOnlineCheck     = "online-check"
	evtOnline          = "online"
	evtOffline         = "offline"
	evtNewMessage      = "new-message"
	evtNewNotification = "new-notification"
)

var errNotConnected = errors.New("socket not connected")

// Conn owns the single persistent socket connection of an authenticated
// profile. It reconnects on its own, re-announces identity and re-joins
// rooms on recovery, and publishes decoded inbound frames on the bus.
// Transport errors are logged, never surfaced to callers.
type Conn struct {
	url    string
	selfID string
	token  string
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	ws         *websocket.Conn
	connected  bool
	started    bool
	joined     map[string]string // chatID -> userID, for re-join on reconnect
	sendq      chan frame
	cancel     context.CancelFunc
	writerDone chan struct{}
}

// New creates a connection manager. Nothing dials until Connect.
func New(url, selfID, token string, b *bus.Bus, logger *zap.Logger) *Conn {
	return &Conn{
		url:    url,
		selfID: selfID,
		token:  token,
		bus:    b,
		logger: logger,
		joined: make(map[string]string),
		sendq:  make(chan frame, sendQueueSize),
	}
}

// Connect starts the connection loop. Idempotent: a second call while the
// loop runs is a no-op.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Close announces offline best-effort and tears the transport down. Called
// on logout. The offline frame travels through the send queue so the write
// loop stays the only goroutine touching the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	cancel := c.cancel
	done := c.writerDone
	c.started = false
	c.mu.Unlock()

	if connected {
		// Best-effort offline before the server sees the drop.
		data, _ := json.Marshal(struct{}{})
		select {
		case c.sendq <- frame{Type: evtOffline, Data: data}:
		default:
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		// The write loop drains the queue on shutdown; wait for it so
		// the offline frame goes out before the socket closes.
		select {
		case <-done:
		case <-time.After(writeWait):
		}
	}
	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Conn) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("socket dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		writerDone := make(chan struct{})
		c.mu.Lock()
		c.ws = ws
		c.connected = true
		c.writerDone = writerDone
		c.mu.Unlock()

		c.logger.Info("socket connected", zap.String("url", c.url))
		c.announce()
		c.bus.Emit(bus.KindSockConnected, nil)

		writerCtx, stopWriter := context.WithCancel(ctx)
		go func() {
			defer close(writerDone)
			c.writeLoop(writerCtx, ws)
		}()

		c.readLoop(ws)

		stopWriter()
		<-writerDone

		c.mu.Lock()
		c.connected = false
		c.ws = nil
		c.writerDone = nil
		c.mu.Unlock()

		c.bus.Emit(bus.KindSockDisconnected, nil)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("socket disconnected, reconnecting")
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return ws, err
}

// announce re-declares identity after every (re)connect: a fresh online
// declaration, re-join of every held room and a presence snapshot request,
// so the server's presence table stays consistent across drops.
func (c *Conn) announce() {
	c.emit(evtOnline, map[string]string{"userId": c.selfID})

	c.mu.Lock()
	joined := make(map[string]string, len(c.joined))
	for chatID, userID := range c.joined {
		joined[chatID] = userID
	}
	c.mu.Unlock()

	for chatID, userID := range joined {
		c.emit(evtJoinChat, map[string]string{"chatId": chatID, "userId": userID})
	}
	c.emit(evtOnlineCheck, struct{}{})
}

func (c *Conn) writeLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.sendq:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(f); err != nil {
				c.logger.Warn("socket write failed", zap.String("type", f.Type), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			c.drainQueue(ws)
			return
		}
	}
}

// drainQueue flushes frames queued before shutdown, the offline
// announcement from Close among them.
func (c *Conn) drainQueue(ws *websocket.Conn) {
	for {
		select {
		case f := <-c.sendq:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			_ = ws.Close()
			return
		}
		c.dispatch(f)
	}
}

// dispatch decodes one inbound frame and publishes it on the bus. A frame
// that fails to decode is logged and dropped; it never interrupts the loop.
func (c *Conn) dispatch(f frame) {
	switch f.Type {
	case evtReceiveMessage:
		var msg chat.Message
		if c.decode(f, &msg) {
			c.bus.Emit(bus.KindSockMessage, msg)
		}
	case evtTyping:
		var sig chat.TypingSignal
		if c.decode(f, &sig) {
			c.bus.Emit(bus.KindSockTyping, sig)
		}
	case evtSeenUpdate:
		var upd chat.SeenUpdate
		if c.decode(f, &upd) {
			c.bus.Emit(bus.KindSockSeen, upd)
		}
	case evtDeliveredUpdate:
		var upd chat.DeliveredUpdate
		if c.decode(f, &upd) {
			c.bus.Emit(bus.KindSockDelivered, upd)
		}
	case evtPresence:
		var p chat.PresencePayload
		if c.decode(f, &p) {
			c.bus.Emit(bus.KindSockPresence, p)
		}
	case evtNewMessage:
		var ping chat.NewMessagePing
		if c.decode(f, &ping) {
			c.bus.Emit(bus.KindSockNewMessage, ping)
		}
	case evtNewNotification:
		var n chat.Notification
		if c.decode(f, &n) {
			c.bus.Emit(bus.KindSockNotification, n)
		}
	default:
		c.logger.Debug("unknown socket event", zap.String("type", f.Type))
	}
}

func (c *Conn) decode(f frame, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.logger.Warn("malformed socket payload", zap.String("type", f.Type), zap.Error(err))
		return false
	}
	return true
}

// emit queues an outbound frame. Frames queued while disconnected flush
// once the writer comes back; a full queue drops the frame with a log line.
func (c *Conn) emit(typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case c.sendq <- frame{Type: typ, Data: raw}:
		return nil
	default:
		c.logger.Warn("socket send queue full, dropping frame", zap.String("type", typ))
		return errNotConnected
	}
}

// JoinRoom announces presence in a conversation room. Idempotent; the room
// is remembered for re-join on reconnect.
func (c *Conn) JoinRoom(chatID, userID string) {
	c.mu.Lock()
	if _, ok := c.joined[chatID]; ok {
		c.mu.Unlock()
		return
	}
	c.joined[chatID] = userID
	c.mu.Unlock()
	_ = c.emit(evtJoinChat, map[string]string{"chatId": chatID, "userId": userID})
}

// LeaveRoom leaves a conversation room and forgets it.
func (c *Conn) LeaveRoom(chatID string) {
	c.mu.Lock()
	delete(c.joined, chatID)
	c.mu.Unlock()
	_ = c.emit(evtLeaveChat, map[string]string{"chatId": chatID})
}

// SendMessage transmits an optimistic message. This is the one emit whose
// failure callers care about; the session marks the entry failed.
func (c *Conn) SendMessage(m chat.Message) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return errNotConnected
	}
	return c.emit(evtSendMessage, m)
}

// Typing emits a typing signal. Fired per keystroke, undebounced.
func (c *Conn) Typing(chatID, sender string) {
	_ = c.emit(evtTyping, map[string]string{"chatId": chatID, "sender": sender})
}

// MarkSeen asks the server to mark the conversation seen by this user.
func (c *Conn) MarkSeen(chatID, userID string) {
	_ = c.emit(evtMarkSeen, map[string]string{"chatId": chatID, "userId": userID})
}

// RequestPresence asks the server to push a presence snapshot.
func (c *Conn) RequestPresence() {
	_ = c.emit(evtOnlineCheck, struct{}{})
}

// Connected reports the current transport state.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
