package presence

import (
	"context"
	"sync"
	"time"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

// SnapshotRequester asks the server to push its current presence table.
// Implemented by socket.Conn.
type SnapshotRequester interface {
	RequestPresence()
}

// Record is the ephemeral presence view of one counterpart. LastSeen is
// zero until the server reports one.
type Record struct {
	Online   bool
	LastSeen time.Time
}

// Change is the payload for presence.changed events.
type Change struct {
	UserID string
	Record Record
}

// Tracker maintains the local presence view of tracked counterparts.
// Last-seen never regresses: an older timestamp than the stored one is
// discarded, and absent payload fields carry no information.
type Tracker struct {
	mu      sync.Mutex
	records map[string]Record

	bus    *bus.Bus
	req    SnapshotRequester
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewTracker creates a tracker wired to the bus and the socket.
func NewTracker(b *bus.Bus, req SnapshotRequester, logger *zap.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]Record),
		bus:     b,
		req:     req,
		logger:  logger,
	}
}

// Start subscribes to presence pushes on the bus.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe(bus.KindSockPresence, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				payload, ok := evt.Payload.(chat.PresencePayload)
				if !ok {
					continue
				}
				t.apply(payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Track begins following a counterpart and requests a fresh snapshot,
// since the server does not push presence proactively to new subscribers.
// Calling Track again for the same id just re-requests the snapshot.
func (t *Tracker) Track(userID string) {
	t.mu.Lock()
	if _, ok := t.records[userID]; !ok {
		t.records[userID] = Record{}
	}
	t.mu.Unlock()
	t.req.RequestPresence()
}

// Untrack discards the record for a counterpart.
func (t *Tracker) Untrack(userID string) {
	t.mu.Lock()
	delete(t.records, userID)
	t.mu.Unlock()
}

// Snapshot returns the current record for a counterpart.
func (t *Tracker) Snapshot(userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	return rec, ok
}

func (t *Tracker) apply(p chat.PresencePayload) {
	// A nil onlineUsers field means the frame carried no membership
	// information; never downgrade on missing data.
	if p.OnlineUsers == nil {
		return
	}
	online := make(map[string]bool, len(p.OnlineUsers))
	for _, id := range p.OnlineUsers {
		online[id] = true
	}

	t.mu.Lock()
	var changes []Change
	for id, rec := range t.records {
		next := rec
		if online[id] {
			next.Online = true
			// Online supersedes any stale last-seen.
			next.LastSeen = time.Time{}
		} else {
			next.Online = false
			if ls, ok := p.LastSeenMap[id]; ok && ls.After(rec.LastSeen) {
				next.LastSeen = ls
			}
		}
		if next != rec {
			t.records[id] = next
			changes = append(changes, Change{UserID: id, Record: next})
		}
	}
	t.mu.Unlock()

	for _, c := range changes {
		t.bus.Emit(bus.KindPresenceChanged, c)
	}
}
