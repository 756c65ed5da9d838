package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

type fakeRequester struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRequester) RequestPresence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTracker(t *testing.T) (*Tracker, *bus.Bus, *fakeRequester) {
	t.Helper()
	b := bus.New()
	req := &fakeRequester{}
	tr := NewTracker(b, req, zap.NewNop())
	tr.Start(context.Background())
	t.Cleanup(tr.Stop)
	return tr, b, req
}

func TestTrackRequestsSnapshot(t *testing.T) {
	tr, _, req := newTracker(t)

	tr.Track("u1")
	if req.count() != 1 {
		t.Errorf("snapshot requests = %d, want 1", req.count())
	}
	if _, ok := tr.Snapshot("u1"); !ok {
		t.Error("tracked user has no record")
	}

	// Re-tracking re-requests but keeps the record.
	tr.Track("u1")
	if req.count() != 2 {
		t.Errorf("snapshot requests = %d, want 2", req.count())
	}
}

func TestPresencePushMarksOnline(t *testing.T) {
	tr, b, _ := newTracker(t)
	tr.Track("u1")
	tr.Track("u2")

	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: []string{"u1"}})
	time.Sleep(100 * time.Millisecond)

	rec, _ := tr.Snapshot("u1")
	if !rec.Online {
		t.Error("u1 not online after push")
	}
	rec, _ = tr.Snapshot("u2")
	if rec.Online {
		t.Error("u2 online though absent from the online list")
	}
}

func TestOnlineClearsLastSeen(t *testing.T) {
	tr, b, _ := newTracker(t)
	tr.Track("u1")

	past := time.Now().Add(-time.Hour)
	b.Emit(bus.KindSockPresence, chat.PresencePayload{
		OnlineUsers: []string{},
		LastSeenMap: map[string]time.Time{"u1": past},
	})
	time.Sleep(100 * time.Millisecond)

	rec, _ := tr.Snapshot("u1")
	if rec.Online || !rec.LastSeen.Equal(past) {
		t.Fatalf("record = %+v, want offline with last seen %v", rec, past)
	}

	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: []string{"u1"}})
	time.Sleep(100 * time.Millisecond)

	rec, _ = tr.Snapshot("u1")
	if !rec.Online {
		t.Error("u1 not online")
	}
	if !rec.LastSeen.IsZero() {
		t.Error("stale last-seen kept while online")
	}
}

func TestLastSeenNeverRegresses(t *testing.T) {
	tr, b, _ := newTracker(t)
	tr.Track("u1")

	newer := time.Now().Add(-time.Minute)
	older := time.Now().Add(-time.Hour)

	b.Emit(bus.KindSockPresence, chat.PresencePayload{
		OnlineUsers: []string{},
		LastSeenMap: map[string]time.Time{"u1": newer},
	})
	time.Sleep(100 * time.Millisecond)

	// Out-of-order frame with an older timestamp.
	b.Emit(bus.KindSockPresence, chat.PresencePayload{
		OnlineUsers: []string{},
		LastSeenMap: map[string]time.Time{"u1": older},
	})
	time.Sleep(100 * time.Millisecond)

	rec, _ := tr.Snapshot("u1")
	if !rec.LastSeen.Equal(newer) {
		t.Errorf("last seen = %v, want %v (must not regress)", rec.LastSeen, newer)
	}
}

func TestAbsentOnlineListCarriesNoInformation(t *testing.T) {
	tr, b, _ := newTracker(t)
	tr.Track("u1")

	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: []string{"u1"}})
	time.Sleep(100 * time.Millisecond)

	// A frame without an onlineUsers field must not flip anyone offline.
	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: nil})
	time.Sleep(100 * time.Millisecond)

	rec, _ := tr.Snapshot("u1")
	if !rec.Online {
		t.Error("absent online list downgraded u1 to offline")
	}
}

func TestChangePublishedOnceOnTransition(t *testing.T) {
	tr, b, _ := newTracker(t)
	tr.Track("u1")

	ch, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: []string{"u1"}})
	// Identical repeat: no state change, no event.
	b.Emit(bus.KindSockPresence, chat.PresencePayload{OnlineUsers: []string{"u1"}})
	time.Sleep(100 * time.Millisecond)

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if change.UserID != "u1" || !change.Record.Online {
			t.Errorf("change = %+v", change)
		}
	default:
		t.Fatal("no presence.changed event")
	}

	select {
	case <-ch:
		t.Error("duplicate push produced a second event")
	default:
	}
}

func TestUntrackDropsRecord(t *testing.T) {
	tr, _, _ := newTracker(t)
	tr.Track("u1")
	tr.Untrack("u1")

	if _, ok := tr.Snapshot("u1"); ok {
		t.Error("record survived Untrack")
	}
}
