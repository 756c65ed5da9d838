package unread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	counts map[string]int
	err    error
}

func (f *fakeFetcher) UnreadCounts(_ context.Context) (map[string]int, error) {
	return f.counts, f.err
}

func hydrated(t *testing.T, counts map[string]int) (*Aggregator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	a := NewAggregator("me", b, zap.NewNop())
	a.Start(context.Background())
	t.Cleanup(a.Stop)
	a.Hydrate(context.Background(), &fakeFetcher{counts: counts})
	return a, b
}

func TestIngestIncrements(t *testing.T) {
	a, b := hydrated(t, nil)

	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_c", Sender: "c"})
	time.Sleep(100 * time.Millisecond)

	if got := a.Count("a_b"); got != 2 {
		t.Errorf("count(a_b) = %d, want 2", got)
	}
	if got := a.Total(); got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
}

func TestIngestSkipsOwnPings(t *testing.T) {
	a, b := hydrated(t, nil)

	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "me"})
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "", Sender: "b"})
	time.Sleep(100 * time.Millisecond)

	if got := a.Total(); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}
}

func TestActiveConversationSuppressed(t *testing.T) {
	a, b := hydrated(t, nil)
	a.SetActive("a_b")

	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_c", Sender: "c"})
	time.Sleep(100 * time.Millisecond)

	if got := a.Count("a_b"); got != 0 {
		t.Errorf("count(a_b) = %d, want 0 (active suppression)", got)
	}
	if got := a.Count("a_c"); got != 1 {
		t.Errorf("count(a_c) = %d, want 1", got)
	}

	// After leaving, pings count again.
	a.ClearActive("a_b")
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	time.Sleep(100 * time.Millisecond)
	if got := a.Count("a_b"); got != 1 {
		t.Errorf("count(a_b) = %d after ClearActive, want 1", got)
	}
}

func TestClearRemovesKey(t *testing.T) {
	a, b := hydrated(t, map[string]int{"a_b": 5})

	a.Clear("a_b")
	if got := a.Count("a_b"); got != 0 {
		t.Errorf("count = %d after Clear, want 0", got)
	}
	if _, ok := a.Counts()["a_b"]; ok {
		t.Error("cleared key still present in the map")
	}

	// Clearing an absent key publishes nothing.
	ch, unsub := b.Subscribe(bus.KindUnreadChanged, 10)
	defer unsub()
	a.Clear("a_b")
	select {
	case <-ch:
		t.Error("Clear of an absent key published a change")
	default:
	}
}

func TestHydrateInstallsSnapshot(t *testing.T) {
	a, _ := hydrated(t, map[string]int{"a_b": 3, "a_c": 0})

	if got := a.Count("a_b"); got != 3 {
		t.Errorf("count(a_b) = %d, want 3", got)
	}
	if _, ok := a.Counts()["a_c"]; ok {
		t.Error("zero-count entry installed")
	}
}

func TestHydrateSkipsActive(t *testing.T) {
	b := bus.New()
	a := NewAggregator("me", b, zap.NewNop())
	a.Start(context.Background())
	t.Cleanup(a.Stop)

	a.SetActive("a_b")
	a.Hydrate(context.Background(), &fakeFetcher{counts: map[string]int{"a_b": 4, "a_c": 2}})

	if got := a.Count("a_b"); got != 0 {
		t.Errorf("count(a_b) = %d, want 0 (open conversation)", got)
	}
	if got := a.Count("a_c"); got != 2 {
		t.Errorf("count(a_c) = %d, want 2", got)
	}
}

func TestHydrateBuffersEarlyPings(t *testing.T) {
	b := bus.New()
	a := NewAggregator("me", b, zap.NewNop())
	a.Start(context.Background())
	t.Cleanup(a.Stop)

	// Live pings race the snapshot fetch.
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	time.Sleep(100 * time.Millisecond)

	if got := a.Count("a_b"); got != 0 {
		t.Fatalf("count = %d before hydration, want 0 (buffered)", got)
	}

	a.Hydrate(context.Background(), &fakeFetcher{counts: map[string]int{"a_b": 1}})

	if got := a.Count("a_b"); got != 3 {
		t.Errorf("count = %d, want 3 (snapshot + replayed buffer)", got)
	}
}

func TestHydrateFetchErrorDegrades(t *testing.T) {
	b := bus.New()
	a := NewAggregator("me", b, zap.NewNop())
	a.Start(context.Background())
	t.Cleanup(a.Stop)

	a.Hydrate(context.Background(), &fakeFetcher{err: errors.New("backend down")})

	if got := a.Total(); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}

	// Live pings still count once hydration completed.
	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	time.Sleep(100 * time.Millisecond)
	if got := a.Count("a_b"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestChangeEventCarriesTotal(t *testing.T) {
	a, b := hydrated(t, nil)

	ch, unsub := b.Subscribe(bus.KindUnreadChanged, 10)
	defer unsub()

	b.Emit(bus.KindSockNewMessage, chat.NewMessagePing{ChatID: "a_b", Sender: "b"})
	time.Sleep(100 * time.Millisecond)

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if change.ChatID != "a_b" || change.Count != 1 || change.Total != 1 {
			t.Errorf("change = %+v, want a_b/1/1", change)
		}
	default:
		t.Fatal("no unread.changed event")
	}
	if got := a.Total(); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
}
