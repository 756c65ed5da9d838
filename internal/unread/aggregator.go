package unread

import (
	"context"
	"sync"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

// CountsFetcher returns the authoritative unread counts per conversation.
// Implemented by rest.Client.
type CountsFetcher interface {
	UnreadCounts(ctx context.Context) (map[string]int, error)
}

// Change is the payload for unread.changed events.
type Change struct {
	ChatID string
	Count  int
	Total  int
}

// Aggregator keeps the process-wide unread counter map, independent of any
// open session. Messages for the active conversation never increment;
// the user is already reading them. Live pings arriving before the initial
// snapshot hydrates are buffered and replayed afterwards, so events missed
// while racing the fetch are still counted.
type Aggregator struct {
	mu       sync.Mutex
	counts   map[string]int
	active   string
	hydrated bool
	buffer   []chat.NewMessagePing

	selfID string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewAggregator creates an empty aggregator for the given identity.
func NewAggregator(selfID string, b *bus.Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		counts: make(map[string]int),
		selfID: selfID,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the notification channel on the bus.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	ch, unsub := a.bus.Subscribe(bus.KindSockNewMessage, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				ping, ok := evt.Payload.(chat.NewMessagePing)
				if !ok {
					continue
				}
				a.ingest(ping)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the aggregator.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Hydrate installs the authoritative snapshot, then replays buffered live
// pings. A fetch error degrades to zero counts rather than blocking.
func (a *Aggregator) Hydrate(ctx context.Context, fetcher CountsFetcher) {
	counts, err := fetcher.UnreadCounts(ctx)
	if err != nil {
		a.logger.Warn("unread snapshot failed", zap.Error(err))
		counts = nil
	}

	a.mu.Lock()
	for id, n := range counts {
		if n > 0 && id != a.active {
			a.counts[id] = n
		}
	}
	a.hydrated = true
	buffered := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	for _, ping := range buffered {
		a.ingest(ping)
	}
	a.publish("")
}

func (a *Aggregator) ingest(ping chat.NewMessagePing) {
	if ping.ChatID == "" || ping.Sender == a.selfID {
		return
	}

	a.mu.Lock()
	if !a.hydrated {
		a.buffer = append(a.buffer, ping)
		a.mu.Unlock()
		return
	}
	if ping.ChatID == a.active {
		// Suppression rule: the open conversation never accumulates.
		a.mu.Unlock()
		return
	}
	a.counts[ping.ChatID]++
	a.mu.Unlock()
	a.publish(ping.ChatID)
}

// SetActive marks a conversation as the open one and clears its counter.
func (a *Aggregator) SetActive(chatID string) {
	a.mu.Lock()
	a.active = chatID
	a.mu.Unlock()
}

// ClearActive unmarks the active conversation if it is still the given one.
func (a *Aggregator) ClearActive(chatID string) {
	a.mu.Lock()
	if a.active == chatID {
		a.active = ""
	}
	a.mu.Unlock()
}

// Clear removes a conversation's counter entirely.
func (a *Aggregator) Clear(chatID string) {
	a.mu.Lock()
	_, had := a.counts[chatID]
	delete(a.counts, chatID)
	a.mu.Unlock()
	if had {
		a.publish(chatID)
	}
}

// Count returns the unread count for one conversation.
func (a *Aggregator) Count(chatID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[chatID]
}

// Total returns the navigation badge count: the sum over all conversations.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLocked()
}

func (a *Aggregator) totalLocked() int {
	sum := 0
	for _, n := range a.counts {
		sum += n
	}
	return sum
}

// Counts returns a copy of the counter map.
func (a *Aggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.counts))
	for id, n := range a.counts {
		out[id] = n
	}
	return out
}

func (a *Aggregator) publish(chatID string) {
	a.mu.Lock()
	change := Change{ChatID: chatID, Count: a.counts[chatID], Total: a.totalLocked()}
	a.mu.Unlock()
	a.bus.Emit(bus.KindUnreadChanged, change)
}
