package daemon

import (
	"context"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/nabeelvk/pkchat/internal/rest"
	"github.com/nabeelvk/pkchat/internal/unread"
	"go.uber.org/zap"
)

// Notifier surfaces notification-channel traffic in the daemon log. In
// headless mode this is the user-visible output; the TUI subscribes to the
// same bus events for its badge instead.
type Notifier struct {
	bus    *bus.Bus
	rest   *rest.Client
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewNotifier creates a notifier.
func NewNotifier(b *bus.Bus, restc *rest.Client, logger *zap.Logger) *Notifier {
	return &Notifier{bus: b, rest: restc, logger: logger}
}

// Start subscribes to notification and unread events and logs the backlog
// of unread notifications from the feed.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	notifCh, unsubNotif := n.bus.Subscribe(bus.KindSockNotification, 64)
	unreadCh, unsubUnread := n.bus.Subscribe(bus.KindUnreadChanged, 64)

	go n.logBacklog(ctx)

	go func() {
		defer unsubNotif()
		defer unsubUnread()
		for {
			select {
			case evt := <-notifCh:
				if notif, ok := evt.Payload.(chat.Notification); ok {
					n.logger.Info("notification",
						zap.String("type", notif.Type),
						zap.String("title", notif.Title),
						zap.String("body", notif.Body))
				}
			case evt := <-unreadCh:
				if change, ok := evt.Payload.(unread.Change); ok {
					n.logger.Info("unread changed",
						zap.String("chat_id", change.ChatID),
						zap.Int("count", change.Count),
						zap.Int("total", change.Total))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (n *Notifier) logBacklog(ctx context.Context) {
	notifs, err := n.rest.Notifications(ctx)
	if err != nil {
		n.logger.Warn("notification feed fetch failed", zap.Error(err))
		return
	}
	unseen := 0
	for _, notif := range notifs {
		if !notif.IsRead {
			unseen++
		}
	}
	if unseen > 0 {
		n.logger.Info("unread notifications pending", zap.Int("count", unseen))
	}
}

// Stop stops the notifier.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}
