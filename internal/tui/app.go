package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/nabeelvk/pkchat/internal/presence"
	"github.com/nabeelvk/pkchat/internal/rest"
	"github.com/nabeelvk/pkchat/internal/store"
	intsync "github.com/nabeelvk/pkchat/internal/sync"
	"github.com/nabeelvk/pkchat/internal/unread"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the interactive client shell on top of the realtime core. It is a
// thin read surface: all chat semantics live in the core packages and reach
// the views through bus events.
type App struct {
	app   *tview.Application
	pages *tview.Pages

	list      *ConversationList
	msgView   *MessageView
	composer  *Composer
	statusBar *StatusBar

	opener  *chat.Opener
	restc   *rest.Client
	db      *store.DB
	engine  *intsync.Engine
	tracker *presence.Tracker
	agg     *unread.Aggregator
	bus     *bus.Bus
	logger  *zap.Logger

	// mu guards session and summaries; both are written on the UI event
	// path and read by the watch goroutine.
	mu        sync.Mutex
	session   *chat.Session
	summaries []chat.Summary

	ctx    context.Context
	cancel context.CancelFunc
}

// Params collects the core components the TUI renders.
type Params struct {
	Profile string
	Opener  *chat.Opener
	Rest    *rest.Client
	DB      *store.DB
	Engine  *intsync.Engine
	Tracker *presence.Tracker
	Unread  *unread.Aggregator
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// NewApp creates the TUI application.
func NewApp(p Params) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		list:      NewConversationList(),
		msgView:   NewMessageView(p.Opener.SelfID),
		composer:  NewComposer(),
		statusBar: NewStatusBar(p.Profile),
		opener:    p.Opener,
		restc:     p.Rest,
		db:        p.DB,
		engine:    p.Engine,
		tracker:   p.Tracker,
		agg:       p.Unread,
		bus:       p.Bus,
		logger:    p.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		if s, ok := a.list.Selected(); ok {
			a.openConversation(s)
		}
	})

	a.composer.SetOnSend(func(text string) {
		if s := a.currentSession(); s != nil {
			s.Send(text, nil)
		}
	})
	a.composer.SetOnTyping(func() {
		if s := a.currentSession(); s != nil {
			s.InputActivity()
		}
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, true)

	a.pages.AddPage("chats", a.list, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if currentPage == "chat" {
			switch event.Key() {
			case tcell.KeyEscape:
				a.closeConversation()
				return nil
			case tcell.KeyCtrlL:
				a.clearCurrentChat()
				return nil
			case tcell.KeyCtrlR:
				a.retryLastFailed()
				return nil
			}
		}

		// Let the composer handle all other keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 'd':
				if currentPage == "chats" {
					a.deleteSelectedConversation()
					return nil
				}
			case 'n':
				if currentPage == "chats" {
					go a.markNotificationsRead()
					return nil
				}
			}
		}
		return event
	})
}

func (a *App) openConversation(s chat.Summary) {
	a.closeConversation()

	session := a.opener.OpenDirect(a.ctx, s.ChatID, s.Peer)
	session.SetVisible(true)
	a.setSession(session)
	a.tracker.Track(s.Peer.ID)

	// Cache the fetched history so the list survives offline starts.
	go func(chatID string, msgs []chat.Message) {
		if err := a.engine.IngestHistory(chatID, msgs); err != nil {
			a.logger.Warn("history cache failed", zap.String("chat", chatID), zap.Error(err))
		}
	}(s.ChatID, session.Messages())

	a.msgView.SetHeader(s.Peer.Name, a.presenceLine(s.Peer.ID))
	a.msgView.Update(session.Messages(), false)
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) closeConversation() {
	session := a.setSession(nil)
	if session == nil {
		a.pages.SwitchToPage("chats")
		a.app.SetFocus(a.list)
		return
	}
	a.tracker.Untrack(session.Peer().ID)
	session.Close()
	a.pages.SwitchToPage("chats")
	a.app.SetFocus(a.list)
	a.refreshList()
}

// setSession swaps the open session and returns the previous one.
func (a *App) setSession(s *chat.Session) *chat.Session {
	a.mu.Lock()
	prev := a.session
	a.session = s
	a.mu.Unlock()
	return prev
}

func (a *App) currentSession() *chat.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// clearCurrentChat erases the open conversation for this user: server-side
// clear plus the local timeline and cache.
func (a *App) clearCurrentChat() {
	session := a.currentSession()
	if session == nil {
		return
	}
	chatID := session.ChatID()
	go func() {
		if err := a.restc.ClearChat(a.ctx, chatID); err != nil {
			a.logger.Warn("server-side clear failed", zap.String("chat", chatID), zap.Error(err))
		}
		if err := a.db.ClearMessages(chatID); err != nil {
			a.logger.Warn("cache clear failed", zap.String("chat", chatID), zap.Error(err))
		}
	}()
	session.ClearLocal()
	a.msgView.Update(session.Messages(), false)
}

// retryLastFailed re-transmits the most recent failed send.
func (a *App) retryLastFailed() {
	session := a.currentSession()
	if session == nil {
		return
	}
	msgs := session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Failed {
			session.Retry(msgs[i].TempID)
			return
		}
	}
}

// deleteSelectedConversation removes the conversation for both participants
// and drops it from the cache and the list.
func (a *App) deleteSelectedConversation() {
	s, ok := a.list.Selected()
	if !ok {
		return
	}
	go func() {
		if err := a.restc.DeleteChat(a.ctx, s.ChatID); err != nil {
			a.logger.Warn("delete failed", zap.String("chat", s.ChatID), zap.Error(err))
			return
		}
		if err := a.db.DeleteConversation(s.ChatID); err != nil {
			a.logger.Warn("cache delete failed", zap.String("chat", s.ChatID), zap.Error(err))
		}
		a.agg.Clear(s.ChatID)
		a.app.QueueUpdateDraw(func() {
			a.mu.Lock()
			kept := a.summaries[:0]
			for _, c := range a.summaries {
				if c.ChatID != s.ChatID {
					kept = append(kept, c)
				}
			}
			a.summaries = kept
			a.mu.Unlock()
			a.refreshList()
		})
	}()
}

func (a *App) markNotificationsRead() {
	if err := a.restc.MarkAllNotificationsRead(a.ctx); err != nil {
		a.logger.Warn("mark notifications read failed", zap.Error(err))
	}
}

func (a *App) presenceLine(peerID string) string {
	rec, ok := a.tracker.Snapshot(peerID)
	switch {
	case !ok:
		return ""
	case rec.Online:
		return "online"
	case !rec.LastSeen.IsZero():
		return "last seen " + rec.LastSeen.Local().Format("Jan 2 15:04")
	default:
		return "offline"
	}
}

// loadConversations fetches summaries from the server and falls back to
// the local cache when the fetch fails.
func (a *App) loadConversations() {
	summaries, err := a.restc.Chats(a.ctx)
	if err != nil {
		a.logger.Warn("chat list fetch failed, using cache", zap.Error(err))
		cached, cerr := a.db.ListConversations(100)
		if cerr != nil {
			return
		}
		summaries = summaries[:0]
		for _, c := range cached {
			summaries = append(summaries, chat.Summary{
				ChatID: c.ChatID,
				Peer:   chat.Peer{ID: c.PeerID, Name: c.PeerName},
				LastMessage: &chat.Message{
					Text:      c.LastMessagePreview,
					CreatedAt: time.UnixMilli(c.LastMessageAt),
				},
			})
		}
	} else {
		// Prime the cache with fresh peer names.
		for _, s := range summaries {
			_ = a.db.UpsertConversation(&store.Conversation{
				ChatID:   s.ChatID,
				PeerID:   s.Peer.ID,
				PeerName: s.Peer.Name,
			})
		}
	}
	a.mu.Lock()
	a.summaries = summaries
	a.mu.Unlock()
}

func (a *App) refreshList() {
	a.mu.Lock()
	summaries := a.summaries
	a.mu.Unlock()
	a.list.Update(summaries, a.agg.Counts())
	a.statusBar.SetUnread(a.agg.Total())
}

// watch translates bus events into view updates on the UI thread.
func (a *App) watch() {
	ch, unsub := a.bus.Subscribe("", 512)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSockConnected, bus.KindSockDisconnected:
		connected := evt.Kind == bus.KindSockConnected
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetConnected(connected)
		})
	case bus.KindChatTimeline, bus.KindChatTyping:
		session := a.currentSession()
		if session == nil {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.Update(session.Messages(), session.TypingActive())
		})
	case bus.KindUnreadChanged:
		a.app.QueueUpdateDraw(a.refreshList)
	case bus.KindPresenceChanged:
		change, ok := evt.Payload.(presence.Change)
		if !ok {
			return
		}
		session := a.currentSession()
		if session == nil || session.Peer().ID != change.UserID {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetHeader(session.Peer().Name, a.presenceLine(change.UserID))
		})
	case bus.KindMessageUpserted:
		a.app.QueueUpdateDraw(func() {
			if page, _ := a.pages.GetFrontPage(); page == "chats" {
				a.refreshList()
			}
		})
	}
}

// Run starts the TUI application. Blocks until quit.
func (a *App) Run() error {
	go func() {
		a.loadConversations()
		a.app.QueueUpdateDraw(a.refreshList)
	}()
	go a.watch()

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	if session := a.setSession(nil); session != nil {
		session.Close()
	}
	a.cancel()
	a.app.Stop()
}
