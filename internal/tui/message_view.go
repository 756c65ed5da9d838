package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/rivo/tview"
)

// MessageView renders the open conversation's timeline.
type MessageView struct {
	*tview.TextView
	selfID   string
	peerName string
}

// NewMessageView creates the message thread view.
func NewMessageView(selfID string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)

	return &MessageView{TextView: tv, selfID: selfID}
}

// SetHeader updates the title with peer name and presence.
func (mv *MessageView) SetHeader(peerName, presence string) {
	mv.peerName = peerName
	title := " " + peerName + " "
	if presence != "" {
		title += "· " + presence + " "
	}
	mv.SetTitle(title)
}

// Update re-renders the timeline and scrolls to the bottom.
func (mv *MessageView) Update(msgs []chat.Message, typing bool) {
	var sb strings.Builder
	for _, m := range msgs {
		who := mv.peerName
		color := "aqua"
		if m.Sender == mv.selfID {
			who = "me"
			color = "green"
		}
		ts := m.CreatedAt.Local().Format(time.Kitchen)

		if m.ReplyText != "" {
			fmt.Fprintf(&sb, "  [gray]┃ %s[-]\n", m.ReplyText)
		}
		fmt.Fprintf(&sb, "[%s]%s[-] [gray]%s[-] %s%s\n", color, who, ts, tview.Escape(m.Text), receiptMark(m, m.Sender == mv.selfID))
	}
	if typing {
		fmt.Fprintf(&sb, "[gray]%s is typing…[-]\n", mv.peerName)
	}
	mv.SetText(sb.String())
	mv.ScrollToEnd()
}

func receiptMark(m chat.Message, own bool) string {
	if !own {
		return ""
	}
	switch {
	case m.Failed:
		return " [red]✗ failed[-]"
	case m.Seen:
		return " [blue]✓✓[-]"
	case m.Delivered:
		return " [gray]✓✓[-]"
	case m.ID == "":
		// Optimistic entry still waiting for the server echo.
		return " [gray]…[-]"
	default:
		return " [gray]✓[-]"
	}
}
