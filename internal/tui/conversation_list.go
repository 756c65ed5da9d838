package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/rivo/tview"
)

// ConversationList renders conversation summaries with unread badges.
type ConversationList struct {
	*tview.Table
	summaries []chat.Summary
	unread    map[string]int
}

// NewConversationList creates the conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true)
	table.SetTitle(" Chats ")
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorGreen))

	return &ConversationList{
		Table:  table,
		unread: make(map[string]int),
	}
}

// Update refreshes the list with new summaries and unread counts.
func (cl *ConversationList) Update(summaries []chat.Summary, unread map[string]int) {
	cl.summaries = summaries
	cl.unread = unread
	cl.render()
}

// Selected returns the summary under the cursor.
func (cl *ConversationList) Selected() (chat.Summary, bool) {
	row, _ := cl.GetSelection()
	if row < 0 || row >= len(cl.summaries) {
		return chat.Summary{}, false
	}
	return cl.summaries[row], true
}

func (cl *ConversationList) render() {
	cl.Clear()
	for i, s := range cl.summaries {
		name := s.Peer.Name
		if name == "" {
			name = s.ChatID
		}
		badge := ""
		if n := cl.unread[s.ChatID]; n > 0 {
			badge = fmt.Sprintf(" [green](%d)[-]", n)
		}

		preview := ""
		ts := ""
		if s.LastMessage != nil {
			preview = s.LastMessage.Text
			if len(preview) > 40 {
				preview = preview[:40] + "…"
			}
			ts = s.LastMessage.CreatedAt.Local().Format(time.Kitchen)
		}

		cl.SetCell(i, 0, tview.NewTableCell(name+badge).SetExpansion(1))
		cl.SetCell(i, 1, tview.NewTableCell("[gray]"+preview+"[-]").SetExpansion(2))
		cl.SetCell(i, 2, tview.NewTableCell("[gray]"+ts+"[-]").SetAlign(tview.AlignRight))
	}
}
