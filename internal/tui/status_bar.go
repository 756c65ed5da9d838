package tui

import (
	"fmt"

	"github.com/rivo/tview"
)

// StatusBar displays connection state, profile and the total unread badge.
type StatusBar struct {
	*tview.TextView
	profile   string
	connected bool
	unread    int
}

// NewStatusBar creates the status bar.
func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, profile: profile}
	sb.render()
	return sb
}

// SetConnected updates the connection indicator.
func (sb *StatusBar) SetConnected(connected bool) {
	sb.connected = connected
	sb.render()
}

// SetUnread updates the total unread badge.
func (sb *StatusBar) SetUnread(total int) {
	sb.unread = total
	sb.render()
}

func (sb *StatusBar) render() {
	conn := "[red]offline[-]"
	if sb.connected {
		conn = "[green]online[-]"
	}
	badge := ""
	if sb.unread > 0 {
		badge = fmt.Sprintf(" [green]● %d unread[-]", sb.unread)
	}
	sb.SetText(fmt.Sprintf(" %s │ %s%s", sb.profile, conn, badge))
}
