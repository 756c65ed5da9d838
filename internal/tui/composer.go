package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input line. Every keystroke fires the typing
// callback; Enter fires the send callback.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onTyping func()
}

// NewComposer creates the composer input.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldBackgroundColor(tcell.ColorDefault)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(string) {
		if c.onTyping != nil {
			c.onTyping()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := input.GetText()
		if c.onSend != nil {
			c.onSend(text)
		}
		input.SetText("")
	})

	return c
}

// SetOnSend registers the send callback.
func (c *Composer) SetOnSend(fn func(text string)) { c.onSend = fn }

// SetOnTyping registers the per-keystroke callback.
func (c *Composer) SetOnTyping(fn func()) { c.onTyping = fn }
