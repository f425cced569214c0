package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/abelhavalos/contacts/pkg/chat"
	"github.com/abelhavalos/contacts/pkg/model"
)

const clearScreen = "\033[H\033[2J"

// terminal renders a chat as plain lines. Render redraws the whole screen,
// Append adds one line below the prompt.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	clear   bool
	title   string
	members []model.User
}

func newTerminal(out io.Writer, clear bool) *terminal {
	return &terminal{out: out, clear: clear, title: "Chat"}
}

func (t *terminal) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.title = title
	fmt.Fprintf(t.out, "== %s ==\n", title)
}

func (t *terminal) SetMembers(members []model.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = members
	fmt.Fprintln(t.out, t.memberLine())
}

func (t *terminal) memberLine() string {
	names := make([]string, 0, len(t.members))
	for _, m := range t.members {
		names = append(names, m.FullName)
	}
	return fmt.Sprintf("members (%d): %s", len(names), strings.Join(names, ", "))
}

func (t *terminal) header() {
	if t.clear {
		io.WriteString(t.out, clearScreen)
	}
	fmt.Fprintf(t.out, "== %s ==\n", t.title)
	if len(t.members) > 0 {
		fmt.Fprintln(t.out, t.memberLine())
	}
}

func (t *terminal) Render(entries []chat.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header()
	for _, e := range entries {
		fmt.Fprintln(t.out, formatEntry(e))
	}
	io.WriteString(t.out, "> ")
}

func (t *terminal) Append(e chat.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, formatEntry(e))
}

func (t *terminal) ShowEmpty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header()
	fmt.Fprintln(t.out, "No messages yet. Say hello!")
	io.WriteString(t.out, "> ")
}

func (t *terminal) ShowError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header()
	fmt.Fprintf(t.out, "Could not load messages: %v\n", err)
	io.WriteString(t.out, "> ")
}

func formatEntry(e chat.Entry) string {
	who := e.SenderName
	if e.Mine {
		who = "You"
	} else if who == "" {
		who = e.SenderID
	}
	line := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Local().Format("15:04"), who, e.Text)
	switch e.Status {
	case chat.StatusPending:
		line += " (sending)"
	case chat.StatusFailed:
		line += " (failed)"
	}
	return line
}
