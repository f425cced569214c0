package chat

import "github.com/abelhavalos/contacts/pkg/model"

type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	}
	return "confirmed"
}

// Entry is one rendered message.
type Entry struct {
	model.Message
	Mine   bool
	Status Status
}

// View renders a chat. Render replaces everything previously shown and leaves
// the newest message in sight. Calls may come from the poll goroutine and the
// sender concurrently; implementations serialize their own output.
type View interface {
	SetTitle(title string)
	SetMembers(members []model.User)
	Render(entries []Entry)
	Append(e Entry)
	ShowEmpty()
	ShowError(err error)
}
