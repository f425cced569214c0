package chat

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/abelhavalos/contacts/pkg/model"
)

var errOffline = errors.New("offline")

// fakeBackend keeps conversations in memory. Setting offline fails every call.
type fakeBackend struct {
	mu            sync.Mutex
	offline       bool
	echoClientIDs bool
	convs         map[string]string // pair or community key -> conversation id
	messages      map[string][]model.Message
	seq           int
	clock         time.Time

	resolveCalls int
	getCalls     int
	sendCalls    int
	getDelay     time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		echoClientIDs: true,
		convs:         map[string]string{},
		messages:      map[string][]model.Message{},
		clock:         time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeBackend) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeBackend) counts() (resolve, get, send int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls, f.getCalls, f.sendCalls
}

func (f *fakeBackend) conversation(key string) string {
	if id, ok := f.convs[key]; ok {
		return id
	}
	f.seq++
	id := "conv-" + strconv.Itoa(f.seq)
	f.convs[key] = id
	return id
}

func (f *fakeBackend) GetOrCreateDMConversation(ctx context.Context, a, b string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.offline {
		return "", errOffline
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return f.conversation("dm:" + pair[0] + ":" + pair[1]), nil
}

func (f *fakeBackend) GetOrCreateCommunityConversation(ctx context.Context, communityID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.offline {
		return "", errOffline
	}
	return f.conversation("community:" + communityID), nil
}

func (f *fakeBackend) GetMessages(ctx context.Context, addr model.Address) ([]model.Message, error) {
	f.mu.Lock()
	delay := f.getDelay
	f.getCalls++
	offline := f.offline
	msgs := append([]model.Message(nil), f.messages[addr.ConversationID]...)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if offline {
		return nil, errOffline
	}
	return msgs, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, addr model.Address, msg model.Message) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.offline {
		return nil, errOffline
	}
	return f.appendLocked(addr.ConversationID, msg), nil
}

// deliver stores msg as if another client had sent it.
func (f *fakeBackend) deliver(conversationID string, msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendLocked(conversationID, msg)
}

func (f *fakeBackend) appendLocked(conversationID string, msg model.Message) *model.Message {
	f.seq++
	f.clock = f.clock.Add(time.Second)
	msg.ID = strconv.Itoa(f.seq)
	msg.ConversationID = conversationID
	msg.Timestamp = f.clock
	if !f.echoClientIDs {
		msg.ClientID = ""
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return &msg
}

func (f *fakeBackend) GetCommunity(ctx context.Context, id string) (*model.Community, error) {
	return &model.Community{ID: id, Name: "Gophers"}, nil
}

func (f *fakeBackend) GetConversationMembers(ctx context.Context, id string) ([]model.User, error) {
	return []model.User{{ID: "u1", FullName: "Ada"}, {ID: "u2", FullName: "Grace"}}, nil
}

func (f *fakeBackend) GetUser(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, FullName: "Grace Hopper"}, nil
}

// recordingView stores what would be on screen.
type recordingView struct {
	mu       sync.Mutex
	title    string
	members  []model.User
	shown    []Entry
	empty    bool
	err      error
	renders  int
	appends  int
	empties  int
}

func (v *recordingView) SetTitle(title string) {
	v.mu.Lock()
	v.title = title
	v.mu.Unlock()
}

func (v *recordingView) SetMembers(m []model.User) {
	v.mu.Lock()
	v.members = m
	v.mu.Unlock()
}

func (v *recordingView) Render(entries []Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown = append([]Entry(nil), entries...)
	v.empty, v.err = false, nil
	v.renders++
}

func (v *recordingView) Append(e Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.empty {
		v.shown, v.empty = nil, false
	}
	v.shown = append(v.shown, e)
	v.appends++
}

func (v *recordingView) ShowEmpty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown, v.empty, v.err = nil, true, nil
	v.empties++
}

func (v *recordingView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown, v.err = nil, err
}

func (v *recordingView) snapshot() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Entry(nil), v.shown...)
}
