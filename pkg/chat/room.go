// Package chat keeps one conversation view in sync with the backend: it
// resolves the conversation, renders its history, sends messages with
// immediate local feedback and re-synchronizes on a fixed interval.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/snowflake"
)

var (
	ErrNoSession    = errors.New("chat: no session")
	ErrNoTarget     = errors.New("chat: nobody to talk to")
	ErrUnresolved   = errors.New("chat: conversation not resolved")
	ErrEmptyMessage = errors.New("chat: empty message")
)

// matchWindow bounds how far before a local entry an unechoed backend message
// may be timestamped and still be taken as that entry's authoritative copy.
const matchWindow = time.Minute

// Backend is the part of the backend API a chat view needs.
type Backend interface {
	GetOrCreateDMConversation(ctx context.Context, userA, userB string) (string, error)
	GetOrCreateCommunityConversation(ctx context.Context, communityID, userID string) (string, error)
	GetMessages(ctx context.Context, addr model.Address) ([]model.Message, error)
	SendMessage(ctx context.Context, addr model.Address, msg model.Message) (*model.Message, error)
	GetCommunity(ctx context.Context, communityID string) (*model.Community, error)
	GetConversationMembers(ctx context.Context, conversationID string) ([]model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// Room is the state of one chat view activation. Create it with NewRoom, start
// it with Open and tear it down with Close.
type Room struct {
	backend  Backend
	me       model.Session
	target   Target
	view     View
	interval time.Duration
	now      func() time.Time
	ids      *snowflake.Node
	poller   *Poller

	mu             sync.Mutex
	conversationID string
	confirmed      []model.Message // last authoritative list
	local          []pending       // sent here, not yet seen in confirmed

	loading sync.Mutex
}

// pending is a locally sent entry along with the ids of the confirmed
// messages already listed when it was sent. None of those can be its copy.
type pending struct {
	Entry
	prior map[string]bool
}

type Option func(*Room)

func WithInterval(d time.Duration) Option {
	return func(r *Room) { r.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

// WithIDs sets the generator for client correlation ids.
func WithIDs(n *snowflake.Node) Option {
	return func(r *Room) { r.ids = n }
}

func NewRoom(b Backend, me *model.Session, target Target, view View, opts ...Option) (*Room, error) {
	if me == nil || me.ID == "" {
		return nil, ErrNoSession
	}
	r := &Room{
		backend:  b,
		me:       *me,
		target:   target,
		view:     view,
		interval: DefaultInterval,
		now:      time.Now,
		poller:   NewPoller(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ids == nil {
		node, err := snowflake.NewNode(0)
		if err != nil {
			return nil, err
		}
		r.ids = node
	}
	return r, nil
}

// Open resolves the conversation, renders the header and history, and starts
// polling. Polling starts even when resolution fails; each tick retries it.
func (r *Room) Open(ctx context.Context) error {
	_, err := r.Resolve(ctx)
	if err == nil {
		r.loadHeader(ctx)
		_ = r.Load(ctx)
	}
	r.poller.Start(ctx, r.interval, r.tick)
	return err
}

// Close stops polling. The room must not be reopened.
func (r *Room) Close() {
	r.poller.Stop()
}

// Nudge requests an early poll tick, for example after a push notification.
func (r *Room) Nudge() {
	r.poller.Nudge()
}

func (r *Room) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

// Resolve maps the target to a conversation id through the backend's
// get-or-create call. Once resolved the id is fixed.
func (r *Room) Resolve(ctx context.Context) (string, error) {
	if id := r.ConversationID(); id != "" {
		return id, nil
	}
	if !r.target.complete() {
		return "", ErrNoTarget
	}

	var (
		id  string
		err error
	)
	switch r.target.Mode {
	case model.ModeCommunity:
		id, err = r.backend.GetOrCreateCommunityConversation(ctx, r.target.CommunityID, r.me.ID)
	default:
		id, err = r.backend.GetOrCreateDMConversation(ctx, r.me.ID, r.target.OtherID)
	}
	if err == nil && id == "" {
		err = errors.New("backend returned an empty conversation id")
	}
	if err != nil {
		log.Warn().Err(err).Str("mode", string(r.target.Mode)).Msg("resolve conversation")
		return "", fmt.Errorf("resolve conversation: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conversationID == "" {
		r.conversationID = id
		log.Debug().Str("conversation", id).Str("mode", string(r.target.Mode)).Msg("conversation resolved")
	}
	return r.conversationID, nil
}

func (r *Room) address() (model.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conversationID == "" {
		return model.Address{}, false
	}
	return model.Address{
		ConversationID: r.conversationID,
		Mode:           r.target.Mode,
		UserID:         r.me.ID,
		OtherID:        r.target.OtherID,
		CommunityID:    r.target.CommunityID,
	}, true
}

func (r *Room) loadHeader(ctx context.Context) {
	if r.target.Mode != model.ModeCommunity {
		title := "Chat"
		if u, err := r.backend.GetUser(ctx, r.target.OtherID); err != nil {
			log.Warn().Err(err).Str("user", r.target.OtherID).Msg("load chat header")
		} else if u.FullName != "" {
			title = u.FullName
		}
		r.view.SetTitle(title)
		return
	}

	title := "Community"
	if c, err := r.backend.GetCommunity(ctx, r.target.CommunityID); err != nil {
		log.Warn().Err(err).Str("community", r.target.CommunityID).Msg("load community header")
	} else if c.Name != "" {
		title = c.Name
	}
	r.view.SetTitle(title)

	members, err := r.backend.GetConversationMembers(ctx, r.ConversationID())
	if err != nil {
		log.Warn().Err(err).Msg("load conversation members")
		return
	}
	r.view.SetMembers(members)
}

// Load fetches the authoritative history and re-renders the whole view.
func (r *Room) Load(ctx context.Context) error {
	r.loading.Lock()
	defer r.loading.Unlock()
	return r.load(ctx)
}

func (r *Room) load(ctx context.Context) error {
	addr, ok := r.address()
	if !ok {
		return ErrUnresolved
	}
	msgs, err := r.backend.GetMessages(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Str("conversation", addr.ConversationID).Msg("load messages")
		r.view.ShowError(err)
		return err
	}

	r.mu.Lock()
	r.confirmed = sortMessages(msgs)
	r.local = unmatched(r.local, r.confirmed)
	entries := r.entriesLocked()
	r.mu.Unlock()

	r.show(entries)
	return nil
}

func (r *Room) show(entries []Entry) {
	if len(entries) == 0 {
		r.view.ShowEmpty()
		return
	}
	r.view.Render(entries)
}

// Send appends text to the view immediately, then delivers it. On success the
// local entry gives way to the backend's copy and the history is reloaded; on
// failure the entry stays in view marked failed.
func (r *Room) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	addr, ok := r.address()
	if !ok {
		return ErrUnresolved
	}

	e := Entry{
		Message: model.Message{
			ConversationID: addr.ConversationID,
			SenderID:       r.me.ID,
			SenderName:     r.me.FullName,
			Text:           text,
			ClientID:       r.ids.NextID(),
			Timestamp:      r.now(),
		},
		Mine:   true,
		Status: StatusPending,
	}
	r.mu.Lock()
	r.local = append(r.local, pending{Entry: e, prior: r.confirmedIDsLocked()})
	r.mu.Unlock()
	r.view.Append(e)

	saved, err := r.backend.SendMessage(ctx, addr, e.Message)
	if err != nil {
		log.Warn().Err(err).Str("client_id", e.ClientID).Str("conversation", addr.ConversationID).Msg("send message")
		r.mu.Lock()
		r.setStatusLocked(e.ClientID, StatusFailed)
		entries := r.entriesLocked()
		r.mu.Unlock()
		r.show(entries)
		return err
	}

	if saved != nil {
		r.mu.Lock()
		r.confirmLocked(e.ClientID, *saved)
		r.mu.Unlock()
	}
	return r.Load(ctx)
}

func (r *Room) tick(ctx context.Context) {
	if _, ok := r.address(); !ok {
		if _, err := r.Resolve(ctx); err != nil {
			return
		}
		r.loadHeader(ctx)
	}
	if !r.loading.TryLock() {
		log.Debug().Msg("previous load still in flight, skipping tick")
		return
	}
	defer r.loading.Unlock()
	_ = r.load(ctx)
}

// Entries returns what the view currently shows.
func (r *Room) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entriesLocked()
}

func (r *Room) entriesLocked() []Entry {
	out := make([]Entry, 0, len(r.confirmed)+len(r.local))
	for _, m := range r.confirmed {
		out = append(out, Entry{Message: m, Mine: m.SenderID == r.me.ID})
	}
	for _, p := range r.local {
		out = append(out, p.Entry)
	}
	return out
}

func (r *Room) setStatusLocked(clientID string, s Status) {
	for i := range r.local {
		if r.local[i].ClientID == clientID {
			r.local[i].Status = s
		}
	}
}

// confirmLocked swaps a local entry for the backend's copy until the next
// load supplies the full list.
func (r *Room) confirmLocked(clientID string, saved model.Message) {
	for i := range r.local {
		if r.local[i].ClientID != clientID {
			continue
		}
		if saved.ClientID == "" {
			saved.ClientID = clientID
		}
		r.local = append(r.local[:i], r.local[i+1:]...)
		r.confirmed = sortMessages(append(r.confirmed, saved))
		return
	}
}

func (r *Room) confirmedIDsLocked() map[string]bool {
	ids := make(map[string]bool, len(r.confirmed))
	for _, m := range r.confirmed {
		if m.ID != "" {
			ids[m.ID] = true
		}
	}
	return ids
}

// sortMessages returns a copy of msgs in display order.
func sortMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	model.SortMessages(out)
	return out
}

// unmatched returns the local entries with no authoritative counterpart in
// confirmed. A counterpart carries the same client id or, when the backend
// does not echo client ids, the same sender and text at or after the entry's
// time less matchWindow and was not already listed when the entry was sent.
// Each confirmed message matches at most one entry.
func unmatched(local []pending, confirmed []model.Message) []pending {
	if len(local) == 0 {
		return nil
	}
	used := make([]bool, len(confirmed))
	byClientID := make(map[string]int)
	for i, m := range confirmed {
		if m.ClientID != "" {
			byClientID[m.ClientID] = i
		}
	}

	var out []pending
	for _, e := range local {
		if i, ok := byClientID[e.ClientID]; ok && !used[i] {
			used[i] = true
			continue
		}
		matched := false
		for i, m := range confirmed {
			if used[i] || m.ClientID != "" || e.prior[m.ID] {
				continue
			}
			if m.SenderID == e.SenderID && m.Text == e.Text && !m.Timestamp.Before(e.Timestamp.Add(-matchWindow)) {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, e)
		}
	}
	return out
}
