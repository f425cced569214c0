package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/abelhavalos/contacts/pkg/model"
)

type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	byEmail       map[string]string // normalized email -> userID
	profiles      map[string]model.Profile
	contacts      map[string]map[string]bool // userID -> contactIDs
	communities   map[string]*model.Community
	events        map[string]model.Event
	conversations map[string]*model.Conversation // convID -> conversation
	dmIndex       map[string]string              // pair key -> convID
	communityConv map[string]string              // communityID -> convID
	messages      map[string][]model.Message     // convID -> messages
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*model.User),
		byEmail:       make(map[string]string),
		profiles:      make(map[string]model.Profile),
		contacts:      make(map[string]map[string]bool),
		communities:   make(map[string]*model.Community),
		events:        make(map[string]model.Event),
		conversations: make(map[string]*model.Conversation),
		dmIndex:       make(map[string]string),
		communityConv: make(map[string]string),
		messages:      make(map[string][]model.Message),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = &u
	s.byEmail[email] = u.ID
	out := u
	return &out, nil
}

func (s *MemoryStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) User(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrNotFound
	}
	p := s.profiles[userID]
	return &p, nil
}

func (s *MemoryStore) PutProfile(ctx context.Context, userID string, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	s.profiles[userID] = p
	return nil
}

func (s *MemoryStore) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Contact{}
	for id := range s.contacts[userID] {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		out = append(out, model.Contact{ContactID: u.ID, FullName: u.FullName, Email: u.Email, AvatarURL: u.AvatarURL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *MemoryStore) PutCommunity(ctx context.Context, c model.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Members = append([]string(nil), c.Members...)
	s.communities[c.ID] = &c
	return nil
}

func (s *MemoryStore) Community(ctx context.Context, id string) (*model.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communities[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	out.Members = append([]string(nil), c.Members...)
	return &out, nil
}

func (s *MemoryStore) Communities(ctx context.Context) ([]model.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Community, 0, len(s.communities))
	for _, c := range s.communities {
		cp := *c
		cp.Members = append([]string(nil), c.Members...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PutEvent(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events[e.ID] = e
	return nil
}

func (s *MemoryStore) Events(ctx context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *MemoryStore) DMConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := PairKey(userA, userB)
	if id, ok := s.dmIndex[key]; ok {
		return copyConversation(s.conversations[id]), nil
	}

	members := []string{userA, userB}
	sort.Strings(members)
	conv := &model.Conversation{ID: uuid.NewString(), Mode: model.ModePrivate, Members: members}
	s.conversations[conv.ID] = conv
	s.dmIndex[key] = conv.ID
	s.addContactLocked(userA, userB)
	s.addContactLocked(userB, userA)
	return copyConversation(conv), nil
}

func (s *MemoryStore) addContactLocked(userID, contactID string) {
	if s.contacts[userID] == nil {
		s.contacts[userID] = make(map[string]bool)
	}
	s.contacts[userID][contactID] = true
}

func (s *MemoryStore) CommunityConversation(ctx context.Context, communityID, userID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	community, ok := s.communities[communityID]
	if !ok {
		return nil, ErrNotFound
	}
	if !contains(community.Members, userID) {
		community.Members = append(community.Members, userID)
	}

	id, ok := s.communityConv[communityID]
	if !ok {
		id = uuid.NewString()
		s.conversations[id] = &model.Conversation{ID: id, Mode: model.ModeCommunity, CommunityID: communityID}
		s.communityConv[communityID] = id
	}
	conv := s.conversations[id]
	if !conv.HasMember(userID) {
		conv.Members = append(conv.Members, userID)
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m model.Message) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return nil, false, ErrNotFound
	}
	if m.ClientID != "" {
		for _, existing := range s.messages[m.ConversationID] {
			if existing.ClientID == m.ClientID && existing.SenderID == m.SenderID {
				return &existing, false, nil
			}
		}
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return &m, true, nil
}

func (s *MemoryStore) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	out := append([]model.Message{}, s.messages[conversationID]...)
	model.SortMessages(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	return &out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
