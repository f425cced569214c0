package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/db"
	"github.com/abelhavalos/contacts/pkg/model"
)

// ScyllaStore keeps everything in the tables created by db.Migrate.
// Get-or-create of conversations goes through a lightweight transaction on
// conversation_index so concurrent first calls agree on one id.
type ScyllaStore struct {
	db *db.Session
}

func NewScyllaStore(session *db.Session) *ScyllaStore {
	return &ScyllaStore{db: session}
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *ScyllaStore) CreateUser(ctx context.Context, u model.User) (*model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	email := NormalizeEmail(u.Email)

	existing := map[string]interface{}{}
	applied, err := s.db.Query(`INSERT INTO users_by_email (email, user_id) VALUES (?, ?) IF NOT EXISTS`, email, u.ID).
		WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, fmt.Errorf("reserve email: %w", err)
	}
	if !applied {
		return nil, ErrEmailTaken
	}

	err = s.db.Query(`INSERT INTO users (id, full_name, email, avatar_url) VALUES (?, ?, ?, ?)`,
		u.ID, u.FullName, u.Email, u.AvatarURL).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *ScyllaStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var id string
	err := s.db.Query(`SELECT user_id FROM users_by_email WHERE email = ?`, NormalizeEmail(email)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.User(ctx, id)
}

func (s *ScyllaStore) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.Query(`SELECT id, full_name, email, avatar_url FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(&u.ID, &u.FullName, &u.Email, &u.AvatarURL)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *ScyllaStore) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.Query(`SELECT bio, location, phone FROM users WHERE id = ?`, userID).
		WithContext(ctx).Scan(&p.Bio, &p.Location, &p.Phone)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *ScyllaStore) PutProfile(ctx context.Context, userID string, p model.Profile) error {
	if _, err := s.User(ctx, userID); err != nil {
		return err
	}
	return s.db.Query(`UPDATE users SET bio = ?, location = ?, phone = ? WHERE id = ?`,
		p.Bio, p.Location, p.Phone, userID).WithContext(ctx).Exec()
}

func (s *ScyllaStore) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	iter := s.db.Query(`SELECT contact_id FROM contacts WHERE user_id = ?`, userID).WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	out := []model.Contact{}
	for _, id := range ids {
		u, err := s.User(ctx, id)
		if errors.Is(err, ErrNotFound) {
			log.Warn().Str("user", userID).Str("contact", id).Msg("contact without user row")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, model.Contact{ContactID: u.ID, FullName: u.FullName, Email: u.Email, AvatarURL: u.AvatarURL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *ScyllaStore) PutCommunity(ctx context.Context, c model.Community) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.db.Query(`UPDATE communities SET name = ?, description = ? WHERE id = ?`,
		c.Name, c.Description, c.ID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("put community: %w", err)
	}
	if len(c.Members) > 0 {
		return s.db.Query(`UPDATE communities SET members = members + ? WHERE id = ?`, c.Members, c.ID).
			WithContext(ctx).Exec()
	}
	return nil
}

func (s *ScyllaStore) Community(ctx context.Context, id string) (*model.Community, error) {
	var c model.Community
	err := s.db.Query(`SELECT id, name, description, members FROM communities WHERE id = ?`, id).
		WithContext(ctx).Scan(&c.ID, &c.Name, &c.Description, &c.Members)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *ScyllaStore) Communities(ctx context.Context) ([]model.Community, error) {
	iter := s.db.Query(`SELECT id, name, description, members FROM communities`).WithContext(ctx).Iter()
	out := []model.Community{}
	var c model.Community
	for iter.Scan(&c.ID, &c.Name, &c.Description, &c.Members) {
		out = append(out, c)
		c = model.Community{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *ScyllaStore) PutEvent(ctx context.Context, e model.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return s.db.Query(`INSERT INTO events (id, title, description, event_date, location) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Date, e.Location).WithContext(ctx).Exec()
}

func (s *ScyllaStore) Events(ctx context.Context) ([]model.Event, error) {
	iter := s.db.Query(`SELECT id, title, description, event_date, location FROM events`).WithContext(ctx).Iter()
	out := []model.Event{}
	var e model.Event
	for iter.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location) {
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// claim returns the conversation registered under key, registering conv when
// there is none yet. The loser of a concurrent first call drops its row.
func (s *ScyllaStore) claim(ctx context.Context, key string, conv model.Conversation) (string, error) {
	var id string
	err := s.db.Query(`SELECT conversation_id FROM conversation_index WHERE index_key = ?`, key).
		WithContext(ctx).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, gocql.ErrNotFound) {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}

	err = s.db.Query(`INSERT INTO conversations (id, mode, community_id, members) VALUES (?, ?, ?, ?)`,
		conv.ID, string(conv.Mode), conv.CommunityID, conv.Members).WithContext(ctx).Exec()
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	existing := map[string]interface{}{}
	applied, err := s.db.Query(`INSERT INTO conversation_index (index_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		key, conv.ID).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return "", fmt.Errorf("register %s: %w", key, err)
	}
	if applied {
		log.Info().Str("conversation", conv.ID).Str("key", key).Msg("created conversation")
		return conv.ID, nil
	}

	winner, _ := existing["conversation_id"].(string)
	if err := s.db.Query(`DELETE FROM conversations WHERE id = ?`, conv.ID).WithContext(ctx).Exec(); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("drop losing conversation row")
	}
	if winner == "" {
		return "", fmt.Errorf("register %s: lost race without a winner", key)
	}
	return winner, nil
}

func (s *ScyllaStore) DMConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	members := []string{userA, userB}
	sort.Strings(members)
	id, err := s.claim(ctx, PairKey(userA, userB), model.Conversation{
		ID:      uuid.NewString(),
		Mode:    model.ModePrivate,
		Members: members,
	})
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO contacts (user_id, contact_id) VALUES (?, ?)`, userA, userB)
	batch.Query(`INSERT INTO contacts (user_id, contact_id) VALUES (?, ?)`, userB, userA)
	if err := s.db.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("link contacts: %w", err)
	}
	return s.Conversation(ctx, id)
}

func (s *ScyllaStore) CommunityConversation(ctx context.Context, communityID, userID string) (*model.Conversation, error) {
	if _, err := s.Community(ctx, communityID); err != nil {
		return nil, err
	}
	id, err := s.claim(ctx, "community:"+communityID, model.Conversation{
		ID:          uuid.NewString(),
		Mode:        model.ModeCommunity,
		CommunityID: communityID,
	})
	if err != nil {
		return nil, err
	}

	joined := []string{userID}
	batch := s.db.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batch.Query(`UPDATE communities SET members = members + ? WHERE id = ?`, joined, communityID)
	batch.Query(`UPDATE conversations SET members = members + ? WHERE id = ?`, joined, id)
	if err := s.db.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("join community %s: %w", communityID, err)
	}
	return s.Conversation(ctx, id)
}

func (s *ScyllaStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		c    model.Conversation
		mode string
	)
	err := s.db.Query(`SELECT id, mode, community_id, members FROM conversations WHERE id = ?`, id).
		WithContext(ctx).Scan(&c.ID, &mode, &c.CommunityID, &c.Members)
	if err != nil {
		return nil, notFound(err)
	}
	c.Mode = model.Mode(mode)
	return &c, nil
}

func (s *ScyllaStore) AppendMessage(ctx context.Context, m model.Message) (*model.Message, bool, error) {
	id, err := strconv.ParseInt(m.ID, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("message id %q: %w", m.ID, err)
	}

	if m.ClientID != "" {
		existing := map[string]interface{}{}
		applied, err := s.db.Query(`INSERT INTO message_client_ids (conversation_id, sender_id, client_id, message_id) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			m.ConversationID, m.SenderID, m.ClientID, id).WithContext(ctx).MapScanCAS(existing)
		if err != nil {
			return nil, false, fmt.Errorf("claim client id: %w", err)
		}
		if !applied {
			first, _ := existing["message_id"].(int64)
			stored, err := s.message(ctx, m.ConversationID, first)
			if err != nil {
				return nil, false, fmt.Errorf("client id %s already used: %w", m.ClientID, err)
			}
			return stored, false, nil
		}
	}

	err = s.db.Query(`INSERT INTO messages (conversation_id, id, sender_id, sender_name, body, client_id, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, id, m.SenderID, m.SenderName, m.Text, m.ClientID, m.Timestamp).WithContext(ctx).Exec()
	if err != nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	return &m, true, nil
}

func (s *ScyllaStore) message(ctx context.Context, conversationID string, id int64) (*model.Message, error) {
	m := model.Message{ID: strconv.FormatInt(id, 10), ConversationID: conversationID}
	err := s.db.Query(`SELECT sender_id, sender_name, body, client_id, timestamp FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, id).WithContext(ctx).Scan(&m.SenderID, &m.SenderName, &m.Text, &m.ClientID, &m.Timestamp)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *ScyllaStore) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if _, err := s.Conversation(ctx, conversationID); err != nil {
		return nil, err
	}

	iter := s.db.Query(`SELECT id, sender_id, sender_name, body, client_id, timestamp FROM messages WHERE conversation_id = ?`,
		conversationID).WithContext(ctx).Iter()

	out := []model.Message{}
	var (
		id int64
		m  model.Message
	)
	for iter.Scan(&id, &m.SenderID, &m.SenderName, &m.Text, &m.ClientID, &m.Timestamp) {
		m.ID = strconv.FormatInt(id, 10)
		m.ConversationID = conversationID
		out = append(out, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	model.SortMessages(out)
	return out, nil
}

func (s *ScyllaStore) Close() error {
	s.db.Close()
	return nil
}
