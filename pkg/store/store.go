// Package store persists the reference backend's users, directory data,
// conversations and messages.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/abelhavalos/contacts/pkg/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

type Store interface {
	CreateUser(ctx context.Context, u model.User) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	User(ctx context.Context, id string) (*model.User, error)
	Profile(ctx context.Context, userID string) (*model.Profile, error)
	PutProfile(ctx context.Context, userID string, p model.Profile) error
	Contacts(ctx context.Context, userID string) ([]model.Contact, error)

	PutCommunity(ctx context.Context, c model.Community) error
	Community(ctx context.Context, id string) (*model.Community, error)
	Communities(ctx context.Context) ([]model.Community, error)
	PutEvent(ctx context.Context, e model.Event) error
	Events(ctx context.Context) ([]model.Event, error)

	// DMConversation returns the private conversation of the unordered pair
	// {userA, userB}, creating it on first use. Both users become each
	// other's contacts.
	DMConversation(ctx context.Context, userA, userB string) (*model.Conversation, error)
	// CommunityConversation returns the community's conversation, creating it
	// on first use, with userID added to its members.
	CommunityConversation(ctx context.Context, communityID, userID string) (*model.Conversation, error)
	Conversation(ctx context.Context, id string) (*model.Conversation, error)

	// AppendMessage stores m and returns it with created set. When m carries a
	// client id the sender already used in the conversation, nothing is stored
	// and the earlier copy comes back with created unset.
	AppendMessage(ctx context.Context, m model.Message) (stored *model.Message, created bool, err error)
	// Messages returns the conversation's messages, oldest first.
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)

	Close() error
}

// PairKey names the unordered user pair {a, b}.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// NormalizeEmail is the lookup form of an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
