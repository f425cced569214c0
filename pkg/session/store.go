// Package session caches the logged-in user between runs of the client.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
)

// DefaultKey matches the key the web client used for its local storage entry.
const DefaultKey = "contacts_user"

var ErrNoSession = errors.New("not logged in")

// Store is a durable key-value cache holding at most one session.
// Load returns (nil, nil) when nothing usable is stored.
type Store interface {
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, s model.Session) error
	Clear(ctx context.Context) error
}

// Require loads the session and fails with ErrNoSession when nobody is logged in.
func Require(ctx context.Context, st Store) (*model.Session, error) {
	s, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// decode treats unreadable or incomplete data as an absent session.
func decode(raw []byte) *model.Session {
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable session")
		return nil
	}
	if s.ID == "" {
		return nil
	}
	return &s
}
