package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
)

// Seed is the JSON document loaded at start-up to populate directory data.
type Seed struct {
	Users []struct {
		model.User
		Profile *model.Profile `json:"profile,omitempty"`
	} `json:"users"`
	Communities []model.Community `json:"communities"`
	Events      []model.Event     `json:"events"`
}

func SeedFile(ctx context.Context, st Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return SeedFrom(ctx, st, f)
}

// SeedFrom applies a seed document. Users whose email is already registered
// are skipped so a seed can be applied on every start.
func SeedFrom(ctx context.Context, st Store, r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, u := range seed.Users {
		created, err := st.CreateUser(ctx, u.User)
		if errors.Is(err, ErrEmailTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		if u.Profile != nil {
			if err := st.PutProfile(ctx, created.ID, *u.Profile); err != nil {
				return fmt.Errorf("seed profile %s: %w", u.Email, err)
			}
		}
	}
	for _, c := range seed.Communities {
		if err := st.PutCommunity(ctx, c); err != nil {
			return fmt.Errorf("seed community %s: %w", c.Name, err)
		}
	}
	for _, e := range seed.Events {
		if err := st.PutEvent(ctx, e); err != nil {
			return fmt.Errorf("seed event %s: %w", e.Title, err)
		}
	}

	log.Info().
		Int("users", len(seed.Users)).
		Int("communities", len(seed.Communities)).
		Int("events", len(seed.Events)).
		Msg("seed applied")
	return nil
}
