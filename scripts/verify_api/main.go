package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/backend"
	"github.com/abelhavalos/contacts/pkg/config"
	"github.com/abelhavalos/contacts/pkg/model"
)

func signup(ctx context.Context, apiAddr, name string, addressing model.Addressing) (*backend.Client, model.User) {
	c := backend.NewClient(apiAddr, backend.WithAddressing(addressing))
	email := fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8])
	res, err := c.Signup(ctx, name, email)
	if err != nil {
		log.Fatal().Err(err).Str("email", email).Msg("signup failed")
	}
	c.SetToken(res.Token)
	log.Info().Str("user", res.User.ID).Str("email", email).Msg("signed up")
	return c, res.User
}

func main() {
	config.Load()
	config.SetupLogging(os.Stderr, "info", true)
	apiAddr := flag.String("api", config.GetEnv("CONTACTS_API_URL", "http://localhost:8081"), "api service address")
	addressing := flag.String("addressing", string(model.AddressByConversation), "conversation or participants")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mode := model.Addressing(*addressing)
	if !mode.Valid() {
		log.Fatal().Str("addressing", *addressing).Msg("-addressing must be conversation or participants")
	}

	alice, a := signup(ctx, *apiAddr, "alice", mode)
	bob, b := signup(ctx, *apiAddr, "bob", mode)

	convID, err := alice.GetOrCreateDMConversation(ctx, a.ID, b.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve DM")
	}
	again, err := bob.GetOrCreateDMConversation(ctx, b.ID, a.ID)
	if err != nil || again != convID {
		log.Fatal().Err(err).Str("first", convID).Str("second", again).Msg("DM resolution is not order independent")
	}

	addr := model.Address{ConversationID: convID, Mode: model.ModePrivate, UserID: a.ID, OtherID: b.ID}
	sent, err := alice.SendMessage(ctx, addr, model.Message{SenderID: a.ID, Text: "hello from verify_api", ClientID: uuid.NewString()})
	if err != nil {
		log.Fatal().Err(err).Msg("send")
	}
	log.Info().Interface("message", sent).Msg("sent")

	bobAddr := model.Address{ConversationID: convID, Mode: model.ModePrivate, UserID: b.ID, OtherID: a.ID}
	msgs, err := bob.GetMessages(ctx, bobAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("history")
	}
	if len(msgs) != 1 || msgs[0].Text != "hello from verify_api" {
		log.Fatal().Interface("messages", msgs).Msg("unexpected history")
	}

	contacts, err := bob.GetContacts(ctx, b.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("contacts")
	}
	log.Info().Str("conversation", convID).Int("messages", len(msgs)).Int("contacts", len(contacts)).Msg("API verified")
}
