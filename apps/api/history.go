package main

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/model"
)

const maxMessageLength = 4000

func (s *Server) getMessages(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	conv, err := s.resolve(ctx, caller, p)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return gin.H{"messages": msgs}, nil
}

// sendMessage appends a message and echoes the stored copy, client id
// included. A repeated client id from the same sender returns the copy
// stored the first time; the store makes that check atomic.
func (s *Server) sendMessage(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	if p.SenderID != "" && p.SenderID != caller.UserID {
		return nil, fail("senderId must be the caller")
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, fail("text is required")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, fail("message longer than %d characters", maxMessageLength)
	}

	conv, err := s.resolve(ctx, caller, p)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(caller.UserID) {
		return nil, fail("not a member of this conversation")
	}

	sender, err := s.store.User(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	msg := model.Message{
		ID:             strconv.FormatInt(s.ids.Generate(), 10),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		SenderName:     sender.FullName,
		Text:           text,
		ClientID:       p.ClientID,
		Timestamp:      s.now().UTC(),
	}
	stored, created, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !created {
		return gin.H{"message": stored}, nil
	}

	err = s.events.Publish(ctx, model.Update{
		Type:           model.UpdateMessage,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Timestamp:      msg.Timestamp,
	})
	if err != nil {
		// clients still converge by polling
		log.Warn().Err(err).Str("conversation", msg.ConversationID).Msg("update not published")
	}
	return gin.H{"message": msg}, nil
}
