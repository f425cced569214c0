package main

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/store"
)

func (s *Server) getOrCreateDMConversation(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	if p.UserA == "" || p.UserB == "" {
		return nil, fail("userA and userB are required")
	}
	if p.UserA == p.UserB {
		return nil, fail("cannot open a conversation with yourself")
	}
	if caller.UserID != p.UserA && caller.UserID != p.UserB {
		return nil, fail("not a participant")
	}
	conv, err := s.dm(ctx, p.UserA, p.UserB)
	if err != nil {
		return nil, err
	}
	return gin.H{"conversationId": conv.ID}, nil
}

func (s *Server) dm(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	for _, id := range []string{userA, userB} {
		if _, err := s.store.User(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fail("user %s not found", id)
			}
			return nil, err
		}
	}
	return s.store.DMConversation(ctx, userA, userB)
}

func (s *Server) getOrCreateCommunityConversation(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	if p.CommunityID == "" {
		return nil, fail("communityId is required")
	}
	if p.UserID != "" && p.UserID != caller.UserID {
		return nil, fail("cannot join on behalf of another user")
	}
	conv, err := s.community(ctx, p.CommunityID, caller.UserID)
	if err != nil {
		return nil, err
	}
	return gin.H{"conversationId": conv.ID}, nil
}

func (s *Server) community(ctx context.Context, communityID, userID string) (*model.Conversation, error) {
	conv, err := s.store.CommunityConversation(ctx, communityID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("community %s not found", communityID)
	}
	return conv, err
}

// resolve finds the conversation a getMessages or sendMessage call addresses,
// under the deployment's addressing scheme, and checks the caller may use it.
func (s *Server) resolve(ctx context.Context, caller *auth.Claims, p params) (*model.Conversation, error) {
	var (
		conv *model.Conversation
		err  error
	)
	if s.addressing == model.AddressByParticipants {
		switch model.Mode(p.Mode) {
		case model.ModePrivate:
			if p.UserID != caller.UserID {
				return nil, fail("userId must be the caller")
			}
			if p.OtherID == "" {
				return nil, fail("otherId is required")
			}
			conv, err = s.dm(ctx, p.UserID, p.OtherID)
		case model.ModeCommunity:
			if p.CommunityID == "" {
				return nil, fail("communityId is required")
			}
			conv, err = s.community(ctx, p.CommunityID, caller.UserID)
		default:
			return nil, fail("mode must be %q or %q", model.ModePrivate, model.ModeCommunity)
		}
	} else {
		if p.ConversationID == "" {
			return nil, fail("conversationId is required")
		}
		conv, err = s.store.Conversation(ctx, p.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fail("conversation not found")
		}
	}
	if err != nil {
		return nil, err
	}

	if conv.Mode == model.ModePrivate && !conv.HasMember(caller.UserID) {
		return nil, fail("not a member of this conversation")
	}
	return conv, nil
}

func (s *Server) getConversationMembers(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	if p.ConversationID == "" {
		return nil, fail("conversationId is required")
	}
	conv, err := s.store.Conversation(ctx, p.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	if conv.Mode == model.ModePrivate && !conv.HasMember(caller.UserID) {
		return nil, fail("not a member of this conversation")
	}
	members, err := s.users(ctx, conv.Members)
	if err != nil {
		return nil, err
	}
	return gin.H{"members": members}, nil
}
