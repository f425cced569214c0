package main

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/store"
)

func (s *Server) issue(u *model.User) (gin.H, error) {
	token, err := s.signer.GenerateToken(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return gin.H{"user": u, "token": token}, nil
}

func (s *Server) signup(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	name := strings.TrimSpace(p.FullName)
	email := strings.TrimSpace(p.Email)
	if name == "" || email == "" {
		return nil, fail("fullName and email are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fail("invalid email address")
	}

	u, err := s.store.CreateUser(ctx, model.User{FullName: name, Email: email})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user", u.ID).Msg("user signed up")
	return s.issue(u)
}

func (s *Server) login(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, fail("email is required")
	}
	u, err := s.store.UserByEmail(ctx, p.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("no account for %s", strings.TrimSpace(p.Email))
	}
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

func (s *Server) getUser(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	if p.UserID == "" {
		return nil, fail("userId is required")
	}
	u, err := s.store.User(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("user not found")
	}
	if err != nil {
		return nil, err
	}
	return gin.H{"user": u}, nil
}

func (s *Server) getProfile(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	if p.UserID == "" {
		return nil, fail("userId is required")
	}
	u, err := s.store.User(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("user not found")
	}
	if err != nil {
		return nil, err
	}
	profile, err := s.store.Profile(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if profile.Avatar == "" {
		profile.Avatar = u.AvatarURL
	}
	return gin.H{"user": u, "profile": profile}, nil
}

// getContacts lists the caller's contacts, never the caller.
func (s *Server) getContacts(ctx context.Context, caller *auth.Claims, p params) (gin.H, error) {
	if p.UserID != "" && p.UserID != caller.UserID {
		return nil, fail("cannot list another user's contacts")
	}
	all, err := s.store.Contacts(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	contacts := make([]model.Contact, 0, len(all))
	for _, c := range all {
		if c.ContactID != caller.UserID {
			contacts = append(contacts, c)
		}
	}
	return gin.H{"contacts": contacts}, nil
}

func (s *Server) getCommunity(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	if p.CommunityID == "" {
		return nil, fail("communityId is required")
	}
	c, err := s.store.Community(ctx, p.CommunityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("community not found")
	}
	if err != nil {
		return nil, err
	}
	return gin.H{"community": c}, nil
}

func (s *Server) getCommunityMembers(ctx context.Context, _ *auth.Claims, p params) (gin.H, error) {
	if p.CommunityID == "" {
		return nil, fail("communityId is required")
	}
	c, err := s.store.Community(ctx, p.CommunityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("community not found")
	}
	if err != nil {
		return nil, err
	}
	members, err := s.users(ctx, c.Members)
	if err != nil {
		return nil, err
	}
	return gin.H{"members": members}, nil
}

func (s *Server) getCommunities(ctx context.Context, _ *auth.Claims, _ params) (gin.H, error) {
	communities, err := s.store.Communities(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{"communities": communities}, nil
}

func (s *Server) getEvents(ctx context.Context, _ *auth.Claims, _ params) (gin.H, error) {
	events, err := s.store.Events(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{"events": events}, nil
}
