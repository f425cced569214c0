package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/events"
	"github.com/abelhavalos/contacts/pkg/model"
	"github.com/abelhavalos/contacts/pkg/snowflake"
	"github.com/abelhavalos/contacts/pkg/store"
)

// params is the union of every module's request fields. The body is one flat
// JSON object: {"module": "...", ...}.
type params struct {
	Module         string `json:"module"`
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	UserA          string `json:"userA"`
	UserB          string `json:"userB"`
	UserID         string `json:"userId"`
	OtherID        string `json:"otherId"`
	CommunityID    string `json:"communityId"`
	ConversationID string `json:"conversationId"`
	Mode           string `json:"mode"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	ClientID       string `json:"clientId"`
}

type handlerFunc func(ctx context.Context, caller *auth.Claims, p params) (gin.H, error)

type route struct {
	public bool
	fn     handlerFunc
}

// failure is a business error reported to the caller in the response
// envelope.
type failure struct {
	msg string
}

func (f *failure) Error() string { return f.msg }

func fail(format string, args ...any) error {
	return &failure{msg: fmt.Sprintf(format, args...)}
}

type Server struct {
	store      store.Store
	signer     *auth.Signer
	ids        *snowflake.Node
	events     events.Publisher
	addressing model.Addressing
	now        func() time.Time
	routes     map[string]route
}

func NewServer(st store.Store, signer *auth.Signer, ids *snowflake.Node, pub events.Publisher, addressing model.Addressing) *Server {
	if pub == nil {
		pub = events.Nop{}
	}
	s := &Server{
		store:      st,
		signer:     signer,
		ids:        ids,
		events:     pub,
		addressing: addressing,
		now:        time.Now,
	}
	s.routes = map[string]route{
		"signup":                           {public: true, fn: s.signup},
		"login":                            {public: true, fn: s.login},
		"getOrCreateDMConversation":        {fn: s.getOrCreateDMConversation},
		"getOrCreateCommunityConversation": {fn: s.getOrCreateCommunityConversation},
		"getMessages":                      {fn: s.getMessages},
		"sendMessage":                      {fn: s.sendMessage},
		"getCommunity":                     {fn: s.getCommunity},
		"getConversationMembers":           {fn: s.getConversationMembers},
		"getCommunityMembers":              {fn: s.getCommunityMembers},
		"getUser":                          {fn: s.getUser},
		"getContacts":                      {fn: s.getContacts},
		"getCommunities":                   {fn: s.getCommunities},
		"getEvents":                        {fn: s.getEvents},
		"getProfile":                       {fn: s.getProfile},
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORSMiddleware())

	r.POST("/", s.dispatch)
	r.POST("/api", s.dispatch)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func (s *Server) dispatch(c *gin.Context) {
	var p params
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rt, ok := s.routes[p.Module]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown module %q", p.Module)})
		return
	}

	var caller *auth.Claims
	if !rt.public {
		claims, ok := s.authenticate(c)
		if !ok {
			return
		}
		caller = claims
	}

	res, err := rt.fn(c.Request.Context(), caller, p)
	if err != nil {
		s.respondError(c, p.Module, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) authenticate(c *gin.Context) (*auth.Claims, bool) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
		return nil, false
	}
	claims, err := s.signer.ValidateToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("rejected token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	c.Set("user_id", claims.UserID)
	c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
	return claims, true
}

func (s *Server) respondError(c *gin.Context, module string, err error) {
	var f *failure
	switch {
	case errors.As(err, &f):
		c.JSON(http.StatusOK, gin.H{"error": f.msg})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrEmailTaken):
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", module).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// users loads the users behind ids, skipping ids with no account.
func (s *Server) users(ctx context.Context, ids []string) ([]model.User, error) {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.store.User(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}
