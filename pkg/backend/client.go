// Package backend is the client side of the Contacts backend API: a single
// POST endpoint taking {"module": <operation>, ...params} and answering with a
// JSON object that either carries the operation's payload or an "error".
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/abelhavalos/contacts/pkg/model"
)

const maxResponseSize = 8 << 20

type Client struct {
	url        string
	http       *http.Client
	addressing model.Addressing

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAddressing(a model.Addressing) Option {
	return func(c *Client) { c.addressing = a }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		http:       &http.Client{},
		addressing: model.AddressByConversation,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token sent with every call.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Addressing() model.Addressing { return c.addressing }

func (c *Client) call(ctx context.Context, module string, params map[string]any, out any) error {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["module"] = module

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", module, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return transportErr(module, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr(module, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportErr(module, err)
	}
	if resp.StatusCode != http.StatusOK {
		// error bodies still follow the envelope when the backend produced them
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return &Error{Op: module, Kind: ErrTransport, Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, env.Error)}
		}
		return &Error{Op: module, Kind: ErrTransport, Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return malformed(module, "decode envelope", err)
	}
	if env.Error != "" {
		return rejected(module, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(module, "decode payload", err)
	}
	return nil
}

// AuthResult is the payload of signup and login.
type AuthResult struct {
	User  model.User
	Token string
}

func (c *Client) auth(ctx context.Context, module string, params map[string]any) (*AuthResult, error) {
	var res struct {
		User  *model.User `json:"user"`
		Token string      `json:"token"`
	}
	if err := c.call(ctx, module, params, &res); err != nil {
		return nil, err
	}
	if res.User == nil || res.User.ID == "" {
		return nil, missing(module, "user")
	}
	return &AuthResult{User: *res.User, Token: res.Token}, nil
}

func (c *Client) Signup(ctx context.Context, fullName, email string) (*AuthResult, error) {
	return c.auth(ctx, ModSignup, map[string]any{"fullName": fullName, "email": email})
}

func (c *Client) Login(ctx context.Context, email string) (*AuthResult, error) {
	return c.auth(ctx, ModLogin, map[string]any{"email": email})
}

func (c *Client) conversationID(ctx context.Context, module string, params map[string]any) (string, error) {
	var res struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.call(ctx, module, params, &res); err != nil {
		return "", err
	}
	if res.ConversationID == "" {
		return "", missing(module, "conversationId")
	}
	return res.ConversationID, nil
}

// GetOrCreateDMConversation resolves the private conversation between two users.
func (c *Client) GetOrCreateDMConversation(ctx context.Context, userA, userB string) (string, error) {
	return c.conversationID(ctx, ModGetOrCreateDMConversation, map[string]any{"userA": userA, "userB": userB})
}

// GetOrCreateCommunityConversation resolves a community's conversation and joins userID to it.
func (c *Client) GetOrCreateCommunityConversation(ctx context.Context, communityID, userID string) (string, error) {
	return c.conversationID(ctx, ModGetOrCreateCommunityConversation, map[string]any{"communityId": communityID, "userId": userID})
}

// addressParams encodes addr under the client's addressing scheme.
func (c *Client) addressParams(addr model.Address) map[string]any {
	if c.addressing != model.AddressByParticipants {
		return map[string]any{"conversationId": addr.ConversationID}
	}
	if addr.Mode == model.ModeCommunity {
		return map[string]any{"mode": string(addr.Mode), "communityId": addr.CommunityID}
	}
	return map[string]any{"mode": string(model.ModePrivate), "userId": addr.UserID, "otherId": addr.OtherID}
}

func (c *Client) GetMessages(ctx context.Context, addr model.Address) ([]model.Message, error) {
	var res struct {
		Messages *[]model.Message `json:"messages"`
	}
	if err := c.call(ctx, ModGetMessages, c.addressParams(addr), &res); err != nil {
		return nil, err
	}
	if res.Messages == nil {
		return nil, missing(ModGetMessages, "messages")
	}
	return *res.Messages, nil
}

// SendMessage appends msg to the addressed conversation. The backend's copy is
// returned when it echoes one; a nil message with a nil error means the
// backend accepted the message without echoing it.
func (c *Client) SendMessage(ctx context.Context, addr model.Address, msg model.Message) (*model.Message, error) {
	params := c.addressParams(addr)
	params["senderId"] = msg.SenderID
	params["text"] = msg.Text
	if msg.ClientID != "" {
		params["clientId"] = msg.ClientID
	}

	var res struct {
		Message *model.Message `json:"message"`
	}
	if err := c.call(ctx, ModSendMessage, params, &res); err != nil {
		return nil, err
	}
	return res.Message, nil
}

func (c *Client) GetCommunity(ctx context.Context, communityID string) (*model.Community, error) {
	var res struct {
		Community *model.Community `json:"community"`
	}
	if err := c.call(ctx, ModGetCommunity, map[string]any{"communityId": communityID}, &res); err != nil {
		return nil, err
	}
	if res.Community == nil {
		return nil, missing(ModGetCommunity, "community")
	}
	return res.Community, nil
}

func (c *Client) members(ctx context.Context, module string, params map[string]any) ([]model.User, error) {
	var res struct {
		Members *[]model.User `json:"members"`
	}
	if err := c.call(ctx, module, params, &res); err != nil {
		return nil, err
	}
	if res.Members == nil {
		return nil, missing(module, "members")
	}
	return *res.Members, nil
}

func (c *Client) GetConversationMembers(ctx context.Context, conversationID string) ([]model.User, error) {
	return c.members(ctx, ModGetConversationMembers, map[string]any{"conversationId": conversationID})
}

func (c *Client) GetCommunityMembers(ctx context.Context, communityID string) ([]model.User, error) {
	return c.members(ctx, ModGetCommunityMembers, map[string]any{"communityId": communityID})
}

func (c *Client) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var res struct {
		User *model.User `json:"user"`
	}
	if err := c.call(ctx, ModGetUser, map[string]any{"userId": userID}, &res); err != nil {
		return nil, err
	}
	if res.User == nil {
		return nil, missing(ModGetUser, "user")
	}
	return res.User, nil
}

func (c *Client) GetContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	var res struct {
		Contacts *[]model.Contact `json:"contacts"`
	}
	if err := c.call(ctx, ModGetContacts, map[string]any{"userId": userID}, &res); err != nil {
		return nil, err
	}
	if res.Contacts == nil {
		return nil, missing(ModGetContacts, "contacts")
	}
	return *res.Contacts, nil
}

func (c *Client) GetCommunities(ctx context.Context) ([]model.Community, error) {
	var res struct {
		Communities *[]model.Community `json:"communities"`
	}
	if err := c.call(ctx, ModGetCommunities, nil, &res); err != nil {
		return nil, err
	}
	if res.Communities == nil {
		return nil, missing(ModGetCommunities, "communities")
	}
	return *res.Communities, nil
}

func (c *Client) GetEvents(ctx context.Context) ([]model.Event, error) {
	var res struct {
		Events *[]model.Event `json:"events"`
	}
	if err := c.call(ctx, ModGetEvents, nil, &res); err != nil {
		return nil, err
	}
	if res.Events == nil {
		return nil, missing(ModGetEvents, "events")
	}
	return *res.Events, nil
}

func (c *Client) GetProfile(ctx context.Context, userID string) (*model.User, *model.Profile, error) {
	var res struct {
		User    *model.User    `json:"user"`
		Profile *model.Profile `json:"profile"`
	}
	if err := c.call(ctx, ModGetProfile, map[string]any{"userId": userID}, &res); err != nil {
		return nil, nil, err
	}
	if res.User == nil {
		return nil, nil, missing(ModGetProfile, "user")
	}
	if res.Profile == nil {
		return nil, nil, missing(ModGetProfile, "profile")
	}
	return res.User, res.Profile, nil
}
