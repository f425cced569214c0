package model

import (
	"sort"
	"time"
)

type Mode string

const (
	ModePrivate   Mode = "private"
	ModeCommunity Mode = "community"
)

// Valid reports whether m is one of the known conversation modes.
func (m Mode) Valid() bool {
	return m == ModePrivate || m == ModeCommunity
}

type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Text           string    `json:"text"`
	ClientID       string    `json:"clientId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SortMessages orders msgs oldest first. Equal timestamps fall back to the
// id, compared numerically for the decimal snowflake ids the backend assigns.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		if len(msgs[i].ID) != len(msgs[j].ID) {
			return len(msgs[i].ID) < len(msgs[j].ID)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

type Conversation struct {
	ID          string   `json:"id"`
	Mode        Mode     `json:"mode"`
	CommunityID string   `json:"communityId,omitempty"`
	Members     []string `json:"members"`
}

// HasMember reports whether userID takes part in the conversation.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Addressing string

const (
	// AddressByConversation names a conversation by its backend-assigned id.
	AddressByConversation Addressing = "conversation"
	// AddressByParticipants names a conversation by mode plus participant or community ids.
	AddressByParticipants Addressing = "participants"
)

// Valid reports whether a is one of the known addressing schemes.
func (a Addressing) Valid() bool {
	return a == AddressByConversation || a == AddressByParticipants
}

// Address carries everything needed to name a conversation under either
// addressing scheme. Which fields are sent depends on the scheme in use.
type Address struct {
	ConversationID string
	Mode           Mode
	UserID         string
	OtherID        string
	CommunityID    string
}

type UpdateType string

const (
	UpdateMessage UpdateType = "message"
)

// Update is the notification fanned out to clients watching a conversation.
// It carries no message content; clients reload through the backend.
type Update struct {
	Type           UpdateType `json:"type"`
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId,omitempty"`
	SenderID       string     `json:"senderId,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}
