package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
)

// Hub fans conversation updates out to the websocket clients watching each
// conversation.
type Hub struct {
	clients    map[string]map[*Client]bool // conversation_id -> clients
	broadcast  chan model.Update
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan model.Update, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Publish queues u for delivery. It returns false once the hub has stopped.
func (h *Hub) Publish(u model.Update) bool {
	select {
	case h.broadcast <- u:
		return true
	case <-h.done:
		return false
	}
}

// Count reports how many clients watch a conversation.
func (h *Hub) Count(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[conversationID])
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ConversationID] == nil {
				h.clients[client.ConversationID] = make(map[*Client]bool)
			}
			h.clients[client.ConversationID][client] = true
			h.mu.Unlock()
			log.Info().Str("user", client.ID).Str("conversation", client.ConversationID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ConversationID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.ConversationID)
					}
					log.Info().Str("user", client.ID).Str("conversation", client.ConversationID).Msg("client unregistered")
				}
			}
			h.mu.Unlock()

		case u := <-h.broadcast:
			payload, err := json.Marshal(u)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal update")
				continue
			}
			h.mu.Lock()
			if clients, ok := h.clients[u.ConversationID]; ok {
				for client := range clients {
					select {
					case client.send <- payload:
					default:
						// too slow; the client falls back to polling after reconnecting
						close(client.send)
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, u.ConversationID)
				}
			}
			h.mu.Unlock()
		}
	}
}
