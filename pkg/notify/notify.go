// Package notify subscribes to a gateway's conversation updates. An update
// only says that something changed; callers reload through the backend.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
)

const (
	pongWait   = 60 * time.Second
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Subscriber connects to one gateway.
type Subscriber struct {
	base   string
	token  string
	dialer *websocket.Dialer
}

// NewSubscriber takes the gateway's websocket URL, e.g. ws://localhost:8080/ws.
func NewSubscriber(gatewayURL, token string) *Subscriber {
	return &Subscriber{base: gatewayURL, token: token, dialer: websocket.DefaultDialer}
}

func (s *Subscriber) endpoint(conversationID string) (string, error) {
	u, err := url.Parse(s.base)
	if err != nil {
		return "", fmt.Errorf("gateway url: %w", err)
	}
	q := u.Query()
	q.Set("conversation", conversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Listen holds one connection open and calls onUpdate for each update of
// conversationID until ctx ends or the connection drops.
func (s *Subscriber) Listen(ctx context.Context, conversationID string, onUpdate func(model.Update)) error {
	endpoint, err := s.endpoint(conversationID)
	if err != nil {
		return err
	}
	header := http.Header{}
	if s.token != "" {
		header.Add("Authorization", "Bearer "+s.token)
	}

	c, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", s.base, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", s.base, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.Close()
	})
	defer stop()

	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPingHandler(func(data string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read update: %w", err)
		}
		c.SetReadDeadline(time.Now().Add(pongWait))

		dec := json.NewDecoder(bytes.NewReader(frame))
		for {
			var u model.Update
			if err := dec.Decode(&u); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Warn().Err(err).Msg("ignoring undecodable update")
				}
				break
			}
			if u.ConversationID == conversationID {
				onUpdate(u)
			}
		}
	}
}

// Watch keeps Listen running, reconnecting with exponential backoff, until
// ctx ends.
func (s *Subscriber) Watch(ctx context.Context, conversationID string, onUpdate func(model.Update)) {
	backoff := minBackoff
	for {
		start := time.Now()
		err := s.Listen(ctx, conversationID, onUpdate)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		log.Debug().Err(err).Dur("retry", backoff).Str("conversation", conversationID).Msg("gateway connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
