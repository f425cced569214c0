// Package events carries conversation updates from the API to the gateways
// over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/abelhavalos/contacts/pkg/model"
)

var ErrBadUpdate = errors.New("bad update")

// Publisher announces that a conversation changed.
type Publisher interface {
	Publish(ctx context.Context, u model.Update) error
	Close() error
}

// Nop drops every update. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, model.Update) error { return nil }
func (Nop) Close() error                                 { return nil }

func Encode(u model.Update) ([]byte, error) {
	if u.ConversationID == "" {
		return nil, fmt.Errorf("%w: no conversation", ErrBadUpdate)
	}
	return json.Marshal(u)
}

func Decode(b []byte) (model.Update, error) {
	var u model.Update
	if err := json.Unmarshal(b, &u); err != nil {
		return u, fmt.Errorf("%w: %v", ErrBadUpdate, err)
	}
	if u.ConversationID == "" {
		return u, fmt.Errorf("%w: no conversation", ErrBadUpdate)
	}
	return u, nil
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		// updates are published inside sendMessage; don't hold the request for a full batch
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Publish writes u keyed by conversation so updates for one conversation
// stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, u model.Update) error {
	value, err := Encode(u)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(u.ConversationID),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish update for %s: %w", u.ConversationID, err)
	}
	log.Debug().Str("conversation", u.ConversationID).Str("message", u.MessageID).Msg("update published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader reader
	retry  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: r, retry: time.Second}
}

// Consume hands every decodable update to handle until ctx is done.
// Read errors are retried after a pause; undecodable records are skipped.
func (c *Consumer) Consume(ctx context.Context, handle func(model.Update)) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Dur("retry", c.retry).Msg("error reading update")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry):
			}
			continue
		}

		u, err := Decode(m.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping record")
			continue
		}
		handle(u)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
