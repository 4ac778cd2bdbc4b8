package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"projectservice/internal/config"
)

// Message is the envelope published for every committed audit event.
type Message struct {
	TS         string       `json:"ts"`
	Type       string       `json:"type"`
	ProjectID  string       `json:"project_id,omitempty"`
	EntityKind string       `json:"entity_kind"`
	EntityID   string       `json:"entity_id,omitempty"`
	ActorID    string       `json:"actor_id"`
	Payload    EventPayload `json:"payload"`
}

// Publisher fans committed events out to other services.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Message) error { return nil }

// RedisPublisher publishes messages as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, channel: cfg.Channel}
}

// NewPublisher picks the Redis publisher when an address is configured.
func NewPublisher(cfg config.RedisConfig) Publisher {
	if !cfg.Enabled() {
		return NopPublisher{}
	}
	return NewRedisPublisher(cfg)
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, string(b)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.Type, err)
	}
	return nil
}

// Ping checks the connection; used at startup to warn early.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PublishAll delivers msgs in order. Failures are logged and do not stop
// the remaining messages.
func PublishAll(ctx context.Context, p Publisher, msgs []Message) {
	if p == nil {
		return
	}
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event":     m.Type,
				"entity_id": m.EntityID,
			}).Warn("event publish failed")
		}
	}
}
