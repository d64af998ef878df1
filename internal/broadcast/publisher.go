package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"vitalwatch/internal/config"
)

// ErrNoState is returned by Latest when nothing has been published for a subject.
var ErrNoState = errors.New("broadcast: no state published")

// Publisher mirrors the dashboard state into Redis: the latest value under a
// key with a TTL, and every update on a pub/sub channel of the same name.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.ChannelPrefix, cfg.StateTTL, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "vitalwatch"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Key returns the key and channel name used for a subject.
func (p *Publisher) Key(subjectID string) string {
	return p.prefix + ":" + subjectID + ":state"
}

// Publish stores payload as the subject's latest state and announces it.
func (p *Publisher) Publish(ctx context.Context, subjectID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	key := p.Key(subjectID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, p.ttl)
		pipe.Publish(ctx, key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish state %s: %w", key, err)
	}
	p.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("state published")
	return nil
}

// Latest returns the most recently published state for a subject.
func (p *Publisher) Latest(ctx context.Context, subjectID string) (json.RawMessage, error) {
	data, err := p.client.Get(ctx, p.Key(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return json.RawMessage(data), nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
