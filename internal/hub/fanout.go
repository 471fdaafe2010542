package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisChannel carries broadcasts between hub processes.
const DefaultRedisChannel = "collab:updates"

// Broadcast is a batch of appended entries announced to other hub processes.
type Broadcast struct {
	Origin   string  `json:"origin"`
	Document string  `json:"document"`
	Entries  []Entry `json:"entries"`
}

// Fanout relays broadcasts between hub processes sharing one Log.
type Fanout interface {
	Publish(ctx context.Context, b Broadcast) error
	// Run delivers broadcasts from every process, including this one, until
	// ctx is done.
	Run(ctx context.Context, deliver func(Broadcast)) error
	Close() error
}

// RedisFanout publishes broadcasts on one Redis pub/sub channel.
type RedisFanout struct {
	client  *redis.Client
	channel string
}

var _ Fanout = (*RedisFanout)(nil)

func NewRedisFanout(ctx context.Context, addr, channel string) (*RedisFanout, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("hub: redis ping addr=%s: %w", addr, err)
	}
	return &RedisFanout{client: client, channel: channel}, nil
}

func (f *RedisFanout) Publish(ctx context.Context, b Broadcast) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("hub: encode broadcast: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("hub: redis publish: %w", err)
	}
	return nil
}

func (f *RedisFanout) Run(ctx context.Context, deliver func(Broadcast)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("hub: redis subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("hub: redis subscription closed")
			}
			var b Broadcast
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				log.Warn().Err(err).Msgf("hub.RedisFanout drop malformed broadcast channel=%s", msg.Channel)
				continue
			}
			deliver(b)
		}
	}
}

func (f *RedisFanout) Close() error {
	return f.client.Close()
}
