package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RelayChannel is the Redis pub/sub channel shared by all server instances
const RelayChannel = "productsync:events"

type envelope struct {
	OwnerID string          `json:"ownerId"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// RedisRelay fans events out through Redis so every server instance delivers
// them to its own hub. The local copy normally arrives through the
// subscription like everyone else's.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
}

// NewRedisRelay connects to redisURL and verifies the server is reachable
func NewRedisRelay(ctx context.Context, redisURL string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisRelay{client: client, hub: hub}, nil
}

// Publish sends ev to every instance. Falls back to local delivery if Redis
// rejects the publish so the owner's clients on this instance still hear it.
func (r *RedisRelay) Publish(ownerID string, ev Event, exclude string) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode live event")
		return
	}
	data, err := json.Marshal(envelope{OwnerID: ownerID, Exclude: exclude, Frame: frame})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode relay envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, RelayChannel, data).Err(); err != nil {
		log.Error().Err(err).Msg("redis publish failed, delivering locally")
		r.hub.Deliver(ownerID, frame, exclude)
	}
}

// Run subscribes to the relay channel and forwards envelopes to the local hub
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Info().Str("channel", RelayChannel).Msg("redis relay subscribed")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay envelope")
				continue
			}
			r.hub.Deliver(env.OwnerID, env.Frame, env.Exclude)

		case <-ctx.Done():
			return
		}
	}
}

// Close releases the Redis connection
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
