// Package publish mirrors lock visual state into Redis hashes and channels.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/machine"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Publisher writes lock state to Redis: HSET <prefix><id> and PUBLISH <prefix><id>.
type Publisher struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Publisher{client: client, prefix: prefix}
}

// Key returns the hash key and channel name for a lock.
func (p *Publisher) Key(lockID string) string {
	return p.prefix + lockID
}

// PublishVisual stores the visual state and notifies subscribers in one transaction.
func (p *Publisher) PublishVisual(ctx context.Context, v machine.VisualState) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal visual state: %w", err)
	}

	key := p.Key(v.LockID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, visualFields(v))
	pipe.Publish(ctx, key, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish visual state: %w", err)
	}
	return nil
}

// PublishBattery stores the battery indicator and notifies subscribers.
func (p *Publisher) PublishBattery(ctx context.Context, b machine.Battery) error {
	payload, err := json.Marshal(map[string]any{"type": "battery", "lock_id": b.LockID, "indicator": b.Indicator})
	if err != nil {
		return fmt.Errorf("failed to marshal battery indicator: %w", err)
	}

	key := p.Key(b.LockID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, batteryFields(b))
	pipe.Publish(ctx, key, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish battery indicator: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func visualFields(v machine.VisualState) map[string]any {
	return map[string]any{
		"state":       string(v.State),
		"phase":       string(v.Phase),
		"easing":      string(v.Easing),
		"direction":   v.Direction,
		"step_ms":     strconv.FormatInt(v.StepDuration.Milliseconds(), 10),
		"instance_id": v.InstanceID,
		"updated_at":  v.At.UTC().Format(time.RFC3339Nano),
	}
}

func batteryFields(b machine.Battery) map[string]any {
	return map[string]any{
		"battery:show":  strconv.FormatBool(b.Indicator.Show),
		"battery:level": strconv.FormatFloat(b.Indicator.LevelPercent, 'f', -1, 64),
		"battery:color": b.Indicator.Color,
	}
}
