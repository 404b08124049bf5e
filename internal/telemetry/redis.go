package telemetry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
)

// Redis key suffixes under the configured prefix.
const (
	RedisKeyRecent    = "captures:recent"
	RedisKeySightings = "sightings"
	RedisKeyOutcomes  = "outcomes"
	RedisKeyNames     = "player_names"
	RedisKeyPasswords = "passwords"
)

// RedisExporter keeps a capped list of recent captures and running counters
// per source address, outcome, player name and password.
type RedisExporter struct {
	client   *redis.Client
	prefix   string
	limit    int64
	metadata map[string]interface{}
}

// NewRedisExporter connects and pings the server.
func NewRedisExporter(ctx context.Context, cfg config.RedisConfig, metadata map[string]interface{}) (*RedisExporter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	limit := int64(cfg.RecentLimit)
	if limit <= 0 {
		limit = 1000
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis connected")
	return &RedisExporter{
		client:   client,
		prefix:   cfg.KeyPrefix,
		limit:    limit,
		metadata: metadata,
	}, nil
}

// Key returns the full key for a suffix.
func (e *RedisExporter) Key(suffix string) string {
	if e.prefix == "" {
		return suffix
	}
	return e.prefix + ":" + suffix
}

func (e *RedisExporter) Name() string { return "redis" }

// Export writes the capture and its counters in one transaction.
func (e *RedisExporter) Export(ctx context.Context, event events.Event) error {
	data, err := encodeMessage(e.metadata, event)
	if err != nil {
		return fmt.Errorf("failed to marshal Redis capture: %w", err)
	}

	pipe := e.client.TxPipeline()
	pipe.LPush(ctx, e.Key(RedisKeyRecent), data)
	pipe.LTrim(ctx, e.Key(RedisKeyRecent), 0, e.limit-1)
	pipe.HIncrBy(ctx, e.Key(RedisKeySightings), event.RemoteAddr, 1)
	pipe.HIncrBy(ctx, e.Key(RedisKeyOutcomes), string(event.Outcome), 1)
	if name, ok := event.Field(events.FieldPlayerName); ok {
		pipe.ZIncrBy(ctx, e.Key(RedisKeyNames), 1, name)
	}
	if password, ok := event.Field(events.FieldPasswordAttempt); ok {
		pipe.ZIncrBy(ctx, e.Key(RedisKeyPasswords), 1, password)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis export failed: %w", err)
	}
	return nil
}

// Shutdown closes the client.
func (e *RedisExporter) Shutdown(context.Context) error {
	return e.client.Close()
}
