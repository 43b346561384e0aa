package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:online"

// PresenceRegistry tracks last-seen times of online users in a sorted set
type PresenceRegistry struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPresenceRegistry creates a presence registry on top of a Redis client
func NewPresenceRegistry(client *redis.Client, logger *slog.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		client: client,
		logger: logger,
	}
}

// Touch records that the user was seen at the given time
func (p *PresenceRegistry) Touch(ctx context.Context, userID string, at time.Time) error {
	err := p.client.ZAdd(ctx, presenceKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("touching presence: %w", err)
	}
	return nil
}

// Online returns users seen at or after since
func (p *PresenceRegistry) Online(ctx context.Context, since time.Time) ([]string, error) {
	users, err := p.client.ZRangeByScore(ctx, presenceKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing online users: %w", err)
	}
	return users, nil
}

// RemoveStale deletes every user last seen strictly before cutoff
func (p *PresenceRegistry) RemoveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := p.client.ZRemRangeByScore(ctx, presenceKey,
		"-inf",
		"("+strconv.FormatInt(cutoff.Unix(), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("removing stale presence: %w", err)
	}
	return removed, nil
}
