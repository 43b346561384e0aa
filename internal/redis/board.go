package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client and verifies the connection
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// RankingBoard mirrors the open period's entries into sorted sets for fast reads.
// PostgreSQL stays the source of truth; the board can be rebuilt at any time.
type RankingBoard struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankingBoard creates a realtime board on top of a Redis client
func NewRankingBoard(client *redis.Client, logger *slog.Logger) *RankingBoard {
	return &RankingBoard{
		client: client,
		logger: logger,
	}
}

// boardKey returns the Redis key for a period's sorted set
func boardKey(period domain.Period) string {
	return fmt.Sprintf("ranking:%s:realtime", period.ID())
}

// entriesKey returns the Redis key for a period's entry snapshots
func entriesKey(period domain.Period) string {
	return fmt.Sprintf("ranking:%s:entries", period.ID())
}

// setEntryScript writes the entry only if it beats the stored snapshot:
// a lower elapsed time, or the same elapsed time with a higher success rate.
// Writes that lost a race with a better one are dropped.
var setEntryScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], ARGV[1])
if current then
	local stored = cjson.decode(current)
	local elapsed = tonumber(ARGV[2])
	local rate = tonumber(ARGV[3])
	if elapsed > stored.elapsed_seconds then
		return 0
	end
	if elapsed == stored.elapsed_seconds and rate <= stored.success_rate then
		return 0
	end
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
return 1
`)

// SetEntry mirrors the entry unless the board already holds a better one
func (b *RankingBoard) SetEntry(ctx context.Context, period domain.Period, entry domain.RankingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	written, err := setEntryScript.Run(ctx, b.client,
		[]string{boardKey(period), entriesKey(period)},
		entry.UserID,
		formatScore(entry.ElapsedSeconds),
		strconv.FormatFloat(entry.SuccessRate, 'f', -1, 64),
		data,
	).Int()
	if err != nil {
		return fmt.Errorf("setting entry: %w", err)
	}
	if written == 0 {
		b.logger.Debug("board already holds a better entry", "period", period.ID(), "user_id", entry.UserID)
	}
	return nil
}

// Top returns the first n entries ordered by elapsed time, breaking ties by
// update time and then user id. Members tied with the n-th score are read
// too so the cut falls where the database would put it.
func (b *RankingBoard) Top(ctx context.Context, period domain.Period, n int) ([]domain.RankingEntry, error) {
	if n <= 0 {
		return []domain.RankingEntry{}, nil
	}

	head, err := b.client.ZRangeWithScores(ctx, boardKey(period), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	if len(head) == 0 {
		return []domain.RankingEntry{}, nil
	}

	members := make([]string, 0, len(head))
	seen := make(map[string]bool, len(head))
	for _, z := range head {
		member := z.Member.(string)
		members = append(members, member)
		seen[member] = true
	}

	last := formatScore(head[len(head)-1].Score)
	tied, err := b.client.ZRangeByScore(ctx, boardKey(period), &redis.ZRangeBy{Min: last, Max: last}).Result()
	if err != nil {
		return nil, fmt.Errorf("getting tied members: %w", err)
	}
	for _, member := range tied {
		if !seen[member] {
			members = append(members, member)
		}
	}

	entries, err := b.snapshots(ctx, period, members)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return rankedBefore(entries[i], entries[j])
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// snapshots reads the stored entries of members, skipping members without one
func (b *RankingBoard) snapshots(ctx context.Context, period domain.Period, members []string) ([]domain.RankingEntry, error) {
	raw, err := b.client.HMGet(ctx, entriesKey(period), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting entry snapshots: %w", err)
	}

	entries := make([]domain.RankingEntry, 0, len(members))
	for i, value := range raw {
		s, ok := value.(string)
		if !ok {
			b.logger.Warn("board member without snapshot", "period", period.ID(), "user_id", members[i])
			continue
		}
		var entry domain.RankingEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("decoding entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// rankedBefore orders entries the way the ranking table does
func rankedBefore(a, c domain.RankingEntry) bool {
	if a.ElapsedSeconds != c.ElapsedSeconds {
		return a.ElapsedSeconds < c.ElapsedSeconds
	}
	if !a.UpdatedAt.Equal(c.UpdatedAt) {
		return a.UpdatedAt.Before(c.UpdatedAt)
	}
	return a.UserID < c.UserID
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// Rebuild replaces the board of a period with the given entries atomically
func (b *RankingBoard) Rebuild(ctx context.Context, period domain.Period, entries []domain.RankingEntry) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, boardKey(period), entriesKey(period))

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		pipe.ZAdd(ctx, boardKey(period), redis.Z{Score: entry.ElapsedSeconds, Member: entry.UserID})
		pipe.HSet(ctx, entriesKey(period), entry.UserID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding board: %w", err)
	}
	return nil
}
