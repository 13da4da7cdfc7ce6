package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dwizi/assistant-relay/internal/store"
)

const redisKeyPrefix = "assistant-relay:quota:"

// consumeScript keeps the day check and the increment in one round trip.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local today = ARGV[1]
	local limit = tonumber(ARGV[2])

	local day = redis.call('HGET', key, 'day')
	local count = tonumber(redis.call('HGET', key, 'count') or '0')
	if day ~= today then
		count = 0
	end
	if count >= limit then
		return {0, count}
	end
	count = count + 1
	redis.call('HSET', key, 'day', today, 'count', count)
	return {1, count}
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps quota counters in one hash per bot.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (s *RedisStore) key(bot string) string {
	return redisKeyPrefix + bot
}

func (s *RedisStore) ConsumeQuota(ctx context.Context, bot, day string, limit int) (store.QuotaRecord, bool, error) {
	bot = strings.TrimSpace(bot)
	if bot == "" || strings.TrimSpace(day) == "" {
		return store.QuotaRecord{}, false, fmt.Errorf("bot and day are required")
	}
	if limit < 1 {
		record, err := s.QuotaUsage(ctx, bot, day)
		return record, false, err
	}
	values, err := consumeScript.Run(ctx, s.client, []string{s.key(bot)}, day, limit).Int64Slice()
	if err != nil {
		return store.QuotaRecord{}, false, fmt.Errorf("redis consume quota: %w", err)
	}
	if len(values) != 2 {
		return store.QuotaRecord{}, false, fmt.Errorf("redis consume quota: unexpected reply %v", values)
	}
	return store.QuotaRecord{Bot: bot, Day: day, Count: int(values[1])}, values[0] == 1, nil
}

func (s *RedisStore) QuotaUsage(ctx context.Context, bot, day string) (store.QuotaRecord, error) {
	record := store.QuotaRecord{Bot: bot, Day: day}
	values, err := s.client.HGetAll(ctx, s.key(bot)).Result()
	if err != nil {
		return store.QuotaRecord{}, fmt.Errorf("redis quota usage: %w", err)
	}
	if values["day"] != day {
		return record, nil
	}
	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return store.QuotaRecord{}, fmt.Errorf("redis quota usage: parse count: %w", err)
	}
	record.Count = count
	return record, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
