package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"feedcast/models"
)

const (
	itemKeyPrefix = "article:"
	recentKey     = "articles:recent"
	expiryKey     = "articles:expiry"
	scanBatchSize = 100

	// Upper bound on index members dropped by one prune
	pruneBatchSize = 500
)

// pruneScript drops ids whose items have expired from both index sets.
// KEYS[1] recency set, KEYS[2] expiry set, ARGV[1] now in ms, ARGV[2] batch.
var pruneScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
	redis.call('ZREM', KEYS[2], unpack(ids))
end
return #ids
`)

// RedisConfig holds the connection settings of a Redis store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each item as a JSON string with a TTL, plus a sorted set
// of ids scored by timestamp for recency queries. A second sorted set scores
// the same ids by expiry so Put can drop members whose items are gone.
type RedisStore struct {
	client *redis.Client

	// Clock used for index expiry, time.Now when nil
	Now func() time.Time
}

// Dial connects to Redis and verifies the connection
func Dial(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, Unavailable("ping", fmt.Errorf("redis %s: %w", config.Addr, err))
	}

	log.WithFields(log.Fields{
		"addr": config.Addr,
		"db":   config.DB,
	}).Info("Connected to Redis")

	return NewRedisStore(client), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func itemKey(id string) string {
	return itemKeyPrefix + id
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, itemKey(id)).Result()
	if err != nil {
		return false, Unavailable("exists", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Put(ctx context.Context, item models.Item, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.ID, err)
	}

	now := s.now()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, itemKey(item.ID), payload, ttl)
		pipe.ZAdd(ctx, recentKey, redis.Z{
			Score:  float64(item.Timestamp.UnixMilli()),
			Member: item.ID,
		})
		pipe.ZAdd(ctx, expiryKey, redis.Z{
			Score:  float64(now.Add(ttl).UnixMilli()),
			Member: item.ID,
		})
		return nil
	})
	if err != nil {
		return Unavailable("put", err)
	}

	if err := s.prune(ctx, now); err != nil {
		log.WithError(err).Warn("Failed to prune recency index")
	}
	return nil
}

// prune removes index members whose items expired before now
func (s *RedisStore) prune(ctx context.Context, now time.Time) error {
	n, err := pruneScript.Run(ctx, s.client, []string{recentKey, expiryKey}, now.UnixMilli(), pruneBatchSize).Int()
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("pruned", n).Debug("Pruned expired ids from recency index")
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]models.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		items []models.Item
		stale []any
		start int64
	)

	// Page through the ranking until enough live items are found
	for len(items) < limit {
		stop := start + int64(limit-len(items)) - 1
		ids, err := s.client.ZRevRange(ctx, recentKey, start, stop).Result()
		if err != nil {
			return nil, Unavailable("recent", err)
		}
		if len(ids) == 0 {
			break
		}
		start = stop + 1

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = itemKey(id)
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, Unavailable("recent", err)
		}

		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				stale = append(stale, ids[i])
				continue
			}
			var item models.Item
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				log.WithFields(log.Fields{
					"id":    ids[i],
					"error": err,
				}).Warn("Dropping undecodable item")
				stale = append(stale, ids[i])
				continue
			}
			items = append(items, item)
		}
	}

	if len(stale) > 0 {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, recentKey, stale...)
			pipe.ZRem(ctx, expiryKey, stale...)
			return nil
		})
		if err != nil {
			log.WithError(err).Warn("Failed to prune recency index")
		}
	}

	return items, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	var (
		cursor  uint64
		deleted int64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, itemKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return Unavailable("clear", fmt.Errorf("scan keys: %w", err))
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return Unavailable("clear", fmt.Errorf("delete keys: %w", err))
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := s.client.Del(ctx, recentKey, expiryKey).Err(); err != nil {
		return Unavailable("clear", err)
	}

	log.WithField("deleted", deleted).Info("Cleared Redis store")
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
