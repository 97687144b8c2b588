package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyGuest       = "handsign:guest:%s"
	fieldCount     = "count"
	fieldLastReset = "last_reset"

	// guestTTL keeps a guest hash a full period past its last reset.
	guestTTL = 2 * Period
)

// RedisGuestStore keeps guest counters in Redis hashes so that several
// server processes share them.
type RedisGuestStore struct {
	client *redis.Client
}

// NewRedisGuestStore wraps an existing client.
func NewRedisGuestStore(client *redis.Client) *RedisGuestStore {
	return &RedisGuestStore{client: client}
}

// NewRedisGuestStoreFromURL connects to redisURL and pings it.
func NewRedisGuestStoreFromURL(ctx context.Context, redisURL string) (*RedisGuestStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisGuestStore{client: client}, nil
}

// Close closes the underlying client.
func (s *RedisGuestStore) Close() error {
	return s.client.Close()
}

// GetUsage returns the guest's counter or ErrNoUsage.
func (s *RedisGuestStore) GetUsage(ctx context.Context, id string) (Usage, error) {
	vals, err := s.client.HGetAll(ctx, fmt.Sprintf(keyGuest, id)).Result()
	if err != nil {
		return Usage{}, err
	}
	if len(vals) == 0 {
		return Usage{}, ErrNoUsage
	}
	return parseGuestHash(vals)
}

func parseGuestHash(vals map[string]string) (Usage, error) {
	var u Usage
	if raw, ok := vals[fieldCount]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Usage{}, fmt.Errorf("parse guest count: %w", err)
		}
		u.RecognizedCount = n
	}
	if raw, ok := vals[fieldLastReset]; ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Usage{}, fmt.Errorf("parse guest last reset: %w", err)
		}
		t := time.Unix(0, ns).UTC()
		u.LastReset = &t
	}
	return u, nil
}

// ResetUsage zeroes the guest's counter and refreshes its expiry.
func (s *RedisGuestStore) ResetUsage(ctx context.Context, id string, at time.Time) error {
	key := fmt.Sprintf(keyGuest, id)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldCount, 0, fieldLastReset, at.UnixNano())
	pipe.Expire(ctx, key, guestTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// IncrementUsage stores newCount for the guest.
func (s *RedisGuestStore) IncrementUsage(ctx context.Context, id string, newCount int) error {
	return s.client.HSet(ctx, fmt.Sprintf(keyGuest, id), fieldCount, newCount).Err()
}

// AddUsage increments the guest's counter with HINCRBY.
func (s *RedisGuestStore) AddUsage(ctx context.Context, id string) (int, error) {
	n, err := s.client.HIncrBy(ctx, fmt.Sprintf(keyGuest, id), fieldCount, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
