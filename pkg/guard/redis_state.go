package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const (
	redirectsKeyPrefix = "redirects:"
	chainKeyPrefix     = "chain:"
	visitsKeyPrefix    = "visits:"
	fingerprintsKey    = "fingerprints"
)

// RedisState shares guard state across the fleet so that trap detection is fleet-wide
type RedisState struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps keys forever
}

// NewRedisState wraps client. Keys are namespaced under prefix.
func NewRedisState(client *redis.Client, prefix string, ttl time.Duration) *RedisState {
	return &RedisState{client: client, prefix: prefix, ttl: ttl}
}

// DialRedisState connects to addr and verifies the connection
func DialRedisState(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisState, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to redis at %s: %w", utils.ErrDatabase, addr, err)
	}
	return NewRedisState(client, prefix, ttl), nil
}

func (r *RedisState) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisState) incr(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %w", utils.ErrDatabase, key, err)
	}
	return incr.Val(), nil
}

func (r *RedisState) IncrRedirects(ctx context.Context, key string) (int64, error) {
	return r.incr(ctx, r.key(redirectsKeyPrefix+key))
}

func (r *RedisState) IncrVisits(ctx context.Context, key string) (int64, error) {
	return r.incr(ctx, r.key(visitsKeyPrefix+key))
}

func (r *RedisState) PushRedirectTarget(ctx context.Context, key, target string, limit int) (int64, error) {
	k := r.key(chainKeyPrefix + key)
	var push *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, k, target)
		if limit > 0 {
			pipe.LTrim(ctx, k, int64(-limit), -1)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: push redirect target %s: %w", utils.ErrDatabase, k, err)
	}
	return push.Val(), nil
}

func (r *RedisState) MarkFingerprint(ctx context.Context, fp string) (bool, error) {
	k := r.key(fingerprintsKey)
	var add *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		add = pipe.SAdd(ctx, k, fp)
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: mark fingerprint: %w", utils.ErrDatabase, err)
	}
	return add.Val() == 0, nil
}

func (r *RedisState) Close() error {
	return r.client.Close()
}
