package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nightfeed/mazeshow/cache/local"
	cacheredis "github.com/nightfeed/mazeshow/cache/redis"
)

// Z is a sorted-set member with its score.
type Z struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Cache is the keyspace behind live scores, score histories, the
// leaderboard and observer token registration.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// ZSet
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZScore(ctx context.Context, key, member string) (float64, error)

	// List
	PushCapped(ctx context.Context, key, value string, max int64, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Close() error
}

// IsNotFound reports whether err is a missing-key error from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// IsWrongType reports whether err means the key holds another kind of value.
func IsWrongType(err error) bool {
	return errors.Is(err, local.ErrWrongType) || errors.Is(err, cacheredis.ErrWrongType)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// Open returns a Cache and PubSub backed by Redis when RedisAddr is set,
// sharing one connection pool, or by the in-process implementations
// otherwise. Closing the Cache releases both.
func Open(cfg CacheConfig) (Cache, PubSub, error) {
	if cfg.RedisAddr != "" {
		rc, err := cacheredis.NewCache(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return &redisCache{RedisCache: rc}, &redisPubSub{ps: rc.PubSub()}, nil
	}

	lc, err := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
	if err != nil {
		return nil, nil, err
	}
	return &localCache{LocalCache: lc}, &localPubSub{ps: local.NewPubSub(cfg.LocalPubSubBuf)}, nil
}

// ---- adapters to bridge sub-package types to cache types ----

type localCache struct {
	*local.LocalCache
}

func (a *localCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	zs, err := a.LocalCache.ZRevRangeWithScores(ctx, key, start, stop)
	return convertZ(zs, err, func(z local.Z) Z { return Z{Member: z.Member, Score: z.Score} })
}

type redisCache struct {
	*cacheredis.RedisCache
}

func (a *redisCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	zs, err := a.RedisCache.ZRevRangeWithScores(ctx, key, start, stop)
	return convertZ(zs, err, func(z cacheredis.Z) Z { return Z{Member: z.Member, Score: z.Score} })
}

func convertZ[T any](in []T, err error, conv func(T) Z) ([]Z, error) {
	if err != nil {
		return nil, err
	}
	out := make([]Z, len(in))
	for i, z := range in {
		out[i] = conv(z)
	}
	return out, nil
}

type localPubSub struct {
	ps *local.LocalPubSub
}

func (a *localPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, cancel := bridge(in, cancel, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, cancel, nil
}

type redisPubSub struct {
	ps *cacheredis.RedisPubSub
}

func (a *redisPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, cancel := bridge(in, cancel, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, cancel, nil
}

// bridge converts messages until in closes or the returned cancel runs.
// It is unbuffered so the backend's buffer and drop policy stay the only
// ones in effect.
func bridge[T any](in <-chan T, unsubscribe func(), conv func(T) *Message) (<-chan *Message, func()) {
	out := make(chan *Message)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range in {
			select {
			case out <- conv(msg):
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
}
