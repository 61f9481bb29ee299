package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("cache: key not found")
	// ErrWrongType is returned when a key holds a different kind of value.
	ErrWrongType = errors.New("cache: wrong type for key")
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout bounds the initial ping. Zero means 5s.
	DialTimeout time.Duration
}

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

func newClient(cfg Config) (*goredis.Client, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// translate maps go-redis sentinel errors onto the cache's.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.Nil):
		return ErrNotFound
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return errors.Join(ErrWrongType, err)
	}
	return err
}

// RedisCache is the Redis-backed cache.
type RedisCache struct {
	client *goredis.Client
}

// NewCache connects to Redis and verifies the connection.
func NewCache(cfg Config) (*RedisCache, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

// Close closes the underlying client.
func (r *RedisCache) Close() error { return r.client.Close() }

// ---- KV ----

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, translate(err)
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return translate(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	return translate(r.client.Del(ctx, keys...).Err())
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, translate(err)
}

// ---- ZSet ----

func (r *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return translate(r.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err())
}

func (r *RedisCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, translate(err)
	}
	out := make([]Z, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Z{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisCache) ZScore(ctx context.Context, key, member string) (float64, error) {
	v, err := r.client.ZScore(ctx, key, member).Result()
	return v, translate(err)
}

// ---- List ----

// PushCapped runs LPUSH, LTRIM and EXPIRE in one MULTI so readers never see
// an untrimmed list.
func (r *RedisCache) PushCapped(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, key, value)
		if max > 0 {
			p.LTrim(ctx, key, 0, max-1)
		}
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		} else {
			p.Persist(ctx, key)
		}
		return nil
	})
	return translate(err)
}

func (r *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := r.client.LRange(ctx, key, start, stop).Result()
	return v, translate(err)
}

// ---- PubSub ----

// RedisMessage is the message type returned by RedisPubSub.Subscribe.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub wraps the Redis PubSub client.
type RedisPubSub struct {
	client *goredis.Client
}

// PubSub returns a pub/sub sharing the cache's connection pool. Closing
// the cache closes it too.
func (r *RedisCache) PubSub() *RedisPubSub {
	return &RedisPubSub{client: r.client}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe listens on channels until cancel is called or ctx ends. The
// subscription is confirmed before returning so no early publish is lost.
func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	ps := r.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan *RedisMessage, 256)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		in := ps.Channel()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case ch <- &RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-done:
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = ps.Close()
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return ch, cancel, nil
}
