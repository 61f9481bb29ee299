package local

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("cache: key not found")
	// ErrWrongType is returned when a key holds a different kind of value,
	// mirroring Redis WRONGTYPE.
	ErrWrongType = errors.New("cache: wrong type for key")
)

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

type kind uint8

const (
	kindString kind = iota
	kindZSet
	kindList
)

// item is one key of the keyspace. Every kind can expire, like a Redis key.
type item struct {
	kind     kind
	str      string
	zset     []Z      // score descending, ties by member descending like ZREVRANGE
	list     []string // head first
	expireAt time.Time
}

func (it *item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && !now.Before(it.expireAt)
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// LocalCache is an in-process keyspace for single-node deployments and
// tests. Scores, histories and the leaderboard of a few dozen arenas fit
// comfortably behind one mutex.
type LocalCache struct {
	mu    sync.Mutex
	items map[string]*item

	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		items:      make(map[string]*item),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopGC) })
	return nil
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.stopGC:
			return
		}
	}
}

// sweep drops expired keys and returns how many it removed.
func (c *LocalCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// lookup returns the live item for key. Caller holds mu.
func (c *LocalCache) lookup(key string, want kind) (*item, error) {
	it, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if it.expired(time.Now()) {
		delete(c.items, key)
		return nil, ErrNotFound
	}
	if it.kind != want {
		return nil, ErrWrongType
	}
	return it, nil
}

// create returns the item for key, creating an empty one of kind k when the
// key is missing or expired. Caller holds mu.
func (c *LocalCache) create(key string, k kind) (*item, error) {
	it, err := c.lookup(key, k)
	if errors.Is(err, ErrNotFound) {
		it = &item{kind: k}
		c.items[key] = it
		return it, nil
	}
	return it, err
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookup(key, kindString)
	if err != nil {
		return "", err
	}
	return it.str, nil
}

// Set stores a string, replacing a key of any kind. ttl <= 0 never expires.
func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.items[key] = &item{kind: kindString, str: value, expireAt: expiry(ttl)}
	c.mu.Unlock()
	return nil
}

// Del removes keys of any kind.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

// Exists reports whether a live key of any kind exists.
func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return false, nil
	}
	if it.expired(time.Now()) {
		delete(c.items, key)
		return false, nil
	}
	return true, nil
}

// ---- ZSet ----

func sortZ(zs []Z) {
	sort.Slice(zs, func(a, b int) bool {
		if zs[a].Score != zs[b].Score {
			return zs[a].Score > zs[b].Score
		}
		return zs[a].Member > zs[b].Member
	})
}

// ZAdd sets member's score, adding it when absent.
func (c *LocalCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.create(key, kindZSet)
	if err != nil {
		return err
	}
	for i := range it.zset {
		if it.zset[i].Member == member {
			it.zset[i].Score = score
			sortZ(it.zset)
			return nil
		}
	}
	it.zset = append(it.zset, Z{Member: member, Score: score})
	sortZ(it.zset)
	return nil
}

// ZRevRangeWithScores returns members ranked start..stop (inclusive) by
// descending score. A negative or out-of-range stop means "to the end".
func (c *LocalCache) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]Z, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookup(key, kindZSet)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lo, hi, ok := bounds(int64(len(it.zset)), start, stop)
	if !ok {
		return nil, nil
	}
	return append([]Z(nil), it.zset[lo:hi+1]...), nil
}

func (c *LocalCache) ZScore(_ context.Context, key, member string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookup(key, kindZSet)
	if err != nil {
		return 0, err
	}
	for _, z := range it.zset {
		if z.Member == member {
			return z.Score, nil
		}
	}
	return 0, ErrNotFound
}

// ---- List ----

// PushCapped prepends value, keeps the newest max entries and refreshes
// the key's expiry. max <= 0 keeps everything; ttl <= 0 never expires.
func (c *LocalCache) PushCapped(_ context.Context, key, value string, max int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.create(key, kindList)
	if err != nil {
		return err
	}
	it.list = append([]string{value}, it.list...)
	if max > 0 && int64(len(it.list)) > max {
		it.list = it.list[:max]
	}
	it.expireAt = expiry(ttl)
	return nil
}

// LRange returns entries start..stop (inclusive), newest first.
func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookup(key, kindList)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lo, hi, ok := bounds(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	return append([]string(nil), it.list[lo:hi+1]...), nil
}

func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start = 0
	}
	if start >= n {
		return 0, 0, false
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if stop < start {
		return 0, 0, false
	}
	return start, stop, true
}
