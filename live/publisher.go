// Package live mirrors arena scores into the cache and fans them out to
// observers over pub/sub.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/viewers"
	"go.uber.org/zap"
)

// LeaderboardKey is the sorted set of finished arenas scored by likes.
const LeaderboardKey = "leaderboard"

// ErrNoScore is returned when an arena has not published a score yet.
var ErrNoScore = errors.New("live: no score")

// ScoreKey is both the cache key of an arena's latest score and the pub/sub
// channel its updates are published on.
func ScoreKey(arenaID string) string { return "arena:" + arenaID + ":score" }

// HistoryKey is the capped list of an arena's recent updates, newest first.
func HistoryKey(arenaID string) string { return "arena:" + arenaID + ":history" }

// Update is the JSON payload cached and published per score change.
type Update struct {
	Arena          string  `json:"arena"`
	Viewers        float64 `json:"viewers"`
	Likes          int64   `json:"likes"`
	ViewersDisplay string  `json:"viewers_display"`
	LikesDisplay   string  `json:"likes_display"`
	Version        uint64  `json:"version"`
	SimTimeMs      int64   `json:"sim_time_ms"`
	Finished       bool    `json:"finished"`
}

func newUpdate(arenaID string, score viewers.Score, version uint64, simTime time.Duration) Update {
	return Update{
		Arena:          arenaID,
		Viewers:        score.Viewers,
		Likes:          score.Likes,
		ViewersDisplay: score.ViewersDisplay(),
		LikesDisplay:   score.LikesDisplay(),
		Version:        version,
		SimTimeMs:      simTime.Milliseconds(),
	}
}

// Publisher writes score updates to the cache and pub/sub.
type Publisher struct {
	cache      cache.Cache
	ps         cache.PubSub
	scoreTTL   time.Duration
	historyLen int
	logger     *zap.Logger
}

// NewPublisher creates a Publisher. historyLen <= 0 disables the history
// list; scoreTTL 0 keeps scores until overwritten.
func NewPublisher(c cache.Cache, ps cache.PubSub, scoreTTL time.Duration, historyLen int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{cache: c, ps: ps, scoreTTL: scoreTTL, historyLen: historyLen, logger: logger}
}

// Attach publishes every score change and ranks arenas when they finish.
// Cache failures are logged and never stop the hook chain.
func (p *Publisher) Attach(hc *hook.Center) {
	hc.Register(hook.ScoreChanged, 0, "live", func(ctx context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.ScoreChangedEvent); ok {
			if err := p.Publish(ctx, newUpdate(ev.ArenaID, ev.Score, ev.Version, ev.SimTime)); err != nil {
				p.logger.Warn("score publish failed", zap.String("arena", ev.ArenaID), zap.Error(err))
			}
		}
		return data, nil
	})
	hc.Register(hook.ArenaFinished, 0, "live", func(ctx context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.ArenaFinishedEvent); ok {
			if err := p.finish(ctx, ev); err != nil {
				p.logger.Warn("final score publish failed", zap.String("arena", ev.ArenaID), zap.Error(err))
			}
		}
		return data, nil
	})
}

// Publish caches u as the arena's latest score, prepends it to the history
// and sends it to subscribers of ScoreKey.
func (p *Publisher) Publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	key := ScoreKey(u.Arena)
	if err := p.cache.Set(ctx, key, string(payload), p.scoreTTL); err != nil {
		return fmt.Errorf("live: set %s: %w", key, err)
	}
	if p.historyLen > 0 {
		hk := HistoryKey(u.Arena)
		if err := p.cache.PushCapped(ctx, hk, string(payload), int64(p.historyLen), p.scoreTTL); err != nil {
			return fmt.Errorf("live: push %s: %w", hk, err)
		}
	}
	if err := p.ps.Publish(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("live: publish %s: %w", key, err)
	}
	return nil
}

// Rank records a finished arena's likes on the leaderboard.
func (p *Publisher) Rank(ctx context.Context, arenaID string, likes int64) error {
	if err := p.cache.ZAdd(ctx, LeaderboardKey, float64(likes), arenaID); err != nil {
		return fmt.Errorf("live: rank: %w", err)
	}
	return nil
}

func (p *Publisher) finish(ctx context.Context, ev hook.ArenaFinishedEvent) error {
	if err := p.Rank(ctx, ev.ArenaID, ev.Score.Likes); err != nil {
		return err
	}
	version := uint64(0)
	if last, err := p.Latest(ctx, ev.ArenaID); err == nil {
		version = last.Version
	}
	u := newUpdate(ev.ArenaID, ev.Score, version, ev.SimTime)
	u.Finished = true
	return p.Publish(ctx, u)
}

// Latest returns the most recent update of an arena.
func (p *Publisher) Latest(ctx context.Context, arenaID string) (*Update, error) {
	raw, err := p.cache.Get(ctx, ScoreKey(arenaID))
	if cache.IsNotFound(err) {
		return nil, ErrNoScore
	}
	if err != nil {
		return nil, err
	}
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("live: decode score: %w", err)
	}
	return &u, nil
}

// History returns up to n recent updates of an arena, newest first.
func (p *Publisher) History(ctx context.Context, arenaID string, n int) ([]Update, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := p.cache.LRange(ctx, HistoryKey(arenaID), 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]Update, 0, len(raws))
	for _, raw := range raws {
		var u Update
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			p.logger.Warn("skipping malformed history entry", zap.String("arena", arenaID), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Leaderboard returns the n best finished arenas by likes.
func (p *Publisher) Leaderboard(ctx context.Context, n int) ([]cache.Z, error) {
	if n <= 0 {
		return nil, nil
	}
	return p.cache.ZRevRangeWithScores(ctx, LeaderboardKey, 0, int64(n-1))
}

// Subscribe streams the updates of one arena until cancel is called.
func (p *Publisher) Subscribe(ctx context.Context, arenaID string) (<-chan *cache.Message, func(), error) {
	return p.ps.Subscribe(ctx, ScoreKey(arenaID))
}
