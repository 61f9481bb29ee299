package viewers

import (
	"math"
	"sync"

	"github.com/dustin/go-humanize"
)

// Score is a point-in-time copy of a ScorePool.
type Score struct {
	Viewers float64 `json:"viewers"`
	Likes   int64   `json:"likes"`
}

// ViewersDisplay renders the viewer count the way a stream overlay shows it
// ("1,234").
func (s Score) ViewersDisplay() string {
	return humanize.Comma(int64(math.Round(s.Viewers)))
}

// LikesDisplay renders the like count with thousands separators.
func (s Score) LikesDisplay() string {
	return humanize.Comma(s.Likes)
}

// ScorePool is the audience aggregate shared by every Economy in an arena.
// All mutation goes through Apply so concurrent economies stay serialized.
type ScorePool struct {
	mu      sync.Mutex
	viewers float64
	likes   int64
	version uint64
}

// NewScorePool returns an empty pool.
func NewScorePool() *ScorePool {
	return &ScorePool{}
}

// Apply adds net to the viewer count and then credits likes proportional to
// addRate and the updated viewer count, truncated toward zero. Likes follow
// addRate, not net flow, so they can still rise while viewers fall.
func (p *ScorePool) Apply(net, addRate float64) Score {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewers += net
	p.likes += int64(addRate * p.viewers / 5)
	if net != 0 || addRate != 0 {
		p.version++
	}
	return Score{Viewers: p.viewers, Likes: p.likes}
}

// Snapshot returns the current score.
func (p *ScorePool) Snapshot() Score {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Score{Viewers: p.viewers, Likes: p.likes}
}

// Version increases every time Apply changes the pool. Callers compare
// versions to detect changes without diffing floats.
func (p *ScorePool) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}
