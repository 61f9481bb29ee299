package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/live"
	"github.com/nightfeed/mazeshow/recorder"
	"go.uber.org/zap"
)

// RankingHandler serves the leaderboard of finished runs and the archived
// run records.
type RankingHandler struct {
	rec    *recorder.Service
	pub    *live.Publisher
	top    int
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler. top caps every leaderboard
// request.
func NewRankingHandler(rec *recorder.Service, pub *live.Publisher, top int, logger *zap.Logger) *RankingHandler {
	if top <= 0 {
		top = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingHandler{rec: rec, pub: pub, top: top, logger: logger}
}

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank         int    `json:"rank"`
	ArenaID      string `json:"arena_id"`
	Likes        int64  `json:"likes"`
	LikesDisplay string `json:"likes_display"`
}

// Leaderboard returns the best finished runs by likes.
// GET /api/leaderboard?limit=10
func (h *RankingHandler) Leaderboard(c *gin.Context) {
	limit := h.top
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= h.top {
		limit = l
	}
	ctx := c.Request.Context()

	// Try the cached sorted set first.
	top, err := h.pub.Leaderboard(ctx, limit)
	if err == nil && len(top) > 0 {
		entries := make([]RankEntry, len(top))
		for i, z := range top {
			entries[i] = rankEntry(i, z.Member, int64(z.Score))
		}
		c.JSON(http.StatusOK, gin.H{"leaderboard": entries, "source": "cache"})
		return
	}
	if err != nil {
		h.logger.Warn("leaderboard cache read failed", zap.Error(err))
	}

	// Fall back to the archive and warm the cache.
	recs, err := h.rec.Best(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	entries := make([]RankEntry, len(recs))
	for i, r := range recs {
		entries[i] = rankEntry(i, r.ID, r.Likes)
	}
	if _, err := h.refresh(ctx, limit); err != nil {
		h.logger.Warn("leaderboard cache refresh failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries, "source": "db"})
}

// RefreshLeaderboard rebuilds the leaderboard sorted set from the archive.
// POST /api/admin/leaderboard/refresh
func (h *RankingHandler) RefreshLeaderboard(c *gin.Context) {
	n, err := h.refresh(c.Request.Context(), h.top)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

// Refresh is the scheduler entry point of RefreshLeaderboard.
func (h *RankingHandler) Refresh(ctx context.Context) {
	if _, err := h.refresh(ctx, h.top); err != nil {
		h.logger.Warn("leaderboard refresh failed", zap.Error(err))
	}
}

func (h *RankingHandler) refresh(ctx context.Context, n int) (int, error) {
	recs, err := h.rec.Best(ctx, n)
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		if err := h.pub.Rank(ctx, r.ID, r.Likes); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// GetRun returns an archived run record.
// GET /api/runs/:id
func (h *RankingHandler) GetRun(c *gin.Context) {
	run, err := h.rec.Run(c.Request.Context(), c.Param("id"))
	if errors.Is(err, recorder.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// RunSamples returns the persisted score timeline of a run.
// GET /api/runs/:id/samples?limit=1000
func (h *RankingHandler) RunSamples(c *gin.Context) {
	limit := 1000
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 10000 {
		limit = l
	}
	samples, err := h.rec.Samples(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples, "count": len(samples)})
}

func rankEntry(i int, arenaID string, likes int64) RankEntry {
	return RankEntry{
		Rank:         i + 1,
		ArenaID:      arenaID,
		Likes:        likes,
		LikesDisplay: humanize.Comma(likes),
	}
}
