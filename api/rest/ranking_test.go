package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/live"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archive(t *testing.T, f *fixture, id string, likes int64) {
	t.Helper()
	snap := world.Snapshot{ID: id, Score: viewers.Score{Likes: likes}, CreatedAt: time.Now()}
	_, err := f.rec.Archive(context.Background(), snap, world.ArenaConfig{})
	require.NoError(t, err)
}

func TestLeaderboard_FallsBackToArchiveAndWarmsCache(t *testing.T) {
	f := newFixture(t, 0)
	archive(t, f, "low", 3)
	archive(t, f, "high", 30)
	archive(t, f, "mid", 12)

	w := do(f.r, http.MethodGet, "/api/leaderboard?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeMap(t, w)
	assert.Equal(t, "db", resp["source"])
	entries := resp["leaderboard"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "high", first["arena_id"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "30", first["likes_display"])

	w = do(f.r, http.MethodGet, "/api/leaderboard", nil)
	resp = decodeMap(t, w)
	assert.Equal(t, "cache", resp["source"])
	assert.Len(t, resp["leaderboard"], 2, "warmed with the first request's limit")
}

func TestLeaderboard_Empty(t *testing.T) {
	f := newFixture(t, 0)
	w := do(f.r, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeMap(t, w)["leaderboard"])
}

func TestRefresh_RanksArchivedRuns(t *testing.T) {
	f := newFixture(t, 0)
	archive(t, f, "a", 7)
	f.rank.Refresh(context.Background())

	top, err := f.pub.Leaderboard(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "a", top[0].Member)
	assert.Equal(t, 7.0, top[0].Score)

	_, err = f.cache.ZScore(context.Background(), live.LeaderboardKey, "a")
	assert.NoError(t, err)
}

func TestRunSamples(t *testing.T) {
	f := newFixture(t, 0)
	f.rec.Sample("r1", time.Second, viewers.Score{Viewers: 1}, 1)
	f.rec.Sample("r1", 2*time.Second, viewers.Score{Viewers: 2}, 2)

	require.Eventually(t, func() bool {
		w := do(f.r, http.MethodGet, "/api/runs/r1/samples", nil)
		return w.Code == http.StatusOK && decodeMap(t, w)["count"] == float64(2)
	}, 5*time.Second, 50*time.Millisecond)
}
