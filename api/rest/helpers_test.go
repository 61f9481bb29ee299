package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/api/rest"
	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/maze"
	"github.com/nightfeed/mazeshow/game/patrol"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/live"
	"github.com/nightfeed/mazeshow/recorder"
	"github.com/nightfeed/mazeshow/telemetry"
	"github.com/nightfeed/mazeshow/testutil"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

var testSec = config.SecurityConfig{JWTSecret: "rest-test-secret", JWTTTL: time.Hour}

type fixture struct {
	r     *gin.Engine
	wm    *world.WorldManager
	rec   *recorder.Service
	pub   *live.Publisher
	cache cache.Cache
	rank  *rest.RankingHandler
	out   string
}

func newFixture(t *testing.T, maxArenas int) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	hc := hook.NewCenter(nil)
	wm := world.NewWorldManager(hc, false, nil)

	rec := recorder.New(db, recorder.Options{}, nil)
	t.Cleanup(func() { rec.Stop(context.Background()) })
	rec.Attach(hc)
	pub := live.NewPublisher(c, ps, 0, 20, nil)
	pub.Attach(hc)
	dir := t.TempDir()
	out, err := telemetry.NewOutputManager(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })
	out.Attach(hc)

	h := rest.NewArenaHandler(rest.ArenaDeps{
		World: wm,
		Defaults: world.ArenaConfig{
			Maze:     maze.GenConfig{Width: 8, Height: 8, Seed: 5},
			Monsters: 2,
			Economy:  viewers.Config{Mode: viewers.Linear, AddAmount: 1, RemoveAmount: 1, TickInterval: time.Second},
			Patrol:   patrol.DefaultConfig(),
		},
		MaxArenas: maxArenas,
		Recorder:  rec,
		Output:    out,
		Live:      pub,
		Cache:     c,
		Security:  testSec,
	})
	rank := rest.NewRankingHandler(rec, pub, 10, nil)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/arenas", h.Create)
	api.GET("/arenas", h.List)
	api.GET("/arenas/:id", h.Get)
	api.DELETE("/arenas/:id", h.Delete)
	api.GET("/arenas/:id/history", h.History)
	api.POST("/arenas/:id/observer-token", h.ObserverToken)
	api.POST("/arenas/:id/monsters", h.Spawn)
	api.PUT("/arenas/:id/monsters/:mid/visibility", h.SetVisibility)
	api.PUT("/arenas/:id/monsters/:mid/request", h.SetRequested)
	api.PUT("/arenas/:id/monsters/:mid/economy", h.ConfigureEconomy)
	api.DELETE("/arenas/:id/monsters/:mid", h.RemoveMonster)
	api.GET("/leaderboard", rank.Leaderboard)
	api.GET("/runs/:id", rank.GetRun)
	api.GET("/runs/:id/samples", rank.RunSamples)

	// Registered last so arenas finish while their listeners are still open.
	t.Cleanup(wm.StopAll)
	return &fixture{r: r, wm: wm, rec: rec, pub: pub, cache: c, rank: rank, out: dir}
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// createArena creates an arena from fixed rows and returns its id.
func (f *fixture) createArena(t *testing.T, body map[string]any) string {
	t.Helper()
	w := do(f.r, http.MethodPost, "/api/arenas", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeMap(t, w)["id"].(string)
}
