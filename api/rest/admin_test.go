package rest_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/api/rest"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/patrol"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	mw "github.com/nightfeed/mazeshow/middleware"
	"github.com/nightfeed/mazeshow/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "let-me-in"

func adminArena(monsters int) world.ArenaConfig {
	return world.ArenaConfig{
		Rows:     []string{"###"},
		Monsters: monsters,
		Economy:  viewers.Config{Mode: viewers.Linear, AddAmount: 1, RemoveAmount: 1, TickInterval: time.Second},
		Patrol:   patrol.DefaultConfig(),
	}
}

func newAdminRouter(t *testing.T) (*gin.Engine, *world.WorldManager) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	wm := world.NewWorldManager(hook.NewCenter(nil), false, nil)
	t.Cleanup(wm.StopAll)
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	sched.AddTicker("leaderboard_refresh", time.Hour, func() {})
	h := rest.NewAdminHandler(wm, sched, nil)

	r := gin.New()
	g := r.Group("/api/admin", mw.AdminAuth(string(hash)))
	g.GET("/metrics", h.Metrics)
	g.GET("/scheduler", h.ListSchedulerTasks)
	g.GET("/arenas/:id/tasks", h.ArenaTasks)
	g.POST("/arenas/stop", h.StopAll)
	return r, wm
}

func adminDo(r *gin.Engine, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(mw.AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmin_RequiresKey(t *testing.T) {
	r, _ := newAdminRouter(t)
	assert.Equal(t, http.StatusUnauthorized, adminDo(r, http.MethodGet, "/api/admin/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminDo(r, http.MethodGet, "/api/admin/metrics", "nope").Code)
}

func TestAdmin_Metrics(t *testing.T) {
	r, wm := newAdminRouter(t)
	_, err := wm.Create(adminArena(2))
	require.NoError(t, err)

	w := adminDo(r, http.MethodGet, "/api/admin/metrics", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	m := decodeMap(t, w)
	assert.Equal(t, float64(1), m["active_arenas"])
	assert.Equal(t, float64(2), m["monsters"])
	assert.Equal(t, []any{"leaderboard_refresh"}, m["scheduler_tasks"])
}

func TestAdmin_SchedulerAndArenaTasks(t *testing.T) {
	r, wm := newAdminRouter(t)
	a, err := wm.Create(adminArena(1))
	require.NoError(t, err)

	w := adminDo(r, http.MethodGet, "/api/admin/scheduler", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decodeMap(t, w)["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "leaderboard_refresh", task["name"])
	assert.Equal(t, true, task["periodic"])

	w = adminDo(r, http.MethodGet, "/api/admin/arenas/"+a.ID+"/tasks", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeMap(t, w)["tasks"], "viewers/1")

	assert.Equal(t, http.StatusNotFound, adminDo(r, http.MethodGet, "/api/admin/arenas/nope/tasks", adminKey).Code)
}

func TestAdmin_StopAll(t *testing.T) {
	r, wm := newAdminRouter(t)
	a, err := wm.Create(adminArena(0))
	require.NoError(t, err)

	w := adminDo(r, http.MethodPost, "/api/admin/arenas/stop", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeMap(t, w)["stopped"])
	assert.True(t, a.Finished())
	assert.Zero(t, wm.ActiveCount())
}
