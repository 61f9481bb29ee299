package rest

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the AdminAuth middleware.
type AdminHandler struct {
	wm     *world.WorldManager
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(wm *world.WorldManager, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{wm: wm, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var monsters int
	var viewersTotal float64
	for _, a := range h.wm.List() {
		monsters += len(a.MonsterIDs())
		viewersTotal += a.Pool().Snapshot().Viewers
	}
	hooks := h.wm.Hooks()
	c.JSON(http.StatusOK, gin.H{
		"active_arenas":   h.wm.ActiveCount(),
		"monsters":        monsters,
		"viewers_total":   viewersTotal,
		"goroutines":      runtime.NumGoroutine(),
		"scheduler_tasks": h.sched.ListTickers(),
		"hooks": gin.H{
			hook.ScoreChanged:   hooks.Count(hook.ScoreChanged),
			hook.ArenaFinished:  hooks.Count(hook.ArenaFinished),
			hook.MonsterSpawned: hooks.Count(hook.MonsterSpawned),
			hook.DoorPlaced:     hooks.Count(hook.DoorPlaced),
		},
	})
}

// ListSchedulerTasks describes the wall-clock tasks with their run and
// panic counts.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// ArenaTasks returns the pending sim-time tasks of one arena.
// GET /api/admin/arenas/:id/tasks
func (h *AdminHandler) ArenaTasks(c *gin.Context) {
	a := h.wm.Get(c.Param("id"))
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "arena not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": a.TimelineTasks()})
}

// StopAll finishes every arena without archiving them.
// POST /api/admin/arenas/stop
func (h *AdminHandler) StopAll(c *gin.Context) {
	n := h.wm.ActiveCount()
	h.wm.StopAll()
	h.logger.Info("admin stopped all arenas", zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"stopped": n})
}
