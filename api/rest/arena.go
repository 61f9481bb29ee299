package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
	"github.com/nightfeed/mazeshow/game/maze"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/live"
	mw "github.com/nightfeed/mazeshow/middleware"
	"github.com/nightfeed/mazeshow/recorder"
	"github.com/nightfeed/mazeshow/telemetry"
	"go.uber.org/zap"
)

const (
	maxMazeSide  = 256
	maxMonsters  = 64
	historyLimit = 500
)

// ArenaHandler handles arena control and observer REST endpoints.
type ArenaHandler struct {
	wm        *world.WorldManager
	defaults  world.ArenaConfig
	maxArenas int
	rec       *recorder.Service
	out       *telemetry.OutputManager
	pub       *live.Publisher
	cache     cache.Cache
	sec       config.SecurityConfig
	logger    *zap.Logger
}

// ArenaDeps groups the collaborators of an ArenaHandler. Recorder and
// Output may be nil.
type ArenaDeps struct {
	World     *world.WorldManager
	Defaults  world.ArenaConfig
	MaxArenas int
	Recorder  *recorder.Service
	Output    *telemetry.OutputManager
	Live      *live.Publisher
	Cache     cache.Cache
	Security  config.SecurityConfig
	Logger    *zap.Logger
}

// NewArenaHandler creates an ArenaHandler.
func NewArenaHandler(d ArenaDeps) *ArenaHandler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArenaHandler{
		wm:        d.World,
		defaults:  d.Defaults,
		maxArenas: d.MaxArenas,
		rec:       d.Recorder,
		out:       d.Output,
		pub:       d.Live,
		cache:     d.Cache,
		sec:       d.Security,
		logger:    logger,
	}
}

// createArenaRequest overrides the configured arena defaults. Absent fields
// keep the default.
type createArenaRequest struct {
	Width          *int     `json:"width"`
	Height         *int     `json:"height"`
	Seed           *int64   `json:"seed"`
	Rows           []string `json:"rows"`
	Monsters       *int     `json:"monsters"`
	Mode           *string  `json:"mode"`
	AddAmount      *float64 `json:"add_amount"`
	RemoveAmount   *float64 `json:"remove_amount"`
	TickIntervalMs *int     `json:"tick_interval_ms"`
	DecayStep      *float64 `json:"decay_step"`
	WalkRange      *float64 `json:"walk_range"`
	PauseMs        *int     `json:"pause_ms"`
}

func (r createArenaRequest) apply(cfg world.ArenaConfig) (world.ArenaConfig, error) {
	if r.Width != nil {
		cfg.Maze.Width = *r.Width
	}
	if r.Height != nil {
		cfg.Maze.Height = *r.Height
	}
	if len(r.Rows) == 0 && (cfg.Maze.Width < 1 || cfg.Maze.Height < 1 ||
		cfg.Maze.Width > maxMazeSide || cfg.Maze.Height > maxMazeSide) {
		return cfg, errors.New("width and height must be between 1 and 256")
	}
	if len(r.Rows) > maxMazeSide {
		return cfg, errors.New("too many rows")
	}
	cfg.Rows = r.Rows
	if r.Seed != nil {
		cfg.Maze.Seed = *r.Seed
	}
	if r.Monsters != nil {
		if *r.Monsters < 0 || *r.Monsters > maxMonsters {
			return cfg, errors.New("monsters must be between 0 and 64")
		}
		cfg.Monsters = *r.Monsters
	}
	if r.Mode != nil {
		mode, err := viewers.ParseMode(*r.Mode)
		if err != nil {
			return cfg, err
		}
		cfg.Economy.Mode = mode
	}
	if r.AddAmount != nil {
		cfg.Economy.AddAmount = *r.AddAmount
	}
	if r.RemoveAmount != nil {
		cfg.Economy.RemoveAmount = *r.RemoveAmount
	}
	if r.TickIntervalMs != nil {
		cfg.Economy.TickInterval = time.Duration(*r.TickIntervalMs) * time.Millisecond
	}
	if r.DecayStep != nil {
		cfg.Economy.DecayStep = *r.DecayStep
	}
	if r.WalkRange != nil {
		cfg.Patrol.WalkRange = *r.WalkRange
	}
	if r.PauseMs != nil {
		cfg.Patrol.PauseTimeRange = time.Duration(*r.PauseMs) * time.Millisecond
	}
	return cfg, nil
}

// Create starts a new arena.
// POST /api/arenas
func (h *ArenaHandler) Create(c *gin.Context) {
	var req createArenaRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	cfg, err := req.apply(h.defaults)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.maxArenas > 0 && h.wm.ActiveCount() >= h.maxArenas {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "arena limit reached"})
		return
	}

	a, err := h.wm.Create(cfg)
	switch {
	case errors.Is(err, maze.ErrNoOccupiedCell):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "layout has no room"})
		return
	case errors.Is(err, maze.ErrRaggedRows):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("create arena failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}

	if err := h.out.WriteConfig(telemetry.NewRunConfig(a.Snapshot(), a.Config())); err != nil {
		h.logger.Warn("telemetry config write failed", zap.String("arena", a.ID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":       a.ID,
		"seed":     a.Seed(),
		"door":     a.Door(),
		"monsters": a.MonsterIDs(),
	})
}

// arenaSummary is one row of the arena list.
type arenaSummary struct {
	ID             string        `json:"id"`
	Score          viewers.Score `json:"score"`
	ViewersDisplay string        `json:"viewers_display"`
	LikesDisplay   string        `json:"likes_display"`
	Monsters       int           `json:"monsters"`
	SimTimeMs      int64         `json:"sim_time_ms"`
	Finished       bool          `json:"finished"`
	CreatedAt      time.Time     `json:"created_at"`
}

// List returns every registered arena, oldest first.
// GET /api/arenas
func (h *ArenaHandler) List(c *gin.Context) {
	arenas := h.wm.List()
	out := make([]arenaSummary, 0, len(arenas))
	for _, a := range arenas {
		s := a.Snapshot()
		out = append(out, arenaSummary{
			ID:             s.ID,
			Score:          s.Score,
			ViewersDisplay: s.ViewersDisplay,
			LikesDisplay:   s.LikesDisplay,
			Monsters:       len(s.Monsters),
			SimTimeMs:      s.SimTime.Milliseconds(),
			Finished:       s.Finished,
			CreatedAt:      s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"arenas": out, "count": len(out)})
}

// Get returns the full snapshot of one arena.
// GET /api/arenas/:id
func (h *ArenaHandler) Get(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	c.JSON(http.StatusOK, a.Snapshot())
}

// Delete finishes an arena and archives its run record.
// DELETE /api/arenas/:id
func (h *ArenaHandler) Delete(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	snap, err := h.wm.Destroy(a.ID)
	if errors.Is(err, world.ErrArenaNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "arena not found"})
		return
	}
	if h.rec == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "score": snap.Score})
		return
	}
	run, err := h.rec.Archive(c.Request.Context(), snap, a.Config())
	if err != nil {
		h.logger.Error("archive failed", zap.String("arena", a.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "score": snap.Score, "run": run})
}

// Spawn adds monsters to a running arena.
// POST /api/arenas/:id/monsters
func (h *ArenaHandler) Spawn(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	var req struct {
		Count int `json:"count" binding:"required,min=1,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be between 1 and 64"})
		return
	}
	ids, err := a.Spawn(req.Count)
	switch {
	case errors.Is(err, world.ErrFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "arena finished"})
	case errors.Is(err, world.ErrNoRoom) && len(ids) == 0:
		c.JSON(http.StatusConflict, gin.H{"error": "no free room"})
	case err != nil && !errors.Is(err, world.ErrNoRoom):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spawn failed"})
	default:
		c.JSON(http.StatusCreated, gin.H{"monsters": ids, "partial": err != nil})
	}
}

// SetVisibility is the visibility signal for one monster.
// PUT /api/arenas/:id/monsters/:mid/visibility
func (h *ArenaHandler) SetVisibility(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	h.monsterFlag(c, &req, func() *bool { return req.Visible }, (*world.Arena).SetVisible)
}

// SetRequested marks a monster as requested by a viewer.
// PUT /api/arenas/:id/monsters/:mid/request
func (h *ArenaHandler) SetRequested(c *gin.Context) {
	var req struct {
		Requested *bool `json:"requested" binding:"required"`
	}
	h.monsterFlag(c, &req, func() *bool { return req.Requested }, (*world.Arena).SetRequested)
}

func (h *ArenaHandler) monsterFlag(c *gin.Context, req any, field func() *bool, set func(*world.Arena, int64, bool) error) {
	a := h.arena(c)
	if a == nil {
		return
	}
	mid, ok := monsterID(c)
	if !ok {
		return
	}
	if err := c.ShouldBindJSON(req); err != nil || field() == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := set(a, mid, *field()); err != nil {
		h.monsterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// economyRequest retunes a monster's economy. Absent fields keep the
// current value.
type economyRequest struct {
	Mode           *string  `json:"mode"`
	AddAmount      *float64 `json:"add_amount"`
	RemoveAmount   *float64 `json:"remove_amount"`
	TickIntervalMs *int     `json:"tick_interval_ms"`
	DecayStep      *float64 `json:"decay_step"`
}

// ConfigureEconomy retunes one monster's viewer economy.
// PUT /api/arenas/:id/monsters/:mid/economy
func (h *ArenaHandler) ConfigureEconomy(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	mid, ok := monsterID(c)
	if !ok {
		return
	}
	var req economyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var mode viewers.Mode
	if req.Mode != nil {
		var err error
		if mode, err = viewers.ParseMode(*req.Mode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	cfg, err := a.ConfigureEconomy(mid, func(cfg *viewers.Config) {
		if req.Mode != nil {
			cfg.Mode = mode
		}
		if req.AddAmount != nil {
			cfg.AddAmount = *req.AddAmount
		}
		if req.RemoveAmount != nil {
			cfg.RemoveAmount = *req.RemoveAmount
		}
		if req.TickIntervalMs != nil {
			cfg.TickInterval = time.Duration(*req.TickIntervalMs) * time.Millisecond
		}
		if req.DecayStep != nil {
			cfg.DecayStep = *req.DecayStep
		}
	})
	if err != nil {
		h.monsterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"economy": cfg})
}

// RemoveMonster despawns one monster and cancels its timers.
// DELETE /api/arenas/:id/monsters/:mid
func (h *ArenaHandler) RemoveMonster(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	mid, ok := monsterID(c)
	if !ok {
		return
	}
	if err := a.RemoveMonster(mid); err != nil {
		h.monsterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// History returns the recent score updates of an arena, newest first.
// GET /api/arenas/:id/history?limit=50
func (h *ArenaHandler) History(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= historyLimit {
		limit = l
	}
	hist, err := h.pub.History(c.Request.Context(), a.ID, limit)
	if err != nil {
		h.logger.Error("history read failed", zap.String("arena", a.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": hist, "count": len(hist)})
}

// ObserverToken issues a JWT that lets an SSE client watch one arena.
// POST /api/arenas/:id/observer-token
func (h *ArenaHandler) ObserverToken(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	token, claims, err := mw.IssueToken(c.Request.Context(), h.sec, h.cache, a.ID)
	if err != nil {
		h.logger.Error("issue observer token failed", zap.String("arena", a.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"expires_at": claims.ExpiresAt.Time,
	})
}

func (h *ArenaHandler) arena(c *gin.Context) *world.Arena {
	a := h.wm.Get(c.Param("id"))
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "arena not found"})
	}
	return a
}

func (h *ArenaHandler) monsterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, world.ErrMonsterNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "monster not found"})
	case errors.Is(err, world.ErrFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "arena finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func monsterID(c *gin.Context) (int64, bool) {
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid monster id"})
		return 0, false
	}
	return mid, true
}
