package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightfeed/mazeshow/game/geom"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/maze"
	"github.com/nightfeed/mazeshow/game/nav"
	"github.com/nightfeed/mazeshow/game/patrol"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/scheduler"
	"go.uber.org/zap"
)

const defaultFrame = 50 * time.Millisecond // 20 TPS

var (
	// ErrMonsterNotFound is returned for an unknown monster id.
	ErrMonsterNotFound = errors.New("world: monster not found")
	// ErrNoRoom is returned when every walkable cell already holds a monster.
	ErrNoRoom = errors.New("world: no free cell to spawn in")
	// ErrFinished is returned by mutations on a stopped arena.
	ErrFinished = errors.New("world: arena finished")
)

// ArenaConfig describes one arena.
type ArenaConfig struct {
	Maze       maze.GenConfig `mapstructure:"maze" json:"maze"`
	Rows       []string       `mapstructure:"rows" json:"rows,omitempty"` // fixed layout instead of Maze
	RoomSize   int            `mapstructure:"room_size" json:"room_size"`
	AgentSpeed float64        `mapstructure:"agent_speed" json:"agent_speed"`
	Monsters   int            `mapstructure:"monsters" json:"monsters"`
	Frame      time.Duration  `mapstructure:"frame" json:"frame"`
	Economy    viewers.Config `mapstructure:"economy" json:"economy"`
	Patrol     patrol.Config  `mapstructure:"patrol" json:"patrol"`
}

func (c ArenaConfig) withDefaults() ArenaConfig {
	if c.RoomSize <= 0 {
		c.RoomSize = 5
	}
	if c.AgentSpeed <= 0 {
		c.AgentSpeed = 3.5
	}
	if c.Frame <= 0 {
		c.Frame = defaultFrame
	}
	return c
}

// Deps are the collaborators shared between arenas.
type Deps struct {
	Hooks  *hook.Center
	Logger *zap.Logger
	Rand   *rand.Rand // nil seeds from the maze seed
}

// Monster is one roaming monster and its viewer generator.
type Monster struct {
	ID      int64
	agent   *nav.Agent
	patrol  *patrol.Controller
	economy *viewers.Economy
	anim    animFlags
}

type animFlags map[string]bool

func (f animFlags) SetBool(name string, v bool) { f[name] = v }

// MonsterSnapshot is the observer view of a monster.
type MonsterSnapshot struct {
	ID       int64           `json:"id"`
	Position geom.Vec3       `json:"position"`
	Speed    float64         `json:"speed"`
	Patrol   patrol.State    `json:"patrol"`
	Economy  viewers.State   `json:"economy"`
	Anim     map[string]bool `json:"anim"`
}

// Snapshot is the observer view of an arena.
type Snapshot struct {
	ID             string            `json:"id"`
	Seed           int64             `json:"seed"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Layout         []string          `json:"layout"`
	Door           maze.Door         `json:"door"`
	Score          viewers.Score     `json:"score"`
	ViewersDisplay string            `json:"viewers_display"`
	LikesDisplay   string            `json:"likes_display"`
	SimTime        time.Duration     `json:"sim_time"`
	Finished       bool              `json:"finished"`
	CreatedAt      time.Time         `json:"created_at"`
	Monsters       []MonsterSnapshot `json:"monsters"`
}

// Arena is one running game: a maze, its escape door, the nav mesh, the
// monsters roaming it and the shared score they generate.
//
// All simulation state is guarded by mu. The frame loop holds it for a
// whole Step, so external mutations land between frames. Hooks fire after
// the lock is released.
type Arena struct {
	ID        string
	cfg       ArenaConfig
	seed      int64
	grid      *maze.Grid
	door      maze.Door
	createdAt time.Time

	mu          sync.Mutex
	mesh        *nav.Mesh
	pool        *viewers.ScorePool
	timeline    *scheduler.Timeline
	rng         *rand.Rand
	monsters    map[int64]*Monster
	nextID      int64
	lastVersion uint64
	finished    bool

	hooks  *hook.Center
	logger *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewArena builds the maze, places the escape door and prepares the nav
// mesh. Monsters are added with Spawn.
func NewArena(id string, cfg ArenaConfig, deps Deps) (*Arena, error) {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("arena", id))
	hooks := deps.Hooks
	if hooks == nil {
		hooks = hook.NewCenter(logger)
	}

	var (
		grid *maze.Grid
		seed int64
		err  error
	)
	if len(cfg.Rows) > 0 {
		if grid, err = maze.ParseGrid(cfg.Rows); err != nil {
			return nil, fmt.Errorf("arena: layout: %w", err)
		}
		seed = cfg.Maze.Seed
	} else {
		grid, seed = maze.Generate(cfg.Maze)
	}

	esc, err := maze.FindEscape(grid)
	if err != nil {
		return nil, fmt.Errorf("arena: place door: %w", err)
	}
	door := maze.PlaceDoor(esc, cfg.RoomSize)

	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}

	a := &Arena{
		ID:        id,
		cfg:       cfg,
		seed:      seed,
		grid:      grid,
		door:      door,
		createdAt: time.Now(),
		mesh:      nav.NewMesh(grid, float64(cfg.RoomSize), cfg.AgentSpeed),
		pool:      viewers.NewScorePool(),
		timeline:  scheduler.NewTimeline(logger),
		rng:       rng,
		monsters:  make(map[int64]*Monster),
		hooks:     hooks,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	logger.Info("arena created",
		zap.Int64("seed", seed),
		zap.Int("rooms", grid.Count()),
		zap.Stringer("door", esc.Dir))
	a.fire(hook.DoorPlaced, hook.DoorPlacedEvent{ArenaID: id, Door: door})
	return a, nil
}

// Config returns the arena configuration after defaults.
func (a *Arena) Config() ArenaConfig { return a.cfg }

// Seed returns the maze seed.
func (a *Arena) Seed() int64 { return a.seed }

// Door returns the escape door transform.
func (a *Arena) Door() maze.Door { return a.door }

// Pool returns the arena's score pool.
func (a *Arena) Pool() *viewers.ScorePool { return a.pool }

// CreatedAt returns the wall-clock creation time.
func (a *Arena) CreatedAt() time.Time { return a.createdAt }

// Spawn places n monsters on distinct free walkable cells. It spawns as many
// as fit and returns ErrNoRoom when it ran out of cells.
func (a *Arena) Spawn(n int) ([]int64, error) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return nil, ErrFinished
	}

	taken := make(map[nav.Cell]bool, len(a.monsters))
	for _, m := range a.monsters {
		taken[a.mesh.CellAt(m.agent.Position())] = true
	}
	var free []nav.Cell
	for _, c := range a.mesh.WalkableCells() {
		if !taken[c] {
			free = append(free, c)
		}
	}
	a.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })

	var (
		ids    []int64
		events []hook.MonsterSpawnedEvent
	)
	for i := 0; i < n && i < len(free); i++ {
		m := a.spawnLocked(a.mesh.CellCenter(free[i]))
		ids = append(ids, m.ID)
		events = append(events, hook.MonsterSpawnedEvent{ArenaID: a.ID, MonsterID: m.ID, Position: m.agent.Position()})
	}
	a.mu.Unlock()

	for _, ev := range events {
		a.fire(hook.MonsterSpawned, ev)
	}
	if len(ids) < n {
		return ids, ErrNoRoom
	}
	return ids, nil
}

func (a *Arena) spawnLocked(pos geom.Vec3) *Monster {
	a.nextID++
	id := a.nextID
	log := a.logger.With(zap.Int64("monster", id))

	m := &Monster{ID: id, anim: animFlags{}}
	m.agent = a.mesh.AddAgent(id, pos)
	m.economy = viewers.New(id, a.cfg.Economy, log)
	m.economy.SetScorePool(a.pool)
	if err := m.economy.Start(a.timeline); err != nil {
		log.Error("viewer economy not started", zap.Error(err))
	}
	m.patrol = patrol.New(a.cfg.Patrol, m.agent, a.mesh, m.anim, a.timeline,
		rand.New(rand.NewSource(a.rng.Int63())), log)
	a.monsters[id] = m

	log.Debug("monster spawned", zap.Float64("x", pos.X), zap.Float64("z", pos.Z))
	return m
}

// RemoveMonster despawns a monster, cancelling its economy ticker and any
// pending patrol resume.
func (a *Arena) RemoveMonster(id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.monsters[id]
	if !ok {
		return ErrMonsterNotFound
	}
	a.despawnLocked(m)
	return nil
}

func (a *Arena) despawnLocked(m *Monster) {
	m.patrol.Close()
	m.economy.Stop()
	a.mesh.RemoveAgent(m.ID)
	delete(a.monsters, m.ID)
}

// SetVisible feeds the visibility signal for one monster.
func (a *Arena) SetVisible(id int64, visible bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.monsters[id]
	if !ok {
		return ErrMonsterNotFound
	}
	m.economy.SetVisible(visible)
	return nil
}

// SetRequested marks a monster as requested by a viewer.
func (a *Arena) SetRequested(id int64, requested bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.monsters[id]
	if !ok {
		return ErrMonsterNotFound
	}
	m.economy.SetRequested(requested)
	return nil
}

// ConfigureEconomy retunes one monster's viewer economy between frames.
// update edits a copy of the current tuning; the effective (clamped) tuning
// is returned.
func (a *Arena) ConfigureEconomy(id int64, update func(*viewers.Config)) (viewers.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.monsters[id]
	if !ok {
		return viewers.Config{}, ErrMonsterNotFound
	}
	cfg := m.economy.Config()
	update(&cfg)
	m.economy.Configure(cfg.Mode, cfg.AddAmount, cfg.RemoveAmount, cfg.TickInterval, cfg.DecayStep)
	return m.economy.Config(), nil
}

// MonsterIDs returns the live monster ids in ascending order.
func (a *Arena) MonsterIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedIDsLocked()
}

func (a *Arena) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(a.monsters))
	for id := range a.monsters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Step advances the simulation by dt: due timeline tasks (economy ticks,
// patrol resumes), one patrol frame per monster, then agent movement.
func (a *Arena) Step(dt time.Duration) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.timeline.Advance(dt)
	for _, id := range a.sortedIDsLocked() {
		a.monsters[id].patrol.Tick()
	}
	a.mesh.Step(dt.Seconds())

	var changed *hook.ScoreChangedEvent
	if v := a.pool.Version(); v != a.lastVersion {
		a.lastVersion = v
		changed = &hook.ScoreChangedEvent{
			ArenaID: a.ID,
			Score:   a.pool.Snapshot(),
			Version: v,
			SimTime: a.timeline.Now(),
		}
	}
	a.mu.Unlock()

	if changed != nil {
		a.fire(hook.ScoreChanged, *changed)
	}
}

// Run drives Step at the configured frame rate until Stop. Call in a
// goroutine; a second call returns immediately.
func (a *Arena) Run() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.Frame)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Step(a.cfg.Frame)
		case <-a.stopCh:
			return
		}
	}
}

// Stop ends the frame loop, despawns every monster and fires
// arena_finished. Only the first call has any effect.
func (a *Arena) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		if a.started.Load() {
			<-a.doneCh
		}

		a.mu.Lock()
		ev := hook.ArenaFinishedEvent{
			ArenaID:  a.ID,
			Score:    a.pool.Snapshot(),
			SimTime:  a.timeline.Now(),
			Monsters: len(a.monsters),
		}
		for _, m := range a.monsters {
			a.despawnLocked(m)
		}
		a.finished = true
		a.mu.Unlock()

		a.logger.Info("arena finished",
			zap.Float64("viewers", ev.Score.Viewers),
			zap.Int64("likes", ev.Score.Likes),
			zap.Duration("sim_time", ev.SimTime))
		a.fire(hook.ArenaFinished, ev)
	})
}

// Finished reports whether Stop has completed.
func (a *Arena) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// Snapshot returns the observer view of the arena.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	score := a.pool.Snapshot()
	s := Snapshot{
		ID:             a.ID,
		Seed:           a.seed,
		Width:          a.grid.Width,
		Height:         a.grid.Height,
		Layout:         strings.Split(a.grid.String(), "\n"),
		Door:           a.door,
		Score:          score,
		ViewersDisplay: score.ViewersDisplay(),
		LikesDisplay:   score.LikesDisplay(),
		SimTime:        a.timeline.Now(),
		Finished:       a.finished,
		CreatedAt:      a.createdAt,
		Monsters:       make([]MonsterSnapshot, 0, len(a.monsters)),
	}
	for _, id := range a.sortedIDsLocked() {
		m := a.monsters[id]
		anim := make(map[string]bool, len(m.anim))
		for k, v := range m.anim {
			anim[k] = v
		}
		s.Monsters = append(s.Monsters, MonsterSnapshot{
			ID:       id,
			Position: m.agent.Position(),
			Speed:    m.agent.Speed(),
			Patrol:   m.patrol.State(),
			Economy:  m.economy.State(),
			Anim:     anim,
		})
	}
	return s
}

// TimelineTasks lists the pending sim-time tasks.
func (a *Arena) TimelineTasks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeline.Names()
}

func (a *Arena) fire(event string, data any) {
	if _, err := a.hooks.Trigger(context.Background(), event, data); err != nil && !errors.Is(err, hook.ErrInterrupt) {
		a.logger.Warn("hook trigger failed", zap.String("event", event), zap.Error(err))
	}
}
