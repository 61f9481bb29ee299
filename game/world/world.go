package world

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nightfeed/mazeshow/game/hook"
	"go.uber.org/zap"
)

// ErrArenaNotFound is returned for an unknown arena id.
var ErrArenaNotFound = errors.New("world: arena not found")

// WorldManager manages all active arenas.
type WorldManager struct {
	mu      sync.RWMutex
	arenas  map[string]*Arena
	hooks   *hook.Center
	autoRun bool
	logger  *zap.Logger
}

// NewWorldManager creates a WorldManager. When autoRun is set, created
// arenas start their frame loop immediately.
func NewWorldManager(hooks *hook.Center, autoRun bool, logger *zap.Logger) *WorldManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hooks == nil {
		hooks = hook.NewCenter(logger)
	}
	return &WorldManager{
		arenas:  make(map[string]*Arena),
		hooks:   hooks,
		autoRun: autoRun,
		logger:  logger,
	}
}

// Hooks returns the hook center shared by every arena.
func (wm *WorldManager) Hooks() *hook.Center { return wm.hooks }

// Create builds a new arena, spawns its monsters and registers it.
func (wm *WorldManager) Create(cfg ArenaConfig) (*Arena, error) {
	id := uuid.NewString()
	a, err := NewArena(id, cfg, Deps{Hooks: wm.hooks, Logger: wm.logger})
	if err != nil {
		return nil, err
	}
	if _, err := a.Spawn(a.cfg.Monsters); err != nil && !errors.Is(err, ErrNoRoom) {
		return nil, err
	} else if err != nil {
		wm.logger.Warn("arena too small for requested monsters",
			zap.String("arena", id), zap.Int("requested", a.cfg.Monsters))
	}

	wm.mu.Lock()
	wm.arenas[id] = a
	wm.mu.Unlock()
	if wm.autoRun {
		go a.Run()
	}
	wm.logger.Info("arena registered", zap.String("arena", id))
	return a, nil
}

// Get returns the arena for id, or nil.
func (wm *WorldManager) Get(id string) *Arena {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.arenas[id]
}

// List returns the active arenas ordered by creation time.
func (wm *WorldManager) List() []*Arena {
	wm.mu.RLock()
	out := make([]*Arena, 0, len(wm.arenas))
	for _, a := range wm.arenas {
		out = append(out, a)
	}
	wm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Destroy stops and unregisters the arena, returning its final snapshot.
// Monsters are despawned by then, so only the score and layout remain.
func (wm *WorldManager) Destroy(id string) (Snapshot, error) {
	wm.mu.Lock()
	a, ok := wm.arenas[id]
	if ok {
		delete(wm.arenas, id)
	}
	wm.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrArenaNotFound
	}
	a.Stop()
	final := a.Snapshot()
	wm.logger.Info("arena destroyed", zap.String("arena", id))
	return final, nil
}

// ActiveCount returns the number of active arenas.
func (wm *WorldManager) ActiveCount() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.arenas)
}

// StopAll stops every arena (used at server shutdown).
func (wm *WorldManager) StopAll() {
	wm.mu.Lock()
	arenas := make([]*Arena, 0, len(wm.arenas))
	for _, a := range wm.arenas {
		arenas = append(arenas, a)
	}
	wm.arenas = make(map[string]*Arena)
	wm.mu.Unlock()
	for _, a := range arenas {
		a.Stop()
	}
}
