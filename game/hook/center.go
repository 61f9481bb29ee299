// Package hook dispatches arena lifecycle events to prioritized handlers.
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nightfeed/mazeshow/game/geom"
	"github.com/nightfeed/mazeshow/game/maze"
	"github.com/nightfeed/mazeshow/game/viewers"
	"go.uber.org/zap"
)

// ErrInterrupt signals that a handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// Arena events.
const (
	MonsterSpawned = "monster_spawned"
	DoorPlaced     = "door_placed"
	ScoreChanged   = "score_changed"
	ArenaFinished  = "arena_finished"
)

// MonsterSpawnedEvent is the payload of MonsterSpawned.
type MonsterSpawnedEvent struct {
	ArenaID   string
	MonsterID int64
	Position  geom.Vec3
}

// DoorPlacedEvent is the payload of DoorPlaced.
type DoorPlacedEvent struct {
	ArenaID string
	Door    maze.Door
}

// ScoreChangedEvent is the payload of ScoreChanged.
type ScoreChangedEvent struct {
	ArenaID string
	Score   viewers.Score
	Version uint64
	SimTime time.Duration
}

// ArenaFinishedEvent is the payload of ArenaFinished.
type ArenaFinishedEvent struct {
	ArenaID  string
	Score    viewers.Score
	SimTime  time.Duration
	Monsters int
}

// Fn is a hook handler.
// Returns (data, nil) to continue, or (data, ErrInterrupt) to stop.
type Fn func(ctx context.Context, event string, data any) (any, error)

type entry struct {
	priority int
	fn       Fn
	name     string
}

// Center manages hook registrations.
type Center struct {
	mu     sync.RWMutex
	hooks  map[string][]*entry
	logger *zap.Logger
}

// NewCenter creates an empty Center.
func NewCenter(logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Center{hooks: make(map[string][]*entry), logger: logger}
}

// Register adds fn for event. Lower priority runs first; equal priorities
// keep registration order. name is the key for Unregister.
func (hc *Center) Register(event string, priority int, name string, fn Fn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &entry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for event.
func (hc *Center) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes name from every event.
func (hc *Center) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*entry, name string) []*entry {
	out := entries[:0]
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of handlers registered for event.
func (hc *Center) Count(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// Trigger runs the handlers for event in priority order, threading data
// through them. ErrInterrupt stops the chain and is returned; other errors
// are logged and the chain continues.
func (hc *Center) Trigger(ctx context.Context, event string, data any) (any, error) {
	hc.mu.RLock()
	entries := make([]*entry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err != nil {
			hc.logger.Warn("hook failed",
				zap.String("event", event),
				zap.String("hook", e.name),
				zap.Error(err))
			continue
		}
		data = out
	}
	return data, nil
}
