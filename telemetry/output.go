// Package telemetry writes per-arena score timelines and run descriptions
// to disk for offline analysis.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/world"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ScoreRow is one line of score.csv.
type ScoreRow struct {
	SimTimeMs int64   `csv:"sim_time_ms"`
	Viewers   float64 `csv:"viewers"`
	Likes     int64   `csv:"likes"`
	Version   uint64  `csv:"version"`
}

// RunConfig is the config.yaml written for every arena.
type RunConfig struct {
	ID       string        `yaml:"id"`
	Seed     int64         `yaml:"seed"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Layout   []string      `yaml:"layout"`
	Door     DoorConfig    `yaml:"door"`
	RoomSize int           `yaml:"room_size"`
	Frame    string        `yaml:"frame"`
	Monsters int           `yaml:"monsters"`
	Economy  EconomyConfig `yaml:"economy"`
	Patrol   PatrolConfig  `yaml:"patrol"`
}

type DoorConfig struct {
	X   int     `yaml:"x"`
	Z   int     `yaml:"z"`
	Dir string  `yaml:"dir"`
	Yaw float64 `yaml:"yaw"`
}

type EconomyConfig struct {
	Mode         string  `yaml:"mode"`
	AddAmount    float64 `yaml:"add_amount"`
	RemoveAmount float64 `yaml:"remove_amount"`
	TickInterval string  `yaml:"tick_interval"`
	DecayStep    float64 `yaml:"decay_step"`
}

type PatrolConfig struct {
	WalkRange      float64 `yaml:"walk_range"`
	PauseTimeRange string  `yaml:"pause_time_range"`
	LegacyMoving   bool    `yaml:"legacy_moving_flag"`
}

// RunResult is the result.yaml written when an arena finishes.
type RunResult struct {
	Viewers   float64 `yaml:"viewers"`
	Likes     int64   `yaml:"likes"`
	SimTimeMs int64   `yaml:"sim_time_ms"`
	Monsters  int     `yaml:"monsters"`
}

// NewRunConfig describes an arena for config.yaml.
func NewRunConfig(snap world.Snapshot, cfg world.ArenaConfig) RunConfig {
	return RunConfig{
		ID:     snap.ID,
		Seed:   snap.Seed,
		Width:  snap.Width,
		Height: snap.Height,
		Layout: snap.Layout,
		Door: DoorConfig{
			X:   snap.Door.X,
			Z:   snap.Door.Z,
			Dir: snap.Door.Dir.String(),
			Yaw: snap.Door.Yaw,
		},
		RoomSize: cfg.RoomSize,
		Frame:    cfg.Frame.String(),
		Monsters: cfg.Monsters,
		Economy: EconomyConfig{
			Mode:         cfg.Economy.Mode.String(),
			AddAmount:    cfg.Economy.AddAmount,
			RemoveAmount: cfg.Economy.RemoveAmount,
			TickInterval: cfg.Economy.TickInterval.String(),
			DecayStep:    cfg.Economy.DecayStep,
		},
		Patrol: PatrolConfig{
			WalkRange:      cfg.Patrol.WalkRange,
			PauseTimeRange: cfg.Patrol.PauseTimeRange.String(),
			LegacyMoving:   cfg.Patrol.LegacyMovingFlag,
		},
	}
}

type arenaOutput struct {
	dir           string
	scores        *os.File
	headerWritten bool
}

// OutputManager keeps one output directory per arena under a root dir.
// A nil *OutputManager is valid and writes nothing.
type OutputManager struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	arenas map[string]*arenaOutput
}

// NewOutputManager creates the root output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string, logger *zap.Logger) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &OutputManager{dir: dir, logger: logger, arenas: make(map[string]*arenaOutput)}, nil
}

// Dir returns the root output directory.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// arena opens (once) the directory and score.csv of an arena.
func (om *OutputManager) arena(id string) (*arenaOutput, error) {
	if out, ok := om.arenas[id]; ok {
		return out, nil
	}
	dir := filepath.Join(om.dir, filepath.Base(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating arena directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "score.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating score.csv: %w", err)
	}
	out := &arenaOutput{dir: dir, scores: f}
	om.arenas[id] = out
	return out, nil
}

// WriteConfig saves the arena description as config.yaml.
func (om *OutputManager) WriteConfig(rc RunConfig) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	out, err := om.arena(rc.ID)
	if err != nil {
		return err
	}
	return writeYAML(filepath.Join(out.dir, "config.yaml"), rc)
}

// WriteScore appends a row to the arena's score.csv.
func (om *OutputManager) WriteScore(arenaID string, row ScoreRow) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	out, err := om.arena(arenaID)
	if err != nil {
		return err
	}

	records := []ScoreRow{row}
	if !out.headerWritten {
		if err := gocsv.Marshal(records, out.scores); err != nil {
			return fmt.Errorf("writing score: %w", err)
		}
		out.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, out.scores); err != nil {
		return fmt.Errorf("writing score: %w", err)
	}
	return nil
}

// Finish writes result.yaml and closes the arena's files.
func (om *OutputManager) Finish(arenaID string, res RunResult) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	out, err := om.arena(arenaID)
	if err != nil {
		return err
	}
	delete(om.arenas, arenaID)
	werr := writeYAML(filepath.Join(out.dir, "result.yaml"), res)
	if err := out.scores.Close(); err != nil && werr == nil {
		werr = err
	}
	return werr
}

// Attach streams score changes to CSV and writes the result on finish.
func (om *OutputManager) Attach(hc *hook.Center) {
	if om == nil {
		return
	}
	hc.Register(hook.ScoreChanged, 20, "telemetry", func(_ context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.ScoreChangedEvent); ok {
			row := ScoreRow{
				SimTimeMs: ev.SimTime.Milliseconds(),
				Viewers:   ev.Score.Viewers,
				Likes:     ev.Score.Likes,
				Version:   ev.Version,
			}
			if err := om.WriteScore(ev.ArenaID, row); err != nil {
				om.logger.Warn("telemetry write failed", zap.String("arena", ev.ArenaID), zap.Error(err))
			}
		}
		return data, nil
	})
	hc.Register(hook.ArenaFinished, 20, "telemetry", func(_ context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.ArenaFinishedEvent); ok {
			res := RunResult{
				Viewers:   ev.Score.Viewers,
				Likes:     ev.Score.Likes,
				SimTimeMs: ev.SimTime.Milliseconds(),
				Monsters:  ev.Monsters,
			}
			if err := om.Finish(ev.ArenaID, res); err != nil {
				om.logger.Warn("telemetry finish failed", zap.String("arena", ev.ArenaID), zap.Error(err))
			}
		}
		return data, nil
	})
}

// Close closes the files of every arena still open.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()

	var firstErr error
	for id, out := range om.arenas {
		if err := out.scores.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(om.arenas, id)
	}
	return firstErr
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
