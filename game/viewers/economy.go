// Package viewers simulates the live-stream audience that watches the
// player. Every monster owns an Economy that feeds one shared ScorePool:
// while the monster is on screen viewers flow in, once it leaves the frame
// the viewers it brought drain back out.
//
// The add and remove rates suppress each other, so a visibility flip bleeds
// the outgoing rate down while the incoming one ramps up instead of stepping
// the count. A fatigue multiplier damps growth the longer a monster stays
// in view.
package viewers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nightfeed/mazeshow/scheduler"
	"go.uber.org/zap"
)

// Mode selects how the rates evolve while a monster stays in (or out of) view.
type Mode int

const (
	// Linear holds each rate at its configured amount.
	Linear Mode = iota
	// Exponential compounds each rate by its configured amount every tick.
	Exponential
)

func (m Mode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "exponential", "exp":
		return Exponential, nil
	}
	return Linear, fmt.Errorf("viewers: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Minimum per-tick factor for exponential modes.
const minExponentialAmount = 1.1

const (
	defaultTickInterval = time.Second
	defaultAddAmount    = 1.0
	defaultRemoveAmount = 0.5
	defaultDecayStep    = 0.01
)

var (
	// ErrNoScorePool is returned by Start when no pool is bound. The
	// economy is disabled for good afterwards.
	ErrNoScorePool = errors.New("viewers: no score pool bound")
	// ErrDisabled is returned by Start on an economy that already failed.
	ErrDisabled = errors.New("viewers: economy disabled")
)

// Config holds the tuning of one Economy.
type Config struct {
	Mode         Mode          `mapstructure:"mode" json:"mode"`
	AddAmount    float64       `mapstructure:"add_amount" json:"add_amount"`
	RemoveAmount float64       `mapstructure:"remove_amount" json:"remove_amount"`
	TickInterval time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
	DecayStep    float64       `mapstructure:"decay_step" json:"decay_step"`
}

// DefaultConfig returns the stock linear tuning.
func DefaultConfig() Config {
	return Config{
		Mode:         Linear,
		AddAmount:    defaultAddAmount,
		RemoveAmount: defaultRemoveAmount,
		TickInterval: defaultTickInterval,
		DecayStep:    defaultDecayStep,
	}
}

// sanitize clamps invalid values to safe ones, logging each correction.
func (c Config) sanitize(log *zap.Logger) Config {
	warn := func(field string, got, want float64) {
		log.Warn("invalid viewer economy setting replaced",
			zap.String("field", field),
			zap.Stringer("mode", c.Mode),
			zap.Float64("value", got),
			zap.Float64("replacement", want))
	}
	if c.TickInterval <= 0 {
		log.Warn("invalid viewer economy setting replaced",
			zap.String("field", "tick_interval"),
			zap.Duration("value", c.TickInterval),
			zap.Duration("replacement", defaultTickInterval))
		c.TickInterval = defaultTickInterval
	}
	switch c.Mode {
	case Exponential:
		if c.AddAmount < minExponentialAmount {
			warn("add_amount", c.AddAmount, minExponentialAmount)
			c.AddAmount = minExponentialAmount
		}
		if c.RemoveAmount < minExponentialAmount {
			warn("remove_amount", c.RemoveAmount, minExponentialAmount)
			c.RemoveAmount = minExponentialAmount
		}
	default:
		if c.AddAmount < 0 {
			warn("add_amount", c.AddAmount, defaultAddAmount)
			c.AddAmount = defaultAddAmount
		}
		if c.RemoveAmount < 0 {
			warn("remove_amount", c.RemoveAmount, defaultRemoveAmount)
			c.RemoveAmount = defaultRemoveAmount
		}
	}
	if c.DecayStep < 0 {
		warn("decay_step", c.DecayStep, defaultDecayStep)
		c.DecayStep = defaultDecayStep
	}
	return c
}

// State is a read-only view of an Economy.
type State struct {
	MonsterID   int64   `json:"monster_id"`
	Mode        Mode    `json:"mode"`
	AddRate     float64 `json:"add_rate"`
	RemoveRate  float64 `json:"remove_rate"`
	Accumulator float64 `json:"accumulator"`
	Multiplier  float64 `json:"multiplier"`
	Visible     bool    `json:"visible"`
	Requested   bool    `json:"requested"`
	Disabled    bool    `json:"disabled"`
}

// Economy is the viewer generator attached to one monster.
type Economy struct {
	mu sync.Mutex

	monsterID int64
	cfg       Config
	pool      *ScorePool
	timers    scheduler.Timers

	addRate     float64
	removeRate  float64
	accumulator float64 // viewers this monster brought in and has not yet lost
	multiplier  float64 // fatigue, 1 = fresh

	visible   bool
	requested bool // set by viewer requests; not read by the simulation
	disabled  bool

	logger *zap.Logger
}

// New creates an Economy for monsterID. Invalid settings in cfg are
// replaced with safe values.
func New(monsterID int64, cfg Config, logger *zap.Logger) *Economy {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Economy{
		monsterID:  monsterID,
		multiplier: 1,
		logger:     logger.With(zap.Int64("monster", monsterID)),
	}
	e.cfg = cfg.sanitize(e.logger)
	return e
}

// Configure replaces the tuning. Invalid values are clamped, never rejected.
// A running ticker picks up the new interval. Timers are not safe for
// concurrent use, so on an arena call it through Arena.ConfigureEconomy,
// which holds the frame lock.
func (e *Economy) Configure(mode Mode, addAmount, removeAmount float64, tickInterval time.Duration, decayStep float64) {
	e.mu.Lock()
	e.cfg = Config{
		Mode:         mode,
		AddAmount:    addAmount,
		RemoveAmount: removeAmount,
		TickInterval: tickInterval,
		DecayStep:    decayStep,
	}.sanitize(e.logger)
	timers := e.timers
	interval := e.cfg.TickInterval
	e.mu.Unlock()

	if timers != nil {
		timers.AddTicker(e.taskName(), interval, e.Tick)
	}
}

// Config returns the effective (sanitized) tuning.
func (e *Economy) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetScorePool binds the shared pool.
func (e *Economy) SetScorePool(p *ScorePool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool = p
}

// SetVisible records whether the monster is in the player's field of view.
// The next Tick reads it.
func (e *Economy) SetVisible(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = v
}

// SetRequested flags the monster as requested by a viewer.
func (e *Economy) SetRequested(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requested = v
}

// Start begins ticking every TickInterval on timers. Without a bound pool
// the economy disables itself permanently and never ticks.
func (e *Economy) Start(timers scheduler.Timers) error {
	e.mu.Lock()
	if e.disabled {
		e.mu.Unlock()
		return ErrDisabled
	}
	if e.pool == nil {
		e.disabled = true
		e.mu.Unlock()
		e.logger.Error("score pool is not set; viewer economy disabled")
		return ErrNoScorePool
	}
	e.timers = timers
	interval := e.cfg.TickInterval
	e.mu.Unlock()

	timers.AddTicker(e.taskName(), interval, e.Tick)
	return nil
}

// Stop cancels the periodic tick.
func (e *Economy) Stop() {
	e.mu.Lock()
	timers := e.timers
	e.timers = nil
	e.mu.Unlock()
	if timers != nil {
		timers.Remove(e.taskName())
	}
}

func (e *Economy) taskName() string {
	return fmt.Sprintf("viewers/%d", e.monsterID)
}

// Tick runs one adjustment interval.
func (e *Economy) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disabled || e.pool == nil {
		return
	}

	if e.visible {
		e.grow()
		e.multiplier -= e.cfg.DecayStep
		if e.multiplier < 0 {
			e.multiplier = 0
		}
	} else if e.accumulator > 0 {
		e.shrink()
	}

	corrective := 0.0
	e.accumulator += e.addRate - e.removeRate
	if e.accumulator < 0 {
		// Return what was over-subtracted so this monster never takes
		// more viewers than it brought.
		corrective = -e.accumulator
	}
	e.pool.Apply(e.addRate-e.removeRate+corrective, e.addRate)

	if e.accumulator <= 0 {
		e.accumulator = 0
		e.addRate = 0
		e.removeRate = 0
	}
}

func (e *Economy) grow() {
	switch e.cfg.Mode {
	case Exponential:
		if e.addRate == 0 {
			e.addRate = e.cfg.AddAmount
		} else {
			e.addRate *= e.cfg.AddAmount
		}
	default:
		e.addRate = e.cfg.AddAmount
	}
	e.addRate *= e.multiplier

	if e.removeRate > 0 {
		e.removeRate -= e.addRate
		if e.removeRate < 0 || e.multiplier == 0 {
			e.removeRate = 0
		}
	}
}

func (e *Economy) shrink() {
	switch e.cfg.Mode {
	case Exponential:
		if e.removeRate == 0 {
			e.removeRate = e.cfg.RemoveAmount
		} else {
			e.removeRate *= e.cfg.RemoveAmount
		}
	default:
		e.removeRate = e.cfg.RemoveAmount
	}

	if e.addRate > 0 {
		e.addRate -= e.removeRate
		if e.addRate < 0 {
			e.addRate = 0
		}
	}
}

// State returns a snapshot of the economy.
func (e *Economy) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		MonsterID:   e.monsterID,
		Mode:        e.cfg.Mode,
		AddRate:     e.addRate,
		RemoveRate:  e.removeRate,
		Accumulator: e.accumulator,
		Multiplier:  e.multiplier,
		Visible:     e.visible,
		Requested:   e.requested,
		Disabled:    e.disabled,
	}
}
