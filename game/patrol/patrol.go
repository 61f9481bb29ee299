// Package patrol drives a roaming monster through endless wander and pause
// cycles on top of a navigation service.
package patrol

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/nightfeed/mazeshow/game/geom"
	"github.com/nightfeed/mazeshow/scheduler"
	"go.uber.org/zap"
)

// ArrivalDistance is how close the agent must get to its destination before
// it pauses.
const ArrivalDistance = 2.0

// MovingSpeed is the speed at or above which the agent counts as moving.
const MovingSpeed = 0.01

// AnimMoving is the animator flag updated every frame.
const AnimMoving = "isMoving"

// PathService is the navigation surface the controller walks on.
type PathService interface {
	NearestWalkable(p geom.Vec3, maxRadius float64, mask uint32) (geom.Vec3, bool)
	// MoveToward reports false when no path leads to target.
	MoveToward(agentID int64, target geom.Vec3) bool
	SetStopped(agentID int64, stopped bool)
}

// Agent is the body being patrolled.
type Agent interface {
	ID() int64
	Position() geom.Vec3
	Speed() float64
}

// Animator receives animation flags. Optional.
type Animator interface {
	SetBool(name string, value bool)
}

// Config holds patrol tuning.
type Config struct {
	WalkRange      float64       `mapstructure:"walk_range" json:"walk_range"`
	PauseTimeRange time.Duration `mapstructure:"pause_time_range" json:"pause_time_range"`
	Mask           uint32        `mapstructure:"mask" json:"mask"`
	// ContinuousPause draws the pause from [0, PauseTimeRange) at nanosecond
	// resolution. Otherwise pauses are whole seconds in
	// {0 .. PauseTimeRange/1s - 1}.
	ContinuousPause bool `mapstructure:"continuous_pause" json:"continuous_pause"`
	// LegacyMovingFlag reports "moving" while the agent is standing still,
	// as the first release of the game did.
	LegacyMovingFlag bool `mapstructure:"legacy_moving_flag" json:"legacy_moving_flag"`
}

// DefaultConfig returns the stock patrol tuning.
func DefaultConfig() Config {
	return Config{
		WalkRange:      10,
		PauseTimeRange: 3 * time.Second,
		Mask:           ^uint32(0),
	}
}

// State is a snapshot of the controller.
type State struct {
	Destination    geom.Vec3 `json:"destination"`
	HasDestination bool      `json:"has_destination"`
	Paused         bool      `json:"paused"`
	Moving         bool      `json:"moving"`
}

// Controller is the per-monster wander state machine.
type Controller struct {
	cfg      Config
	agent    Agent
	paths    PathService
	anim     Animator
	timers   scheduler.Timers
	rng      *rand.Rand
	logger   *zap.Logger
	resumeID string

	mu             sync.Mutex
	destination    geom.Vec3
	hasDestination bool
	paused         bool
	moving         bool
	closed         bool
}

// New creates a controller for agent. anim may be nil; rng nil seeds from the
// clock.
func New(cfg Config, agent Agent, paths PathService, anim Animator, timers scheduler.Timers, rng *rand.Rand, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.WalkRange <= 0 {
		logger.Warn("patrol: walk range must be positive, using default",
			zap.Float64("walk_range", cfg.WalkRange))
		cfg.WalkRange = DefaultConfig().WalkRange
	}
	if cfg.PauseTimeRange < 0 {
		logger.Warn("patrol: pause time range must not be negative, using 0",
			zap.Duration("pause_time_range", cfg.PauseTimeRange))
		cfg.PauseTimeRange = 0
	}
	if cfg.Mask == 0 {
		cfg.Mask = ^uint32(0)
	}
	return &Controller{
		cfg:      cfg,
		agent:    agent,
		paths:    paths,
		anim:     anim,
		timers:   timers,
		rng:      rng,
		logger:   logger,
		resumeID: fmt.Sprintf("patrol/%d/resume", agent.ID()),
	}
}

// ResumeTaskName is the timer key of the pending resume.
func (c *Controller) ResumeTaskName() string { return c.resumeID }

// Tick runs one frame of the state machine.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	pos := c.agent.Position()
	if !c.hasDestination {
		dest, ok := c.paths.NearestWalkable(c.samplePoint(pos), c.cfg.WalkRange, c.cfg.Mask)
		if !ok {
			c.logger.Debug("patrol: no walkable point near sample, retrying",
				zap.Int64("agent", c.agent.ID()))
			c.updateAnim()
			return
		}
		c.destination = dest
		c.hasDestination = true
	}

	if geom.Distance(pos, c.destination) < ArrivalDistance {
		c.pause()
	} else if !c.paths.MoveToward(c.agent.ID(), c.destination) {
		c.logger.Debug("patrol: destination unreachable, resampling",
			zap.Int64("agent", c.agent.ID()),
			zap.Float64("x", c.destination.X),
			zap.Float64("z", c.destination.Z))
		c.hasDestination = false
	}
	c.updateAnim()
}

// samplePoint picks a uniform point in the horizontal disk of WalkRange
// around pos.
func (c *Controller) samplePoint(pos geom.Vec3) geom.Vec3 {
	r := c.cfg.WalkRange * math.Sqrt(c.rng.Float64())
	theta := 2 * math.Pi * c.rng.Float64()
	return geom.Vec3{X: pos.X + r*math.Cos(theta), Y: pos.Y, Z: pos.Z + r*math.Sin(theta)}
}

func (c *Controller) pause() {
	id := c.agent.ID()
	c.paths.SetStopped(id, true)
	c.paused = true
	c.hasDestination = false

	wait := c.pauseFor()
	if c.timers != nil {
		c.timers.AddDelay(c.resumeID, wait, c.resume)
	} else {
		c.resumeLocked()
	}
}

// pauseFor draws the next pause length.
func (c *Controller) pauseFor() time.Duration {
	if c.cfg.ContinuousPause {
		if c.cfg.PauseTimeRange <= 0 {
			return 0
		}
		return time.Duration(c.rng.Int63n(int64(c.cfg.PauseTimeRange)))
	}
	n := int(c.cfg.PauseTimeRange / time.Second)
	if n <= 0 {
		return 0
	}
	return time.Duration(c.rng.Intn(n)) * time.Second
}

func (c *Controller) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resumeLocked()
}

func (c *Controller) resumeLocked() {
	c.paths.SetStopped(c.agent.ID(), false)
	c.paused = false
}

func (c *Controller) updateAnim() {
	moving := c.agent.Speed() >= MovingSpeed
	if c.cfg.LegacyMovingFlag {
		moving = !moving
	}
	c.moving = moving
	if c.anim != nil {
		c.anim.SetBool(AnimMoving, moving)
	}
}

// Close cancels any pending resume. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timers != nil {
		c.timers.Remove(c.resumeID)
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Destination:    c.destination,
		HasDestination: c.hasDestination,
		Paused:         c.paused,
		Moving:         c.moving,
	}
}
