// Package nav is a grid navigation mesh built from a maze occupancy grid.
// Every occupied cell is a walkable room whose centre sits at
// (x*roomSize, 0, z*roomSize). It answers nearest-walkable-point queries and
// walks agents along A* cell paths.
//
// A Mesh is owned by one arena loop and is not safe for concurrent use.
package nav

import (
	"math"

	"github.com/nightfeed/mazeshow/game/geom"
	"github.com/nightfeed/mazeshow/game/maze"
)

// Area masks. Every walkable cell carries WalkableArea.
const (
	WalkableArea uint32 = 1 << 0
	AllAreas     uint32 = ^uint32(0)
)

// Agent is a body moved by the mesh.
type Agent struct {
	id       int64
	pos      geom.Vec3
	velocity geom.Vec3
	stopped  bool

	target    geom.Vec3
	hasTarget bool
	reachable bool
	path      []geom.Vec3 // remaining waypoints, last is target
}

// ID returns the agent's identifier.
func (a *Agent) ID() int64 { return a.id }

// Position returns the current world position.
func (a *Agent) Position() geom.Vec3 { return a.pos }

// Speed returns the velocity magnitude of the last Step.
func (a *Agent) Speed() float64 { return a.velocity.Len() }

// Stopped reports whether movement is suspended.
func (a *Agent) Stopped() bool { return a.stopped }

// Target returns the current move target, if any.
func (a *Agent) Target() (geom.Vec3, bool) { return a.target, a.hasTarget }

// Mesh is the grid navigation mesh.
type Mesh struct {
	grid     *maze.Grid
	roomSize float64
	speed    float64 // world units per second
	areas    []uint32
	agents   map[int64]*Agent
}

// NewMesh builds a mesh over grid. speed is the agent walking speed in world
// units per second.
func NewMesh(grid *maze.Grid, roomSize, speed float64) *Mesh {
	if roomSize <= 0 {
		roomSize = 1
	}
	m := &Mesh{
		grid:     grid,
		roomSize: roomSize,
		speed:    speed,
		areas:    make([]uint32, grid.Width*grid.Height),
		agents:   make(map[int64]*Agent),
	}
	for z := 0; z < grid.Height; z++ {
		for x := 0; x < grid.Width; x++ {
			if grid.Occupied(x, z) {
				m.areas[z*grid.Width+x] = WalkableArea
			}
		}
	}
	return m
}

// SetArea overrides the area mask of a walkable cell.
func (m *Mesh) SetArea(c Cell, mask uint32) {
	if m.grid.Occupied(c.X, c.Z) {
		m.areas[c.Z*m.grid.Width+c.X] = mask
	}
}

// RoomSize returns the world size of one cell.
func (m *Mesh) RoomSize() float64 { return m.roomSize }

// CellCenter returns the world position of a cell's centre.
func (m *Mesh) CellCenter(c Cell) geom.Vec3 {
	return geom.Vec3{X: float64(c.X) * m.roomSize, Z: float64(c.Z) * m.roomSize}
}

// CellAt returns the cell containing world point p.
func (m *Mesh) CellAt(p geom.Vec3) Cell {
	return Cell{
		X: int(math.Floor(p.X/m.roomSize + 0.5)),
		Z: int(math.Floor(p.Z/m.roomSize + 0.5)),
	}
}

// WalkableCells lists every walkable cell in row-major order.
func (m *Mesh) WalkableCells() []Cell {
	var out []Cell
	for z := 0; z < m.grid.Height; z++ {
		for x := 0; x < m.grid.Width; x++ {
			if m.grid.Occupied(x, z) {
				out = append(out, Cell{x, z})
			}
		}
	}
	return out
}

// NearestWalkable returns the centre of the walkable cell closest to p whose
// area matches mask, provided it lies within maxRadius of p.
func (m *Mesh) NearestWalkable(p geom.Vec3, maxRadius float64, mask uint32) (geom.Vec3, bool) {
	if maxRadius < 0 {
		return geom.Vec3{}, false
	}
	reach := int(math.Ceil(maxRadius/m.roomSize)) + 1
	c := m.CellAt(p)

	best := geom.Vec3{}
	bestDist := math.Inf(1)
	for z := c.Z - reach; z <= c.Z+reach; z++ {
		for x := c.X - reach; x <= c.X+reach; x++ {
			if !m.grid.Occupied(x, z) || m.areas[z*m.grid.Width+x]&mask == 0 {
				continue
			}
			center := m.CellCenter(Cell{x, z})
			if d := geom.Distance(p, center); d <= maxRadius && d < bestDist {
				best, bestDist = center, d
			}
		}
	}
	if math.IsInf(bestDist, 1) {
		return geom.Vec3{}, false
	}
	return best, true
}

// AddAgent places a new agent at pos and returns it.
func (m *Mesh) AddAgent(id int64, pos geom.Vec3) *Agent {
	a := &Agent{id: id, pos: pos}
	m.agents[id] = a
	return a
}

// RemoveAgent drops an agent from the mesh.
func (m *Mesh) RemoveAgent(id int64) {
	delete(m.agents, id)
}

// Agent returns the agent with id, or nil.
func (m *Mesh) Agent(id int64) *Agent {
	return m.agents[id]
}

// MoveToward sets the agent's destination and reports whether a path to it
// exists. Re-issuing the current target is a no-op, so callers may send it
// every frame. An unreachable target leaves the agent without a path.
func (m *Mesh) MoveToward(id int64, target geom.Vec3) bool {
	a := m.agents[id]
	if a == nil {
		return false
	}
	if a.hasTarget && a.target == target {
		return a.reachable
	}
	a.target = target
	a.hasTarget = true
	a.path = nil

	from, to := m.CellAt(a.pos), m.CellAt(target)
	cells := FindPath(m.grid, from, to)
	a.reachable = cells != nil
	if cells == nil {
		return false
	}
	waypoints := make([]geom.Vec3, 0, len(cells)+1)
	for _, c := range cells {
		waypoints = append(waypoints, m.CellCenter(c))
	}
	if n := len(waypoints); n == 0 || waypoints[n-1] != target {
		if n > 0 {
			waypoints = waypoints[:n-1]
		}
		waypoints = append(waypoints, target)
	}
	a.path = waypoints
	return true
}

// SetStopped suspends or resumes an agent's movement without clearing its
// path.
func (m *Mesh) SetStopped(id int64, stopped bool) {
	if a := m.agents[id]; a != nil {
		a.stopped = stopped
	}
}

// Step advances every moving agent by dt seconds.
func (m *Mesh) Step(dt float64) {
	for _, a := range m.agents {
		m.stepAgent(a, dt)
	}
}

func (m *Mesh) stepAgent(a *Agent, dt float64) {
	if a.stopped || len(a.path) == 0 || dt <= 0 {
		a.velocity = geom.Vec3{}
		return
	}
	start := a.pos
	budget := m.speed * dt
	for budget > 0 && len(a.path) > 0 {
		next := a.path[0]
		d := geom.Distance(a.pos, next)
		if d <= budget {
			a.pos = next
			a.path = a.path[1:]
			budget -= d
			continue
		}
		a.pos = a.pos.Add(next.Sub(a.pos).Scale(budget / d))
		budget = 0
	}
	a.velocity = a.pos.Sub(start).Scale(1 / dt)
}
