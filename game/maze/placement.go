package maze

import (
	"errors"
	"fmt"

	"github.com/nightfeed/mazeshow/game/geom"
)

// ErrNoOccupiedCell means the grid has no room to put the door in.
var ErrNoOccupiedCell = errors.New("maze: grid has no occupied cell")

// Direction is the boundary side the escape door faces.
type Direction int

const (
	Left Direction = iota
	Up
	Right
	Down
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Up:
		return "up"
	case Right:
		return "right"
	case Down:
		return "down"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Escape is the cell chosen for the door.
type Escape struct {
	X    int       `json:"x"`
	Z    int       `json:"z"`
	Dir  Direction `json:"dir"`
	Ring int       `json:"ring"` // scan offset at which the cell was found
}

// FindEscape scans rings from the grid boundary inward. Each ring checks the
// left column bottom to top, the top row left to right, the right column
// bottom to top and the bottom row left to right; the first occupied cell
// wins. The grid must contain at least one occupied cell.
func FindEscape(g *Grid) (Escape, error) {
	if g == nil || g.Count() == 0 {
		return Escape{}, ErrNoOccupiedCell
	}
	w, h := g.Width, g.Height
	rings := w
	if h > rings {
		rings = h
	}
	for o := 0; o < rings; o++ {
		for z := o; z < h-o; z++ {
			if g.Occupied(o, z) {
				return Escape{X: o, Z: z, Dir: Left, Ring: o}, nil
			}
		}
		for x := o; x < w-o; x++ {
			if g.Occupied(x, h-o-1) {
				return Escape{X: x, Z: h - o - 1, Dir: Up, Ring: o}, nil
			}
		}
		for z := o; z < h-o; z++ {
			if g.Occupied(w-o-1, z) {
				return Escape{X: w - o - 1, Z: z, Dir: Right, Ring: o}, nil
			}
		}
		for x := o; x < w-o; x++ {
			if g.Occupied(x, o) {
				return Escape{X: x, Z: o, Dir: Down, Ring: o}, nil
			}
		}
	}
	return Escape{}, ErrNoOccupiedCell
}

// Door is the world transform of the escape door.
type Door struct {
	Escape
	Position geom.Vec3 `json:"position"`
	Yaw      float64   `json:"yaw"` // degrees about +Y
}

// wallInset pulls the door off the room edge so it sits on the wall face.
const wallInset = 0.31

// PlaceDoor converts an escape cell into a door transform for rooms of
// roomSize world units. The half-room offset uses integer division.
func PlaceDoor(esc Escape, roomSize int) Door {
	cx := float64(esc.X * roomSize)
	cz := float64(esc.Z * roomSize)
	half := float64(roomSize / 2)

	d := Door{Escape: esc}
	switch esc.Dir {
	case Left:
		d.Position = geom.Vec3{X: cx - half + wallInset, Z: cz}
		d.Yaw = 90
	case Up:
		d.Position = geom.Vec3{X: cx, Z: cz + half - wallInset}
		d.Yaw = 180
	case Right:
		d.Position = geom.Vec3{X: cx + half - wallInset, Z: cz}
		d.Yaw = -90
	case Down:
		d.Position = geom.Vec3{X: cx, Z: cz - half + wallInset}
		d.Yaw = 0
	}
	return d
}
