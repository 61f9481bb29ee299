// Package maze holds the occupancy grid produced by map generation and the
// post-generation placement of the escape door.
package maze

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRaggedRows is returned by ParseGrid when rows differ in width.
var ErrRaggedRows = errors.New("maze: ragged rows")

// Cell is the content of one grid slot.
type Cell uint8

const (
	Empty Cell = iota
	Occupied
)

// Grid is a width × height occupancy map indexed by (x, z).
// Occupied cells are rooms; empty cells are solid rock.
type Grid struct {
	Width  int
	Height int
	cells  []Cell
}

// NewGrid returns an all-empty grid.
func NewGrid(width, height int) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid{Width: width, Height: height, cells: make([]Cell, width*height)}
}

// ParseGrid builds a grid from text rows where '#' is occupied and any other
// rune is empty. rows[0] is the top row (highest z), so fixtures read the
// way they are drawn.
func ParseGrid(rows []string) (*Grid, error) {
	h := len(rows)
	if h == 0 {
		return NewGrid(0, 0), nil
	}
	w := len(rows[0])
	g := NewGrid(w, h)
	for i, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrRaggedRows, i, len(row), w)
		}
		z := h - 1 - i
		for x, ch := range row {
			if ch == '#' {
				g.Set(x, z, Occupied)
			}
		}
	}
	return g, nil
}

// InBounds reports whether (x, z) lies on the grid.
func (g *Grid) InBounds(x, z int) bool {
	return x >= 0 && z >= 0 && x < g.Width && z < g.Height
}

// At returns the cell at (x, z); out-of-range reads are Empty.
func (g *Grid) At(x, z int) Cell {
	if !g.InBounds(x, z) {
		return Empty
	}
	return g.cells[z*g.Width+x]
}

// Set writes the cell at (x, z). Out-of-range writes are ignored.
func (g *Grid) Set(x, z int, c Cell) {
	if g.InBounds(x, z) {
		g.cells[z*g.Width+x] = c
	}
}

// Occupied reports whether (x, z) holds a room.
func (g *Grid) Occupied(x, z int) bool { return g.At(x, z) != Empty }

// Count returns the number of occupied cells.
func (g *Grid) Count() int {
	n := 0
	for _, c := range g.cells {
		if c != Empty {
			n++
		}
	}
	return n
}

// String draws the grid in ParseGrid's format.
func (g *Grid) String() string {
	var b strings.Builder
	for z := g.Height - 1; z >= 0; z-- {
		for x := 0; x < g.Width; x++ {
			if g.Occupied(x, z) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		if z > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
