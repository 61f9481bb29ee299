package nav

import (
	"container/heap"

	"github.com/nightfeed/mazeshow/game/maze"
)

// Cell is a grid coordinate on the navigation mesh.
type Cell struct {
	X, Z int
}

// FindPath returns the shortest 4-connected path of occupied cells from
// `from` to `to`, excluding the start and including the end.
// Returns an empty path when from == to and nil if no path exists.
func FindPath(g *maze.Grid, from, to Cell) []Cell {
	if g == nil || !g.Occupied(from.X, from.Z) || !g.Occupied(to.X, to.Z) {
		return nil
	}
	if from == to {
		return []Cell{}
	}

	heuristic := func(a, b Cell) int {
		return abs(a.X-b.X) + abs(a.Z-b.Z)
	}

	closed := make(map[Cell]bool)
	gScore := map[Cell]int{from: 0}
	open := &nodeQueue{}
	heap.Push(open, &node{cell: from, f: heuristic(from, to)})

	dirs := [4]Cell{{0, 1}, {0, -1}, {1, 0}, {-1, 0}}
	var seq int

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if closed[cur.cell] {
			continue
		}
		closed[cur.cell] = true

		if cur.cell == to {
			var path []Cell
			for n := cur; n.parent != nil; n = n.parent {
				path = append(path, n.cell)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		for _, d := range dirs {
			np := Cell{cur.cell.X + d.X, cur.cell.Z + d.Z}
			if closed[np] || !g.Occupied(np.X, np.Z) {
				continue
			}
			ng := cur.g + 1
			if prev, ok := gScore[np]; !ok || ng < prev {
				gScore[np] = ng
				seq++
				heap.Push(open, &node{
					cell:   np,
					g:      ng,
					f:      ng + heuristic(np, to),
					seq:    seq,
					parent: cur,
				})
			}
		}
	}
	return nil
}

type node struct {
	cell   Cell
	g, f   int
	seq    int
	parent *node
}

// nodeQueue orders by f, then insertion, so equal-cost paths are stable.
type nodeQueue []*node

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(*node)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
