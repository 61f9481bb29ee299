package maze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedFrom(g *Grid, sx, sz int) int {
	seen := map[[2]int]bool{{sx, sz}: true}
	queue := [][2]int{{sx, sz}}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			n := [2]int{c[0] + d[0], c[1] + d[1]}
			if g.Occupied(n[0], n[1]) && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return len(seen)
}

func TestGenerate_DeterministicForSeed(t *testing.T) {
	a, seedA := Generate(GenConfig{Width: 20, Height: 12, Seed: 42})
	b, seedB := Generate(GenConfig{Width: 20, Height: 12, Seed: 42})
	assert.Equal(t, int64(42), seedA)
	assert.Equal(t, seedA, seedB)
	assert.Equal(t, a.String(), b.String())
}

func TestGenerate_SingleConnectedRegion(t *testing.T) {
	for _, seed := range []int64{1, 7, 99, 1234} {
		g, _ := Generate(GenConfig{Width: 24, Height: 24, Seed: seed})
		require.Positive(t, g.Count(), "seed %d", seed)

		esc, err := FindEscape(g)
		require.NoError(t, err)
		assert.Equal(t, g.Count(), connectedFrom(g, esc.X, esc.Z), "seed %d", seed)
	}
}

func TestGenerate_NeverEmpty(t *testing.T) {
	// A threshold above the noise range leaves no rooms; the centre is kept.
	g, _ := Generate(GenConfig{Width: 9, Height: 7, Seed: 3, Threshold: 2})
	assert.Equal(t, 1, g.Count())
	assert.True(t, g.Occupied(4, 3))
}

func TestGenerate_Defaults(t *testing.T) {
	g, seed := Generate(GenConfig{})
	assert.Equal(t, 16, g.Width)
	assert.Equal(t, 16, g.Height)
	assert.NotZero(t, seed)
}
