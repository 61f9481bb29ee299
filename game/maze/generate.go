package maze

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig controls Generate.
type GenConfig struct {
	Width     int     `mapstructure:"width" json:"width"`
	Height    int     `mapstructure:"height" json:"height"`
	Seed      int64   `mapstructure:"seed" json:"seed"` // 0 = random
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
	Frequency float64 `mapstructure:"frequency" json:"frequency"`
	Octaves   int     `mapstructure:"octaves" json:"octaves"`
}

// Generate carves rooms out of layered OpenSimplex noise and keeps only the
// largest 4-connected region, so every room is reachable from every other.
// The result always holds at least one room.
func Generate(cfg GenConfig) (*Grid, int64) {
	if cfg.Width <= 0 {
		cfg.Width = 16
	}
	if cfg.Height <= 0 {
		cfg.Height = 16
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 0.18
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = 3
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.45
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	noise := opensimplex.NewNormalized(seed)
	g := NewGrid(cfg.Width, cfg.Height)
	for z := 0; z < g.Height; z++ {
		for x := 0; x < g.Width; x++ {
			if octaveNoise(noise, float64(x), float64(z), cfg.Octaves, cfg.Frequency, 0.5) >= cfg.Threshold {
				g.Set(x, z, Occupied)
			}
		}
	}

	keepLargestRegion(g)
	if g.Count() == 0 {
		g.Set(g.Width/2, g.Height/2, Occupied)
	}
	return g, seed
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

// keepLargestRegion clears every occupied cell outside the biggest
// 4-connected component.
func keepLargestRegion(g *Grid) {
	label := make([]int, g.Width*g.Height)
	best, bestSize := 0, 0
	next := 0
	stack := make([][2]int, 0, 64)

	for z := 0; z < g.Height; z++ {
		for x := 0; x < g.Width; x++ {
			if !g.Occupied(x, z) || label[z*g.Width+x] != 0 {
				continue
			}
			next++
			size := 0
			stack = append(stack[:0], [2]int{x, z})
			label[z*g.Width+x] = next
			for len(stack) > 0 {
				c := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, nz := c[0]+d[0], c[1]+d[1]
					if g.Occupied(nx, nz) && label[nz*g.Width+nx] == 0 {
						label[nz*g.Width+nx] = next
						stack = append(stack, [2]int{nx, nz})
					}
				}
			}
			if size > bestSize {
				best, bestSize = next, size
			}
		}
	}

	for i, l := range label {
		if l != best {
			g.cells[i] = Empty
		}
	}
}
