package telemetry

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("", nil)
	require.NoError(t, err)
	assert.Nil(t, om)

	// A nil manager is a no-op.
	assert.NoError(t, om.WriteScore("a", ScoreRow{}))
	assert.NoError(t, om.WriteConfig(RunConfig{ID: "a"}))
	assert.NoError(t, om.Finish("a", RunResult{}))
	assert.NoError(t, om.Close())
	assert.Empty(t, om.Dir())
	om.Attach(hook.NewCenter(nil))
}

func TestWriteScore_HeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir, nil)
	require.NoError(t, err)

	require.NoError(t, om.WriteScore("a1", ScoreRow{SimTimeMs: 1000, Viewers: 1, Likes: 0, Version: 1}))
	require.NoError(t, om.WriteScore("a1", ScoreRow{SimTimeMs: 2000, Viewers: 2, Likes: 1, Version: 2}))
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "a1", "score.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "sim_time_ms,viewers,likes,version\n"))
	assert.Equal(t, 1, strings.Count(string(data), "sim_time_ms"))

	var rows []ScoreRow
	require.NoError(t, gocsv.UnmarshalBytes(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, ScoreRow{SimTimeMs: 2000, Viewers: 2, Likes: 1, Version: 2}, rows[1])
}

func TestAttach_WritesConfigScoresAndResult(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir, nil)
	require.NoError(t, err)
	hc := hook.NewCenter(nil)
	om.Attach(hc)

	cfg := world.ArenaConfig{
		Rows:     []string{"#####"},
		Monsters: 1,
		Economy:  viewers.Config{Mode: viewers.Exponential, AddAmount: 1.5, RemoveAmount: 1.5, TickInterval: time.Second},
	}
	a, err := world.NewArena("arena-1", cfg, world.Deps{Hooks: hc, Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)
	require.NoError(t, om.WriteConfig(NewRunConfig(a.Snapshot(), a.Config())))

	ids, err := a.Spawn(1)
	require.NoError(t, err)
	require.NoError(t, a.SetVisible(ids[0], true))
	a.Step(time.Second)
	a.Step(time.Second)
	a.Stop()

	var rc RunConfig
	readYAML(t, filepath.Join(dir, "arena-1", "config.yaml"), &rc)
	assert.Equal(t, "arena-1", rc.ID)
	assert.Equal(t, []string{"#####"}, rc.Layout)
	assert.Equal(t, "exponential", rc.Economy.Mode)
	assert.Equal(t, "1s", rc.Economy.TickInterval)

	var rows []ScoreRow
	f, err := os.Open(filepath.Join(dir, "arena-1", "score.csv"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2000), rows[1].SimTimeMs)

	var res RunResult
	readYAML(t, filepath.Join(dir, "arena-1", "result.yaml"), &res)
	assert.Equal(t, a.Pool().Snapshot().Likes, res.Likes)
	assert.Equal(t, int64(2000), res.SimTimeMs)
	assert.Equal(t, 1, res.Monsters)
}

func readYAML(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, v))
}
