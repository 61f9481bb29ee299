package viewers

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nightfeed/mazeshow/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const eps = 1e-9

func newBound(t *testing.T, cfg Config) (*Economy, *ScorePool) {
	t.Helper()
	pool := NewScorePool()
	e := New(1, cfg, zap.NewNop())
	e.SetScorePool(pool)
	return e, pool
}

func TestTick_ExponentialCompoundsWhileVisible(t *testing.T) {
	e, pool := newBound(t, Config{Mode: Exponential, AddAmount: 1.5, RemoveAmount: 1.5, TickInterval: time.Second})
	e.SetVisible(true)

	want := []float64{1.5, 2.25, 3.375}
	for i, w := range want {
		e.Tick()
		assert.InDelta(t, w, e.State().AddRate, eps, "tick %d", i+1)
		assert.Equal(t, 1.0, e.State().Multiplier)
	}
	s := pool.Snapshot()
	assert.InDelta(t, 7.125, s.Viewers, eps)
	// 0 + trunc(2.25*3.75/5)=1 + trunc(3.375*7.125/5)=4
	assert.Equal(t, int64(5), s.Likes)
}

func TestTick_LinearRateIgnoresHistory(t *testing.T) {
	e, pool := newBound(t, Config{Mode: Linear, AddAmount: 2, RemoveAmount: 1, TickInterval: time.Second})
	e.SetVisible(true)

	for i := 0; i < 5; i++ {
		e.Tick()
		assert.Equal(t, 2.0, e.State().AddRate, "tick %d", i+1)
		assert.Zero(t, e.State().RemoveRate)
	}
	assert.InDelta(t, 10.0, pool.Snapshot().Viewers, eps)
	assert.InDelta(t, 10.0, e.State().Accumulator, eps)
}

func TestTick_MultiplierStaysInUnitRange(t *testing.T) {
	e, _ := newBound(t, Config{Mode: Exponential, AddAmount: 2, RemoveAmount: 2, TickInterval: time.Second, DecayStep: 0.3})
	e.SetVisible(true)

	for i := 0; i < 20; i++ {
		e.Tick()
		m := e.State().Multiplier
		assert.GreaterOrEqual(t, m, 0.0)
		assert.LessOrEqual(t, m, 1.0)
	}
	assert.Zero(t, e.State().Multiplier)
	assert.Zero(t, e.State().AddRate, "a fully fatigued monster brings no viewers")
}

func TestTick_FatigueDampensFreshRate(t *testing.T) {
	e, _ := newBound(t, Config{Mode: Linear, AddAmount: 10, RemoveAmount: 1, TickInterval: time.Second, DecayStep: 0.25})
	e.SetVisible(true)

	e.Tick()
	assert.InDelta(t, 10.0, e.State().AddRate, eps) // multiplier was still 1
	e.Tick()
	assert.InDelta(t, 7.5, e.State().AddRate, eps)
	e.Tick()
	assert.InDelta(t, 5.0, e.State().AddRate, eps)
	assert.InDelta(t, 0.25, e.State().Multiplier, eps)
}

func TestTick_CrossfadeSuppressesOppositeRate(t *testing.T) {
	e, pool := newBound(t, Config{Mode: Exponential, AddAmount: 2, RemoveAmount: 2, TickInterval: time.Second})

	type step struct {
		visible          bool
		add, remove, acc float64
		viewers          float64
	}
	steps := []step{
		{true, 2, 0, 2, 2},
		{true, 4, 0, 6, 6},
		{false, 2, 2, 6, 6}, // remove ramps in, add bleeds down
		{false, 0, 4, 2, 2},
		{true, 2, 2, 2, 2}, // add returns and eats into remove
		{true, 4, 0, 6, 6},
	}
	for i, s := range steps {
		e.SetVisible(s.visible)
		e.Tick()
		st := e.State()
		assert.InDelta(t, s.add, st.AddRate, eps, "add at tick %d", i+1)
		assert.InDelta(t, s.remove, st.RemoveRate, eps, "remove at tick %d", i+1)
		assert.InDelta(t, s.acc, st.Accumulator, eps, "accumulator at tick %d", i+1)
		assert.InDelta(t, s.viewers, pool.Snapshot().Viewers, eps, "viewers at tick %d", i+1)
		assert.GreaterOrEqual(t, st.AddRate, 0.0)
		assert.GreaterOrEqual(t, st.RemoveRate, 0.0)
	}
	// Likes follow addRate even on the draining tick (tick 3).
	assert.Equal(t, int64(4+2+4), pool.Snapshot().Likes)
}

func TestTick_DeficitIsCorrectedOnceAndAccumulatorResets(t *testing.T) {
	e, pool := newBound(t, Config{Mode: Linear, AddAmount: 1, RemoveAmount: 3, TickInterval: time.Second})
	e.SetVisible(true)
	e.Tick()
	e.Tick()
	require.InDelta(t, 2.0, pool.Snapshot().Viewers, eps)

	e.SetVisible(false)
	e.Tick()
	st := e.State()
	assert.Equal(t, 0.0, st.Accumulator)
	assert.Zero(t, st.AddRate)
	assert.Zero(t, st.RemoveRate)
	assert.InDelta(t, 0.0, pool.Snapshot().Viewers, eps, "only the two viewers this monster brought are removed")

	// Nothing left to remove: further hidden ticks are inert.
	e.Tick()
	e.Tick()
	assert.InDelta(t, 0.0, pool.Snapshot().Viewers, eps)
	assert.Equal(t, 0.0, e.State().Accumulator)
}

func TestTick_DrainNeverTakesOtherMonstersViewers(t *testing.T) {
	pool := NewScorePool()
	a := New(1, Config{Mode: Linear, AddAmount: 1, RemoveAmount: 3, TickInterval: time.Second}, nil)
	b := New(2, Config{Mode: Linear, AddAmount: 5, RemoveAmount: 1, TickInterval: time.Second}, nil)
	a.SetScorePool(pool)
	b.SetScorePool(pool)

	a.SetVisible(true)
	b.SetVisible(true)
	a.Tick()
	a.Tick()
	b.Tick()
	require.InDelta(t, 7.0, pool.Snapshot().Viewers, eps)

	b.SetVisible(false)
	a.SetVisible(false)
	a.Tick()
	assert.InDelta(t, 5.0, pool.Snapshot().Viewers, eps)
}

func TestTick_ViewersNeverDropFasterThanRemoveAmount(t *testing.T) {
	cfg := Config{Mode: Linear, AddAmount: 1.5, RemoveAmount: 0.75, TickInterval: time.Second, DecayStep: 0.005}
	e, pool := newBound(t, cfg)
	rng := rand.New(rand.NewSource(7))

	prev := 0.0
	for i := 0; i < 500; i++ {
		e.SetVisible(rng.Intn(3) == 0)
		e.Tick()
		cur := pool.Snapshot().Viewers
		assert.GreaterOrEqual(t, cur, -eps, "tick %d", i)
		assert.LessOrEqual(t, prev-cur, cfg.RemoveAmount+eps, "tick %d", i)
		assert.GreaterOrEqual(t, e.State().Accumulator, 0.0)
		prev = cur
	}
}

func TestTick_RequestedFlagDoesNotAffectSimulation(t *testing.T) {
	plain, plainPool := newBound(t, DefaultConfig())
	flagged, flaggedPool := newBound(t, DefaultConfig())
	flagged.SetRequested(true)

	for _, vis := range []bool{true, true, false, true, false, false} {
		plain.SetVisible(vis)
		flagged.SetVisible(vis)
		plain.Tick()
		flagged.Tick()
	}
	assert.Equal(t, plainPool.Snapshot(), flaggedPool.Snapshot())
	assert.True(t, flagged.State().Requested)
}

func TestStart_WithoutPoolDisablesPermanently(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := New(9, DefaultConfig(), zap.New(core))
	tl := scheduler.NewTimeline(nil)

	err := e.Start(tl)
	assert.ErrorIs(t, err, ErrNoScorePool)
	assert.True(t, e.State().Disabled)
	assert.Zero(t, tl.Len())
	assert.Equal(t, 1, logs.Len())

	e.SetScorePool(NewScorePool())
	assert.ErrorIs(t, e.Start(tl), ErrDisabled)
	e.SetVisible(true)
	e.Tick()
	assert.Zero(t, e.State().AddRate)
}

func TestStart_TicksOnTimelineUntilStopped(t *testing.T) {
	e, pool := newBound(t, Config{Mode: Linear, AddAmount: 1, RemoveAmount: 1, TickInterval: 500 * time.Millisecond})
	tl := scheduler.NewTimeline(nil)
	require.NoError(t, e.Start(tl))
	assert.Equal(t, []string{"viewers/1"}, tl.Names())

	e.SetVisible(true)
	tl.Advance(1499 * time.Millisecond)
	assert.InDelta(t, 2.0, pool.Snapshot().Viewers, eps)
	tl.Advance(time.Millisecond)
	assert.InDelta(t, 3.0, pool.Snapshot().Viewers, eps)

	e.Stop()
	tl.Advance(5 * time.Second)
	assert.InDelta(t, 3.0, pool.Snapshot().Viewers, eps)
	assert.Zero(t, tl.Len())
}

func TestConfigure_ReschedulesRunningTicker(t *testing.T) {
	e, pool := newBound(t, DefaultConfig())
	tl := scheduler.NewTimeline(nil)
	require.NoError(t, e.Start(tl))
	e.SetVisible(true)

	e.Configure(Linear, 1, 1, 250*time.Millisecond, 0)
	tl.Advance(time.Second)
	assert.InDelta(t, 4.0, pool.Snapshot().Viewers, eps)
}

func TestConfigure_ClampsInvalidValues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := New(3, DefaultConfig(), zap.New(core))

	e.Configure(Exponential, 0.5, 1.0, 0, 0.01)
	cfg := e.Config()
	assert.Equal(t, 1.1, cfg.AddAmount)
	assert.Equal(t, 1.1, cfg.RemoveAmount)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 3, logs.Len())

	e.Configure(Linear, -2, -1, -time.Second, -0.5)
	cfg = e.Config()
	assert.Equal(t, 1.0, cfg.AddAmount)
	assert.Equal(t, 0.5, cfg.RemoveAmount)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 0.01, cfg.DecayStep)
	assert.Equal(t, 7, logs.Len())
}

func TestConfigure_KeepsValidValues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := New(4, Config{Mode: Linear, AddAmount: 0, RemoveAmount: 0.2, TickInterval: 2 * time.Second, DecayStep: 0}, zap.New(core))
	cfg := e.Config()
	assert.Equal(t, 0.0, cfg.AddAmount)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Zero(t, logs.Len())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Exponential")
	require.NoError(t, err)
	assert.Equal(t, Exponential, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Linear, m)

	_, err = ParseMode("quadratic")
	assert.Error(t, err)

	var mm Mode
	require.NoError(t, mm.UnmarshalText([]byte("exp")))
	assert.Equal(t, "exponential", mm.String())
}
