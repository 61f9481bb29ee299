package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeline_TickerFiresOnInterval(t *testing.T) {
	tl := NewTimeline(newNop())

	var fired []time.Duration
	tl.AddTicker("tick", time.Second, func() { fired = append(fired, tl.Now()) })

	tl.Advance(999 * time.Millisecond)
	assert.Empty(t, fired, "ticker must not fire early")

	tl.Advance(2100 * time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, fired)
	assert.Equal(t, 3099*time.Millisecond, tl.Now())
}

func TestTimeline_DelayFiresOnce(t *testing.T) {
	tl := NewTimeline(newNop())

	count := 0
	tl.AddDelay("once", 500*time.Millisecond, func() { count++ })
	tl.Advance(499 * time.Millisecond)
	assert.Equal(t, 0, count)
	tl.Advance(time.Millisecond)
	assert.Equal(t, 1, count)
	tl.Advance(10 * time.Second)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, tl.Len())
}

func TestTimeline_ReplaceCancelsOld(t *testing.T) {
	tl := NewTimeline(newNop())

	got := 0
	tl.AddDelay("d", time.Second, func() { got += 1 })
	tl.AddDelay("d", 2*time.Second, func() { got += 10 })
	tl.Advance(5 * time.Second)
	assert.Equal(t, 10, got)
}

func TestTimeline_Remove(t *testing.T) {
	tl := NewTimeline(newNop())

	count := 0
	tl.AddTicker("t", 100*time.Millisecond, func() { count++ })
	tl.Advance(250 * time.Millisecond)
	require.Equal(t, 2, count)
	tl.Remove("t")
	tl.Advance(time.Second)
	assert.Equal(t, 2, count)
	tl.Remove("missing") // must not panic
}

func TestTimeline_OrderByDueThenRegistration(t *testing.T) {
	tl := NewTimeline(newNop())

	var order []string
	tl.AddTicker("b", time.Second, func() { order = append(order, "b") })
	tl.AddTicker("a", time.Second, func() { order = append(order, "a") })
	tl.AddDelay("early", 500*time.Millisecond, func() { order = append(order, "early") })

	tl.Advance(2 * time.Second)
	assert.Equal(t, []string{"early", "b", "a", "b", "a"}, order)
}

func TestTimeline_TaskCanRemoveItself(t *testing.T) {
	tl := NewTimeline(newNop())

	count := 0
	tl.AddTicker("self", time.Second, func() {
		count++
		if count == 2 {
			tl.Remove("self")
		}
	})
	tl.Advance(10 * time.Second)
	assert.Equal(t, 2, count)
}

func TestTimeline_DelayScheduledFromTaskRunsInSameAdvance(t *testing.T) {
	tl := NewTimeline(newNop())

	var at time.Duration
	tl.AddDelay("first", time.Second, func() {
		tl.AddDelay("second", 500*time.Millisecond, func() { at = tl.Now() })
	})
	tl.Advance(3 * time.Second)
	assert.Equal(t, 1500*time.Millisecond, at)
}

func TestTimeline_PanicRecovered(t *testing.T) {
	tl := NewTimeline(newNop())

	runs := 0
	tl.AddTicker("panic", time.Second, func() {
		runs++
		panic("boom")
	})
	tl.Advance(3 * time.Second)
	assert.Equal(t, 3, runs)
}

func TestTimeline_RejectsNonPositiveInterval(t *testing.T) {
	tl := NewTimeline(newNop())
	tl.AddTicker("bad", 0, func() {})
	assert.Equal(t, 0, tl.Len())
}

func TestTimeline_Names(t *testing.T) {
	tl := NewTimeline(newNop())
	tl.AddTicker("viewers/2", time.Second, func() {})
	tl.AddDelay("patrol/1/resume", time.Second, func() {})
	assert.Equal(t, []string{"patrol/1/resume", "viewers/2"}, tl.Names())
}

var _ Timers = (*Timeline)(nil)
var _ Timers = (*Scheduler)(nil)
