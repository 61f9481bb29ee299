package scheduler

import (
	"container/heap"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Timeline is a simulated-time task queue. Time only moves when the owner
// calls Advance, and due tasks run on the caller's goroutine in due order
// (ties broken by registration order). A Timeline is not safe for
// concurrent use; it belongs to exactly one loop.
type Timeline struct {
	now    time.Duration
	seq    uint64
	queue  taskQueue
	byName map[string]*timelineTask
	logger *zap.Logger
}

type timelineTask struct {
	name     string
	due      time.Duration
	interval time.Duration // 0 for one-shot delays
	fn       TaskFn
	seq      uint64
	dead     bool
	index    int
}

// NewTimeline creates an empty Timeline at time zero.
func NewTimeline(logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{
		byName: make(map[string]*timelineTask),
		logger: logger,
	}
}

// Now returns the simulated time elapsed since the Timeline was created.
func (tl *Timeline) Now() time.Duration { return tl.now }

// Len returns the number of live tasks.
func (tl *Timeline) Len() int { return len(tl.byName) }

// AddTicker registers fn to run every interval, first at Now()+interval.
// A task with the same name is replaced.
func (tl *Timeline) AddTicker(name string, interval time.Duration, fn TaskFn) {
	if interval <= 0 {
		tl.logger.Warn("timeline ticker rejected: non-positive interval",
			zap.String("task", name), zap.Duration("interval", interval))
		return
	}
	tl.add(name, interval, interval, fn)
}

// AddDelay runs fn once at Now()+delay. A pending task with the same name
// is replaced.
func (tl *Timeline) AddDelay(name string, delay time.Duration, fn TaskFn) {
	if delay < 0 {
		delay = 0
	}
	tl.add(name, delay, 0, fn)
}

func (tl *Timeline) add(name string, after, interval time.Duration, fn TaskFn) {
	tl.Remove(name)
	tl.seq++
	t := &timelineTask{
		name:     name,
		due:      tl.now + after,
		interval: interval,
		fn:       fn,
		seq:      tl.seq,
	}
	tl.byName[name] = t
	heap.Push(&tl.queue, t)
}

// Remove cancels the task with the given name. Unknown names are ignored.
func (tl *Timeline) Remove(name string) {
	if t, ok := tl.byName[name]; ok {
		t.dead = true
		delete(tl.byName, name)
	}
}

// Names returns the live task names, sorted.
func (tl *Timeline) Names() []string {
	names := make([]string, 0, len(tl.byName))
	for name := range tl.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Advance moves simulated time forward by dt, running every task that
// falls due on the way. Tasks never run before their due time.
func (tl *Timeline) Advance(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	target := tl.now + dt
	for tl.queue.Len() > 0 {
		next := tl.queue[0]
		if next.dead {
			heap.Pop(&tl.queue)
			continue
		}
		if next.due > target {
			break
		}
		heap.Pop(&tl.queue)
		tl.now = next.due
		if next.interval == 0 {
			next.dead = true
			delete(tl.byName, next.name)
		}
		tl.run(next)
		if next.interval > 0 && !next.dead {
			next.due += next.interval
			heap.Push(&tl.queue, next)
		}
	}
	tl.now = target
}

func (tl *Timeline) run(t *timelineTask) {
	defer func() {
		if r := recover(); r != nil {
			tl.logger.Error("timeline task panicked",
				zap.String("task", t.name),
				zap.Any("recover", r))
		}
	}()
	t.fn()
}

// taskQueue is a min-heap ordered by (due, seq).
type taskQueue []*timelineTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*timelineTask)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
