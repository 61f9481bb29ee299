package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Timers is the task surface gameplay components schedule against.
// Both the wall-clock Scheduler and the sim-time Timeline implement it.
type Timers interface {
	AddTicker(name string, interval time.Duration, fn TaskFn)
	AddDelay(name string, delay time.Duration, fn TaskFn)
	Remove(name string)
}

// TaskInfo describes one registered wall-clock task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Periodic bool          `json:"periodic"`
	Interval time.Duration `json:"interval"`
	Runs     uint64        `json:"runs"`
	Panics   uint64        `json:"panics"`
}

// Scheduler runs server housekeeping (leaderboard refresh, stats) on the
// wall clock. Tasks run on their own goroutines; anything that must be
// serialized with an arena frame belongs on that arena's Timeline.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*wallTask
	stopped bool
	stopCh  chan struct{}
	logger  *zap.Logger
}

type wallTask struct {
	name     string
	interval time.Duration // 0 for one-shot delays
	cancel   chan struct{}
	timer    *time.Timer // delays only
	runs     atomic.Uint64
	panics   atomic.Uint64
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*wallTask),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// AddTicker runs fn every interval, first after one interval. A task with
// the same name is replaced. Non-positive intervals are rejected.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	if interval <= 0 {
		s.logger.Warn("scheduler ticker rejected: non-positive interval",
			zap.String("task", name), zap.Duration("interval", interval))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.removeLocked(name)

	t := &wallTask{name: name, interval: interval, cancel: make(chan struct{})}
	s.tasks[name] = t
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				s.run(t, fn)
			case <-t.cancel:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("task", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after delay. A task with the same name is replaced.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.removeLocked(name)

	t := &wallTask{name: name, cancel: make(chan struct{})}
	t.timer = time.AfterFunc(max(delay, 0), func() {
		s.mu.Lock()
		live := s.tasks[name] == t
		if live {
			delete(s.tasks, name)
		}
		s.mu.Unlock()
		if live {
			s.run(t, fn)
		}
	})
	s.tasks[name] = t
}

func (s *Scheduler) run(t *wallTask, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			s.logger.Error("scheduler task panicked",
				zap.String("task", t.name),
				zap.Any("recover", r))
		}
	}()
	t.runs.Add(1)
	fn()
}

// Remove cancels a task by name. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	t, ok := s.tasks[name]
	if !ok {
		return
	}
	delete(s.tasks, name)
	close(t.cancel)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Stop cancels every task. Later registrations are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	for name := range s.tasks {
		s.removeLocked(name)
	}
}

// ListTickers returns the names of the periodic tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name, t := range s.tasks {
		if t.interval > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Tasks describes every pending task, sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for name, t := range s.tasks {
		out = append(out, TaskInfo{
			Name:     name,
			Periodic: t.interval > 0,
			Interval: t.interval,
			Runs:     t.runs.Load(),
			Panics:   t.panics.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
