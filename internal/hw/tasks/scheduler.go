package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/MountGo/internal/debug"
)

// SubMicrosPerMicro is the number of timer sub-microsecond units in one microsecond.
const SubMicrosPerMicro = 16

// maxLag bounds how far a task may fall behind before its schedule is re-phased
// instead of bursting to catch up.
const maxLag = 10 * time.Millisecond

// Handle identifies a registered task. The zero Handle is never returned by Add.
type Handle int

type task struct {
	name   string
	fn     func()
	period atomic.Uint32 // sub-microseconds, 0 = stopped
	ticks  atomic.Uint64
	wake   chan struct{}
}

// Scheduler runs each registered callback periodically in its own goroutine.
// It has no hardware timers: RequestHardwareTimer always refuses, and callers
// fall back to the software period.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	ctx     context.Context
	wg      sync.WaitGroup
	running bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add registers fn under name, initially stopped (period 0).
// Tasks added while the scheduler is running start immediately.
func (s *Scheduler) Add(name string, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{name: name, fn: fn, wake: make(chan struct{}, 1)}
	s.tasks = append(s.tasks, t)
	if s.running {
		s.start(t)
	}
	debug.Verbose("tasks: added %s as handle %d", name, len(s.tasks))
	return Handle(len(s.tasks))
}

// RequestHardwareTimer asks for task h to be driven by hardware timer number timer.
func (s *Scheduler) RequestHardwareTimer(h Handle, timer, priority int) bool {
	if t := s.get(h); t != nil {
		debug.Verbose("tasks: no hardware timer %d (priority %d) for %s", timer, priority, t.name)
	}
	return false
}

// SetPeriodSubMicros reprograms the period of task h. A period of 0 stops it.
func (s *Scheduler) SetPeriodSubMicros(h Handle, period uint32) {
	t := s.get(h)
	if t == nil {
		return
	}
	if t.period.Swap(period) == period {
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// PeriodSubMicros returns the programmed period of task h.
func (s *Scheduler) PeriodSubMicros(h Handle) uint32 {
	if t := s.get(h); t != nil {
		return t.period.Load()
	}
	return 0
}

// Ticks returns how many times task h has run.
func (s *Scheduler) Ticks(h Handle) uint64 {
	if t := s.get(h); t != nil {
		return t.ticks.Load()
	}
	return 0
}

// Run starts all tasks and blocks until ctx is cancelled and every task has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.running = true
	for _, t := range s.tasks {
		s.start(t)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) get(h Handle) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h <= 0 || int(h) > len(s.tasks) {
		return nil
	}
	return s.tasks[h-1]
}

// start must be called with s.mu held.
func (s *Scheduler) start(t *task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.loop(s.ctx)
	}()
}

func periodDuration(p uint32) time.Duration {
	return time.Duration(uint64(p) * uint64(time.Microsecond) / SubMicrosPerMicro)
}

func (t *task) loop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	var next time.Time
	for {
		p := t.period.Load()
		if p == 0 {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
				next = time.Time{}
				continue
			}
		}

		now := time.Now()
		if next.IsZero() || now.Sub(next) > maxLag {
			next = now
		}
		next = next.Add(periodDuration(p))
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			// New period: restart the schedule from now.
			next = time.Time{}
			continue
		case <-timer.C:
		}

		t.fn()
		t.ticks.Add(1)
	}
}
