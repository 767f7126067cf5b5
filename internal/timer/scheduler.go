package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a job scheduled for future execution
type Task struct {
	ID    string
	RunAt time.Time
	Run   func()
	index int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of Tasks ordered by RunAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler runs tasks at their due time on a fixed pool of workers. Tasks
// are keyed by ID; scheduling an existing ID replaces the pending task.
type Scheduler struct {
	heap    taskHeap
	tasks   map[string]*Task // for O(1) lookup by ID
	mu      sync.Mutex
	wakeup  chan struct{}
	ready   chan *Task
	workers int
	wg      sync.WaitGroup
	started bool
	stopped bool
	stopCh  chan struct{}

	fired atomic.Uint64
}

// NewScheduler creates a new scheduler with a worker pool
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		ready:   make(chan *Task, workers),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the scheduler loop and its workers
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.run()
}

// Stop stops the scheduler. Pending tasks are discarded; running tasks are
// waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule adds a task to be run at runAt
func (s *Scheduler) Schedule(id string, runAt time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	// Remove existing task with same ID if present
	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{ID: id, RunAt: runAt, Run: fn}
	heap.Push(&s.heap, task)
	s.tasks[id] = task

	// Wake up the loop if this is the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// ScheduleRecurring runs fn at next(now) and, after every run, again at
// next of the completion time, until cancelled or the scheduler stops.
func (s *Scheduler) ScheduleRecurring(id string, next func(time.Time) time.Time, fn func()) error {
	var run func()
	run = func() {
		fn()
		// Fails only once the scheduler is stopped
		_ = s.Schedule(id, next(time.Now()), run)
	}
	return s.Schedule(id, next(time.Now()), run)
}

// Cancel removes a scheduled task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// NextRun returns when the task with id is due
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.RunAt, true
}

// run is the main scheduling loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		var wait time.Duration
		if s.heap.Len() == 0 {
			// No tasks, wait for a wakeup
			wait = 24 * time.Hour
		} else {
			next := s.heap[0]
			wait = time.Until(next.RunAt)

			if wait <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				s.mu.Unlock()

				select {
				case s.ready <- task:
				case <-s.stopCh:
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// worker runs due tasks
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.ready:
			task.Run()
			s.fired.Add(1)
		case <-s.stopCh:
			return
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		ScheduledTasks: len(s.tasks),
		FiredTasks:     s.fired.Load(),
		Workers:        s.workers,
	}
}

// SchedulerStats contains statistics about the scheduler
type SchedulerStats struct {
	ScheduledTasks int
	FiredTasks     uint64
	Workers        int
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
)

// TimerError represents a scheduler error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
