// Package lanes runs generation work on named lanes with a concurrency cap
// and a pending cap per lane.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/chorus/internal/logging"
)

// Lane names
const (
	LaneReply = "reply" // one task per profile reply
	LaneSpawn = "spawn" // participant generation
)

var (
	// ErrLaneFull is returned when a lane already holds its maximum of
	// queued plus active tasks.
	ErrLaneFull = errors.New("lanes: lane full")
	// ErrShutdown is returned for work submitted to, or still queued on, a
	// stopped manager.
	ErrShutdown = errors.New("lanes: manager shut down")
)

var log = logging.Named("lanes")

// Limits bounds one lane. Zero MaxConcurrent means unlimited; zero
// MaxPending means no pending cap.
type Limits struct {
	MaxConcurrent int
	MaxPending    int
}

// Task is a unit of lane work.
type Task struct {
	ID          string
	Lane        string
	Description string
	Run         func(ctx context.Context) error
	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
	OnWait      func(waitMs int64, queuedAhead int)
	WarnAfterMs int64
}

type entry struct {
	task    *Task
	resolve chan error
	ctx     context.Context
	cancel  context.CancelFunc
}

type laneState struct {
	name   string
	limits Limits
	queue  []*entry
	active []*entry
	notify chan struct{} // buffered(1) wakeup for the pump
	stopCh chan struct{}
	mu     sync.Mutex
}

// Manager owns a set of lanes.
type Manager struct {
	mu      sync.RWMutex
	lanes   map[string]*laneState
	onEvent func(Event)
	closed  bool
	running sync.WaitGroup // pumps and task goroutines
}

// NewManager creates a manager. Lanes not configured up front are created
// on first use with a concurrency of one and no pending cap.
func NewManager() *Manager {
	return &Manager{lanes: make(map[string]*laneState)}
}

// OnEvent registers a callback for task lifecycle events. Register before
// submitting work.
func (m *Manager) OnEvent(fn func(Event)) {
	m.onEvent = fn
}

func (m *Manager) emit(ev Event) {
	if fn := m.onEvent; fn != nil {
		fn(ev)
	}
}

// Configure sets the limits of a lane, creating it when needed.
func (m *Manager) Configure(lane string, limits Limits) {
	if limits.MaxConcurrent < 0 {
		limits.MaxConcurrent = 0
	}
	if limits.MaxPending < 0 {
		limits.MaxPending = 0
	}
	state, err := m.laneState(lane)
	if err != nil {
		return
	}
	state.mu.Lock()
	state.limits = limits
	state.mu.Unlock()
	state.wake()
}

func (m *Manager) laneState(lane string) (*laneState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShutdown
	}
	if state, ok := m.lanes[lane]; ok {
		return state, nil
	}
	state := &laneState{
		name:   lane,
		limits: Limits{MaxConcurrent: 1},
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	m.lanes[lane] = state
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		state.run(m)
	}()
	return state, nil
}

// Enqueue adds a task and waits for it to finish.
func (m *Manager) Enqueue(ctx context.Context, lane string, run func(ctx context.Context) error, opts ...Option) error {
	e, err := m.submit(ctx, lane, run, opts)
	if err != nil {
		return err
	}
	select {
	case err := <-e.resolve:
		return err
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// EnqueueAsync adds a task without waiting for it. The returned id names the
// task in events and stats. ErrLaneFull means the task was not accepted.
func (m *Manager) EnqueueAsync(ctx context.Context, lane string, run func(ctx context.Context) error, opts ...Option) (string, error) {
	e, err := m.submit(ctx, lane, run, opts)
	if err != nil {
		return "", err
	}
	return e.task.ID, nil
}

func (m *Manager) submit(ctx context.Context, lane string, run func(ctx context.Context) error, opts []Option) (*entry, error) {
	if lane == "" {
		lane = LaneReply
	}
	cfg := &enqueueConfig{warnAfterMs: 2000}
	for _, opt := range opts {
		opt(cfg)
	}

	state, err := m.laneState(lane)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		task: &Task{
			ID:          lane + "-" + uuid.New().String()[:8],
			Lane:        lane,
			Description: cfg.description,
			Run:         run,
			EnqueuedAt:  time.Now(),
			OnWait:      cfg.onWait,
			WarnAfterMs: cfg.warnAfterMs,
		},
		resolve: make(chan error, 1),
		ctx:     taskCtx,
		cancel:  cancel,
	}

	state.mu.Lock()
	pending := len(state.queue) + len(state.active)
	if state.limits.MaxPending > 0 && pending >= state.limits.MaxPending {
		state.mu.Unlock()
		cancel()
		log.Warnf("lane=%s full pending=%d", lane, pending)
		return nil, fmt.Errorf("%w: %s", ErrLaneFull, lane)
	}
	state.queue = append(state.queue, e)
	info := e.info()
	state.mu.Unlock()

	log.Debugf("enqueued task=%s lane=%s pending=%d", e.task.ID, lane, pending+1)
	m.emit(Event{Type: EventEnqueued, Lane: lane, Task: info})
	state.wake()
	return e, nil
}

func (s *laneState) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run is the pump goroutine for a lane.
func (s *laneState) run(m *Manager) {
	for {
		select {
		case <-s.notify:
			s.processAvailable(m)
		case <-s.stopCh:
			return
		}
	}
}

// processAvailable starts queued tasks until the lane is at capacity.
func (s *laneState) processAvailable(m *Manager) {
	for {
		s.mu.Lock()
		atCapacity := s.limits.MaxConcurrent > 0 && len(s.active) >= s.limits.MaxConcurrent
		if atCapacity || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		e := s.queue[0]
		s.queue = s.queue[1:]
		waitedMs := time.Since(e.task.EnqueuedAt).Milliseconds()
		if waitedMs >= e.task.WarnAfterMs && e.task.OnWait != nil {
			e.task.OnWait(waitedMs, len(s.queue))
			log.Warnf("lane=%s wait exceeded waitedMs=%d queueAhead=%d", s.name, waitedMs, len(s.queue))
		}

		s.active = append(s.active, e)
		e.task.StartedAt = time.Now()
		startInfo := e.info()
		m.running.Add(1)
		s.mu.Unlock()

		go func() {
			defer m.running.Done()
			m.emit(Event{Type: EventStarted, Lane: s.name, Task: startInfo})

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("panic in lane=%s task=%s: %v", s.name, e.task.ID, r)
						err = fmt.Errorf("panic in lane task: %v", r)
					}
				}()
				err = e.task.Run(e.ctx)
			}()
			e.cancel()

			s.mu.Lock()
			e.task.CompletedAt = time.Now()
			e.task.Err = err
			for i, a := range s.active {
				if a == e {
					s.active = append(s.active[:i], s.active[i+1:]...)
					break
				}
			}
			durationMs := e.task.CompletedAt.Sub(e.task.StartedAt).Milliseconds()
			doneInfo := e.info()
			s.mu.Unlock()

			if err != nil {
				log.Debugf("task=%s lane=%s failed durationMs=%d: %v", e.task.ID, s.name, durationMs, err)
			} else {
				log.Debugf("task=%s lane=%s done durationMs=%d", e.task.ID, s.name, durationMs)
			}
			m.emit(Event{Type: EventCompleted, Lane: s.name, Task: doneInfo})

			e.resolve <- err
			close(e.resolve)
			s.wake()
		}()
	}
}

// QueueSize returns queued plus active tasks on a lane.
func (m *Manager) QueueSize(lane string) int {
	m.mu.RLock()
	state, ok := m.lanes[lane]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.queue) + len(state.active)
}

// CancelActive cancels the context of every running task on a lane and
// returns how many were cancelled.
func (m *Manager) CancelActive(lane string) int {
	m.mu.RLock()
	state, ok := m.lanes[lane]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	state.mu.Lock()
	active := append([]*entry(nil), state.active...)
	state.mu.Unlock()

	for _, e := range active {
		m.emit(Event{Type: EventCancelled, Lane: lane, Task: e.info()})
		e.cancel()
	}
	return len(active)
}

// Stats returns a snapshot of every lane.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]Stats, len(m.lanes))
	for name, state := range m.lanes {
		state.mu.Lock()
		ls := Stats{
			Lane:          name,
			Queued:        len(state.queue),
			Active:        len(state.active),
			MaxConcurrent: state.limits.MaxConcurrent,
			MaxPending:    state.limits.MaxPending,
		}
		for _, e := range state.active {
			ls.ActiveTasks = append(ls.ActiveTasks, e.info())
		}
		for _, e := range state.queue {
			ls.QueuedTasks = append(ls.QueuedTasks, e.info())
		}
		stats[name] = ls
		state.mu.Unlock()
	}
	return stats
}

// Shutdown stops accepting work, fails queued tasks with ErrShutdown,
// stops the pumps and waits for running tasks to return. Cancel the
// contexts passed to Enqueue first if running tasks should stop early.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	lanes := make([]*laneState, 0, len(m.lanes))
	for _, state := range m.lanes {
		lanes = append(lanes, state)
	}
	m.mu.Unlock()

	for _, state := range lanes {
		state.mu.Lock()
		queued := state.queue
		state.queue = nil
		state.mu.Unlock()
		for _, e := range queued {
			e.cancel()
			e.resolve <- ErrShutdown
			close(e.resolve)
		}
		close(state.stopCh)
	}
	m.running.Wait()
}

func (e *entry) info() TaskInfo {
	info := TaskInfo{
		ID:          e.task.ID,
		Description: e.task.Description,
		EnqueuedAt:  e.task.EnqueuedAt.UnixMilli(),
	}
	if !e.task.StartedAt.IsZero() {
		info.StartedAt = e.task.StartedAt.UnixMilli()
	}
	return info
}

// Stats describes one lane.
type Stats struct {
	Lane          string     `json:"lane"`
	Queued        int        `json:"queued"`
	Active        int        `json:"active"`
	MaxConcurrent int        `json:"max_concurrent"`
	MaxPending    int        `json:"max_pending"`
	ActiveTasks   []TaskInfo `json:"active_tasks,omitempty"`
	QueuedTasks   []TaskInfo `json:"queued_tasks,omitempty"`
}

// TaskInfo summarizes a task.
type TaskInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	EnqueuedAt  int64  `json:"enqueued_at"`
	StartedAt   int64  `json:"started_at,omitempty"`
}

// Event types
const (
	EventEnqueued  = "task_enqueued"
	EventStarted   = "task_started"
	EventCompleted = "task_completed"
	EventCancelled = "task_cancelled"
)

// Event is a task lifecycle event.
type Event struct {
	Type string   `json:"type"`
	Lane string   `json:"lane"`
	Task TaskInfo `json:"task"`
}

// Option configures a submission.
type Option func(*enqueueConfig)

type enqueueConfig struct {
	warnAfterMs int64
	description string
	onWait      func(waitMs int64, queuedAhead int)
}

// WithWarnAfter sets the wait after which OnWait fires.
func WithWarnAfter(ms int64) Option {
	return func(c *enqueueConfig) {
		c.warnAfterMs = ms
	}
}

// WithOnWait sets a callback for tasks that waited too long.
func WithOnWait(fn func(waitMs int64, queuedAhead int)) Option {
	return func(c *enqueueConfig) {
		c.onWait = fn
	}
}

// WithDescription sets a human-readable description for the task
func WithDescription(desc string) Option {
	return func(c *enqueueConfig) {
		c.description = desc
	}
}
