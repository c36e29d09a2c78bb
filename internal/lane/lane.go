// Package lane serializes work per key.
//
// Every key (a session id, a broadcast source) gets its own FIFO worker,
// started on first use and retired after it has been idle for a while. A task
// that blocks only holds up its own key; other keys keep flowing.
package lane

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("lane manager stopped")

// Task is a unit of work run on a lane.
type Task func(ctx context.Context)

// lane is one key's queue. Every field but key and wake is guarded by
// Manager.mu.
type lane struct {
	key        string
	tasks      []Task
	wake       chan struct{}
	busy       bool
	backlogged bool
	lastActive time.Time
}

func (l *lane) pending() int {
	if l.busy {
		return len(l.tasks) + 1
	}
	return len(l.tasks)
}

// Manager owns all lanes.
type Manager struct {
	mu          sync.Mutex
	lanes       map[string]*lane
	idleTimeout time.Duration
	queueSize   int
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerConfig configures a lane Manager.
type ManagerConfig struct {
	IdleTimeout time.Duration // Worker exit after this long without work (default 5m)
	QueueSize   int           // Queued tasks per lane before a backlog warning (default 100)
}

// NewManager creates a lane manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		lanes:       make(map[string]*lane),
		idleTimeout: cfg.IdleTimeout,
		queueSize:   cfg.QueueSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue appends task to key's lane and returns without waiting. It never
// blocks: a lane whose worker is stuck keeps growing its backlog instead of
// holding up the caller.
func (m *Manager) Enqueue(key string, task Task) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	l, ok := m.lanes[key]
	if !ok {
		l = &lane{key: key, wake: make(chan struct{}, 1), lastActive: time.Now()}
		m.lanes[key] = l
		m.wg.Add(1)
		go m.runWorker(l)
	}
	l.tasks = append(l.tasks, task)
	if n := len(l.tasks); n > m.queueSize && !l.backlogged {
		l.backlogged = true
		log.Printf("[Lane] ⚠️ Lane %s backlog at %d tasks", key, n)
	}
	m.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Submit runs task on key's lane and waits for it to finish.
func (m *Manager) Submit(ctx context.Context, key string, task Task) error {
	done := make(chan struct{})
	err := m.Enqueue(key, func(laneCtx context.Context) {
		defer close(done)
		task(laneCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrStopped
	}
}

// next pops the lane's oldest task and marks the lane busy.
func (m *Manager) next(l *lane) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	task := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	if len(l.tasks) == 0 {
		l.tasks = nil
		l.backlogged = false
	}
	l.busy = true
	return task, true
}

func (m *Manager) runWorker(l *lane) {
	defer m.wg.Done()
	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		if m.ctx.Err() != nil {
			return
		}
		if task, ok := m.next(l); ok {
			m.run(l.key, task)

			m.mu.Lock()
			l.busy = false
			l.lastActive = time.Now()
			m.mu.Unlock()
			idle.Reset(m.idleTimeout)
			continue
		}

		select {
		case <-l.wake:
		case <-idle.C:
			m.mu.Lock()
			if len(l.tasks) == 0 {
				delete(m.lanes, l.key)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			idle.Reset(m.idleTimeout)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) run(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Lane] ⚠️ Task on %s panicked: %v", key, r)
		}
	}()
	task(m.ctx)
}

// Stop cancels running tasks and waits for every worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Stats returns lane manager statistics.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, pending := 0, 0
	for _, l := range m.lanes {
		if l.busy {
			active++
		}
		pending += l.pending()
	}
	return map[string]any{
		"totalLanes":  len(m.lanes),
		"activeLanes": active,
		"pending":     pending,
	}
}

// ActiveCount returns the number of lanes currently running a task.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, l := range m.lanes {
		if l.busy {
			count++
		}
	}
	return count
}

// Len returns the number of live lanes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}
