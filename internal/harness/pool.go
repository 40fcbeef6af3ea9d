package harness

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

// DefaultPoolCapacity is the number of harness processes allowed to run
// concurrently when no capacity is configured.
const DefaultPoolCapacity = 2

// Pool bounds concurrent harness processes and owns every live process
// handle. Waiters are admitted in FIFO order; a waiter whose context is
// cancelled leaves the queue without ever holding a slot.
type Pool struct {
	sem      *semaphore.Weighted
	spawner  Spawner
	capacity int
	logger   *logging.Logger

	mu      sync.Mutex
	running map[core.TaskID]Process
}

// NewPool creates a pool with the given capacity. Capacity below 1 is
// coerced to the default.
func NewPool(capacity int, spawner Spawner, logger *logging.Logger) *Pool {
	if capacity < 1 {
		capacity = DefaultPoolCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		spawner:  spawner,
		capacity: capacity,
		logger:   logger,
		running:  make(map[core.TaskID]Process),
	}
}

// Capacity returns the configured slot count.
func (p *Pool) Capacity() int { return p.capacity }

// Acquire blocks until a slot is free or ctx is cancelled. Callers that
// acquire a slot must pair it with Release.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return core.ErrCancelled("cancelled while queued for a worker slot").WithCause(err)
	}
	return nil
}

// Spawn launches a process inside an already-acquired slot and records
// the handle under the task's id.
func (p *Pool) Spawn(ctx context.Context, id core.TaskID, cfg core.ExecConfig) (Process, error) {
	proc, err := p.spawner.Spawn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.running[id] = proc
	p.mu.Unlock()
	p.logger.Debug("process registered in pool", "task_id", string(id), "pid", proc.PID())
	return proc, nil
}

// Release drops the task's handle, if any, and frees its slot.
func (p *Pool) Release(id core.TaskID) {
	p.mu.Lock()
	_, had := p.running[id]
	delete(p.running, id)
	p.mu.Unlock()
	p.sem.Release(1)
	p.logger.Debug("worker slot released", "task_id", string(id), "had_process", had)
}

// SendInput forwards a line to the task's live process.
func (p *Pool) SendInput(id core.TaskID, text string) error {
	proc, ok := p.get(id)
	if !ok {
		return core.ErrNotFound("running process", string(id))
	}
	return proc.SendInput(text)
}

// Kill terminates the task's live process. Returns nil when no process
// is registered; killing an already-gone process is not an error.
func (p *Pool) Kill(id core.TaskID, reason string) error {
	proc, ok := p.get(id)
	if !ok {
		return nil
	}
	return proc.Kill(reason)
}

// Running reports how many processes currently hold slots.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Has reports whether the task has a registered live process.
func (p *Pool) Has(id core.TaskID) bool {
	_, ok := p.get(id)
	return ok
}

func (p *Pool) get(id core.TaskID) (Process, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.running[id]
	return proc, ok
}
