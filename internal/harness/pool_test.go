package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

// fakeProcess is a scriptable Process for pool and executor tests.
type fakeProcess struct {
	pid    int
	output chan OutputChunk
	exit   chan ExitResult

	mu     sync.Mutex
	inputs []string
	killed bool
	once   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:    4242,
		output: make(chan OutputChunk, 64),
		exit:   make(chan ExitResult, 1),
	}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) SendInput(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return errors.New("process gone")
	}
	p.inputs = append(p.inputs, text)
	return nil
}

func (p *fakeProcess) Kill(reason string) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.killed = true
		p.mu.Unlock()
		close(p.output)
		p.exit <- ExitResult{Code: -1, Err: errors.New("killed: " + reason)}
	})
	return nil
}

func (p *fakeProcess) Output() <-chan OutputChunk { return p.output }
func (p *fakeProcess) Exit() <-chan ExitResult    { return p.exit }

// emit queues one line of stdout.
func (p *fakeProcess) emit(line string) {
	p.output <- OutputChunk{Data: []byte(line + "\n")}
}

// finish ends the process with the given exit code.
func (p *fakeProcess) finish(code int) {
	p.once.Do(func() {
		close(p.output)
		p.exit <- ExitResult{Code: code}
	})
}

func (p *fakeProcess) sentInputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.inputs))
	copy(out, p.inputs)
	return out
}

// fakeSpawner hands out pre-scripted processes in order.
type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	errs    []error
	spawned int
}

func (s *fakeSpawner) Spawn(_ context.Context, _ core.ExecConfig) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.spawned
	s.spawned++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.procs) {
		return s.procs[i], nil
	}
	return newFakeProcess(), nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2, &fakeSpawner{}, logging.NewNop())

	ctx := context.Background()
	require.NoError(t, pool.Acquire(ctx))
	require.NoError(t, pool.Acquire(ctx))

	// Third acquire must block until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := pool.Acquire(blocked)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatCancelled))

	pool.Release("task_a")
	require.NoError(t, pool.Acquire(ctx))
}

func TestPoolFIFOAdmission(t *testing.T) {
	pool := NewPool(1, &fakeSpawner{}, logging.NewNop())
	ctx := context.Background()
	require.NoError(t, pool.Acquire(ctx))

	order := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, pool.Acquire(ctx))
			order <- n
		}(i)
		// Stagger so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	pool.Release("t1")
	assert.Equal(t, 1, <-order, "first queued waiter admitted first")
	pool.Release("t2")
	assert.Equal(t, 2, <-order)
	wg.Wait()
}

func TestPoolQueuedCancelFreesNoSlot(t *testing.T) {
	pool := NewPool(1, &fakeSpawner{}, logging.NewNop())
	ctx := context.Background()
	require.NoError(t, pool.Acquire(ctx))

	waitCtx, cancelWait := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Acquire(waitCtx) }()

	time.Sleep(20 * time.Millisecond)
	cancelWait()
	require.Error(t, <-errCh)

	// The slot held before the cancelled wait is still usable.
	pool.Release("t1")
	require.NoError(t, pool.Acquire(ctx))
}

func TestPoolTracksHandles(t *testing.T) {
	proc := newFakeProcess()
	pool := NewPool(1, &fakeSpawner{procs: []*fakeProcess{proc}}, logging.NewNop())
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx))
	got, err := pool.Spawn(ctx, "task_1", core.ExecConfig{Command: "claude"})
	require.NoError(t, err)
	assert.Equal(t, proc.PID(), got.PID())
	assert.True(t, pool.Has("task_1"))
	assert.Equal(t, 1, pool.Running())

	require.NoError(t, pool.SendInput("task_1", "yes"))
	assert.Equal(t, []string{"yes"}, proc.sentInputs())

	pool.Release("task_1")
	assert.False(t, pool.Has("task_1"))
	assert.Error(t, pool.SendInput("task_1", "late"), "released task has no process")
	assert.NoError(t, pool.Kill("task_1", "noop"), "kill without a process is not an error")
}
