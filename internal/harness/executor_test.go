package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

// recorder captures callbacks on channels so tests can await them.
type recorder struct {
	started   chan int
	progress  chan core.ProgressEntry
	waiting   chan string
	resumed   chan struct{}
	risky     chan string
	completed chan *core.Result
	failed    chan error
	cancelled chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		started:   make(chan int, 8),
		progress:  make(chan core.ProgressEntry, 64),
		waiting:   make(chan string, 8),
		resumed:   make(chan struct{}, 8),
		risky:     make(chan string, 8),
		completed: make(chan *core.Result, 1),
		failed:    make(chan error, 1),
		cancelled: make(chan struct{}, 1),
	}
}

func (r *recorder) Started(_ core.TaskID, pid int)                 { r.started <- pid }
func (r *recorder) Progress(_ core.TaskID, e core.ProgressEntry)   { r.progress <- e }
func (r *recorder) Waiting(_ core.TaskID, q string)                { r.waiting <- q }
func (r *recorder) Resumed(_ core.TaskID)                          { r.resumed <- struct{}{} }
func (r *recorder) Risky(_ core.TaskID, line string)               { r.risky <- line }
func (r *recorder) Completed(_ core.TaskID, res *core.Result)      { r.completed <- res }
func (r *recorder) Failed(_ core.TaskID, err error)                { r.failed <- err }
func (r *recorder) Cancelled(_ core.TaskID)                        { r.cancelled <- struct{}{} }

func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func newTestExecutor(t *testing.T, capacity int, spawner Spawner) *Executor {
	t.Helper()
	pool := NewPool(capacity, spawner, logging.NewNop())
	e := NewExecutor(pool, NewRegistry(), logging.NewNop())
	// Keep retry delays out of test wall time.
	e.retry.InitialDelay = time.Millisecond
	e.retry.MaxDelay = time.Millisecond
	return e
}

func newRunnableTask() *core.Task {
	return core.NewTask("sess", "add a health endpoint", "claude", "/tmp/ws")
}

func TestExecutorCompletionFlow(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 5*time.Second, rec)
	pid := await(t, rec.started, "started")
	assert.Equal(t, 4242, pid)

	proc.emit("Reading project files")
	proc.emit("Created src/api/health.go")
	proc.emit("Modified main.go")
	proc.emit("Task complete. Added the health endpoint.")
	proc.finish(0)

	res := await(t, rec.completed, "completed")
	assert.Equal(t, "Task complete. Added the health endpoint.", res.Summary)
	assert.Equal(t, []string{"src/api/health.go"}, res.FilesCreated)
	assert.Equal(t, []string{"main.go"}, res.FilesModified)
}

func TestExecutorFastExitKeepsBufferedTail(t *testing.T) {
	// The whole run is buffered before the executor starts: output chunks
	// and the exit result are ready in the same select round, so nothing
	// from the tail may be dropped regardless of case order.
	proc := newFakeProcess()
	proc.emit("Created src/api/users.go")
	proc.emit("Task complete. Wrote the module.")
	proc.finish(0)

	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	e.Start(newRunnableTask(), 5*time.Second, rec)

	res := await(t, rec.completed, "completed")
	assert.Equal(t, "Task complete. Wrote the module.", res.Summary)
	assert.Equal(t, []string{"src/api/users.go"}, res.FilesCreated)
}

func TestExecutorZeroExitWithoutMarkerCompletes(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Wrote handlers.go")
	proc.finish(0)

	res := await(t, rec.completed, "completed")
	assert.NotEmpty(t, res.Summary, "summary falls back to output tail")
	assert.Equal(t, []string{"handlers.go"}, res.FilesCreated)
}

func TestExecutorNonZeroExitFails(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("error: cannot resolve import")
	proc.finish(1)

	err := await(t, rec.failed, "failed")
	assert.True(t, core.IsCategory(err, core.ErrCatProcess))
	assert.Contains(t, err.Error(), "1")
}

func TestExecutorCompletionMarkerBeatsExitCode(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Task complete. Everything in place.")
	proc.finish(3)

	res := await(t, rec.completed, "completed")
	assert.Equal(t, "Task complete. Everything in place.", res.Summary)
}

func TestExecutorQuestionSuspendAndRespond(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Overwrite main.go? [y/n]")
	question := await(t, rec.waiting, "waiting")
	assert.Equal(t, "Overwrite main.go? [y/n]", question)

	require.NoError(t, e.Respond(task.ID, "y"))
	await(t, rec.resumed, "resumed")
	assert.Equal(t, []string{"y"}, proc.sentInputs())

	proc.emit("Task complete. Overwritten.")
	proc.finish(0)
	await(t, rec.completed, "completed")
}

func TestExecutorTimeoutKillsProcess(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 100*time.Millisecond, rec)
	await(t, rec.started, "started")

	proc.emit("Analyzing forever")

	err := await(t, rec.failed, "failed")
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
}

func TestExecutorTimeoutReportsPartialOutput(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 100*time.Millisecond, rec)
	await(t, rec.started, "started")

	proc.emit("Rewriting the schema migration")
	// A chunk without a trailing newline stays held in the parser.
	proc.output <- OutputChunk{Data: []byte("Applying migration 3 of")}

	err := await(t, rec.failed, "failed")
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))

	var messages []string
	for done := false; !done; {
		select {
		case p := <-rec.progress:
			messages = append(messages, p.Message)
		default:
			done = true
		}
	}
	assert.Contains(t, messages, "Applying migration 3 of",
		"held partial line is flushed with the timeout")
}

func TestExecutorExitDuringWaitUsesTailOutput(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Keep the legacy endpoint too? [y/n]")
	await(t, rec.waiting, "waiting")

	// The process gives up on the answer and wraps up on its own.
	proc.emit("Task complete. Kept both endpoints.")
	proc.finish(0)

	res := await(t, rec.completed, "completed")
	assert.Equal(t, "Task complete. Kept both endpoints.", res.Summary)
}

func TestExecutorTimeoutPausedWhileWaiting(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 250*time.Millisecond, rec)
	await(t, rec.started, "started")

	proc.emit("Do you want me to continue with the refactor?")
	await(t, rec.waiting, "waiting")

	// Stall well past the whole budget; suspended time must not count.
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, e.Respond(task.ID, "yes"))
	await(t, rec.resumed, "resumed")

	proc.emit("Task complete. Refactor done.")
	proc.finish(0)
	await(t, rec.completed, "completed")
}

func TestExecutorSecondAnswerRejected(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 5*time.Second, rec)
	await(t, rec.started, "started")

	// One answer may be held for the notification race window; a second
	// one with no question pending is refused, not buffered.
	require.NoError(t, e.Respond(task.ID, "first"))
	err := e.Respond(task.ID, "second")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotWaiting))

	proc.finish(0)
	await(t, rec.completed, "completed")
}

func TestExecutorCancelWhileQueued(t *testing.T) {
	procA := newFakeProcess()
	spawner := &fakeSpawner{procs: []*fakeProcess{procA}}
	e := newTestExecutor(t, 1, spawner)

	recA, recB := newRecorder(), newRecorder()
	taskA, taskB := newRunnableTask(), newRunnableTask()

	e.Start(taskA, 5*time.Second, recA)
	await(t, recA.started, "task A started")

	// B queues behind A on the single slot.
	e.Start(taskB, 5*time.Second, recB)
	time.Sleep(50 * time.Millisecond)

	e.Cancel(taskB.ID, "changed my mind")
	await(t, recB.cancelled, "task B cancelled")
	assert.Equal(t, 1, spawner.spawnCount(), "a cancelled queued task never spawns")

	proc := procA
	proc.emit("Task complete.")
	proc.finish(0)
	await(t, recA.completed, "task A completed")
}

func TestExecutorCancelRunning(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 5*time.Second, rec)
	await(t, rec.started, "started")

	e.Cancel(task.ID, "operator request")
	await(t, rec.cancelled, "cancelled")
}

func TestExecutorCancelWhileWaiting(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()
	task := newRunnableTask()

	e.Start(task, 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Proceed with deletion? [y/N]")
	await(t, rec.waiting, "waiting")

	e.Cancel(task.ID, "too risky")
	await(t, rec.cancelled, "cancelled")
	assert.Empty(t, proc.sentInputs(), "no input forwarded to a cancelled run")
}

func TestExecutorSpawnRetry(t *testing.T) {
	proc := newFakeProcess()
	spawner := &fakeSpawner{
		errs:  []error{core.ErrSpawn("transient failure"), nil},
		procs: []*fakeProcess{nil, proc},
	}
	e := newTestExecutor(t, 1, spawner)
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started after retry")
	assert.Equal(t, 2, spawner.spawnCount())

	proc.finish(0)
	await(t, rec.completed, "completed")
}

func TestExecutorSpawnFailureNotRetryable(t *testing.T) {
	spawner := &fakeSpawner{
		errs: []error{core.ErrValidation(core.CodeUnknownWorkspace, "no such workspace")},
	}
	e := newTestExecutor(t, 1, spawner)
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	err := await(t, rec.failed, "failed")
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	assert.Equal(t, 1, spawner.spawnCount(), "validation failures are not retried")
}

func TestExecutorRiskyLineReported(t *testing.T) {
	proc := newFakeProcess()
	e := newTestExecutor(t, 1, &fakeSpawner{procs: []*fakeProcess{proc}})
	rec := newRecorder()

	e.Start(newRunnableTask(), 5*time.Second, rec)
	await(t, rec.started, "started")

	proc.emit("Running rm -rf node_modules")
	line := await(t, rec.risky, "risky")
	assert.Contains(t, line, "rm -rf")

	proc.finish(0)
	await(t, rec.completed, "completed")
}
