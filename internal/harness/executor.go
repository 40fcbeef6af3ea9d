package harness

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

// Callbacks receives lifecycle notifications from a run. Implemented by
// the task layer, which turns them into state transitions and events.
// Calls for one task arrive strictly in order from a single goroutine.
type Callbacks interface {
	// Started fires once the process is live.
	Started(id core.TaskID, pid int)

	// Progress fires for every classified progress or file-operation line.
	Progress(id core.TaskID, entry core.ProgressEntry)

	// Waiting fires when the harness asks a question and the run suspends.
	Waiting(id core.TaskID, question string)

	// Resumed fires after an answer has been forwarded to the process.
	Resumed(id core.TaskID)

	// Risky fires when an output line describes an operation needing
	// explicit approval.
	Risky(id core.TaskID, line string)

	// Completed fires when the run finishes successfully.
	Completed(id core.TaskID, result *core.Result)

	// Failed fires on spawn failure, timeout, or abnormal exit.
	Failed(id core.TaskID, err error)

	// Cancelled fires when a cancel request wins the run.
	Cancelled(id core.TaskID)
}

// Executor drives one goroutine per task through the full lifecycle:
// queue for a slot, spawn, stream output, suspend on questions, and
// finalize. The wall-clock timeout is paused while a run is suspended
// waiting for input; time spent waiting on a human never counts against
// the harness.
type Executor struct {
	pool     *Pool
	registry *Registry
	retry    RetryPolicy
	logger   *logging.Logger

	mu   sync.Mutex
	runs map[core.TaskID]*run
}

// run is the control surface for one in-flight execution.
type run struct {
	answer    chan string
	cancelReq chan string
	// cancelQueue aborts the slot wait while the run is still queued.
	cancelQueue context.CancelFunc
}

// NewExecutor creates an executor over the given pool and registry.
func NewExecutor(pool *Pool, registry *Registry, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		pool:     pool,
		registry: registry,
		retry:    DefaultRetryPolicy(),
		logger:   logger,
		runs:     make(map[core.TaskID]*run),
	}
}

// Start launches the task's run goroutine and returns immediately. The
// caller has already validated and persisted the task as pending.
func (e *Executor) Start(task *core.Task, timeout time.Duration, cb Callbacks) {
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	// answer is buffered so an answer arriving between the waiting
	// notification and the run parking on the channel is not refused.
	r := &run{
		answer:      make(chan string, 1),
		cancelReq:   make(chan string, 1),
		cancelQueue: cancelQueue,
	}
	e.mu.Lock()
	e.runs[task.ID] = r
	e.mu.Unlock()

	go e.execute(queueCtx, task, timeout, r, cb)
}

// Respond forwards an answer to a run that is suspended on a question.
// Fails when the run is not currently waiting; the input is never
// buffered for later.
func (e *Executor) Respond(id core.TaskID, input string) error {
	r, ok := e.lookup(id)
	if !ok {
		return core.ErrNotFound("running task", string(id))
	}
	select {
	case r.answer <- input:
		return nil
	default:
		return core.ErrAnswerNotPending(id)
	}
}

// Cancel requests cancellation of a run in any phase. Queued runs leave
// the queue without consuming a slot; live runs have their process
// killed. Returns false when no run is registered for the id, so the
// caller can settle the task itself.
func (e *Executor) Cancel(id core.TaskID, reason string) bool {
	r, ok := e.lookup(id)
	if !ok {
		return false
	}
	select {
	case r.cancelReq <- reason:
	default:
	}
	r.cancelQueue()
	return true
}

func (e *Executor) lookup(id core.TaskID) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

func (e *Executor) remove(id core.TaskID) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
}

// execute is the run goroutine. All process interaction for this task
// happens here; Respond and Cancel only signal it over channels.
func (e *Executor) execute(queueCtx context.Context, task *core.Task, timeout time.Duration, r *run, cb Callbacks) {
	defer e.remove(task.ID)

	log := e.logger.WithTask(string(task.ID)).WithHarness(task.Harness)

	// Queued phase: wait for a slot in FIFO order. A cancel here means
	// the task never ran.
	if err := e.pool.Acquire(queueCtx); err != nil {
		log.Info("task cancelled while queued")
		cb.Cancelled(task.ID)
		return
	}
	defer e.pool.Release(task.ID)

	// A cancel may have raced the acquire; honor it before spawning.
	select {
	case <-r.cancelReq:
		cb.Cancelled(task.ID)
		return
	default:
	}

	h, err := e.registry.Get(task.Harness)
	if err != nil {
		cb.Failed(task.ID, err)
		return
	}
	cfg, err := h.BuildConfig(task.Goal, task.Workspace, timeout)
	if err != nil {
		cb.Failed(task.ID, err)
		return
	}

	var proc Process
	spawnErr := e.retry.Do(context.Background(), func(attempt int) error {
		if attempt > 1 {
			log.Warn("retrying spawn", "attempt", attempt)
		}
		var err error
		proc, err = e.pool.Spawn(context.Background(), task.ID, cfg)
		return err
	})
	if spawnErr != nil {
		log.Error("spawn failed after retries", "error", spawnErr)
		cb.Failed(task.ID, spawnErr)
		return
	}

	cb.Started(task.ID, proc.PID())
	e.stream(task.ID, h, proc, cfg.Timeout, r, cb, log)
}

// stream consumes process output until exit, timeout, or cancel.
func (e *Executor) stream(id core.TaskID, h core.Harness, proc Process, timeout time.Duration, r *run, cb Callbacks, log *logging.Logger) {
	parser := NewOutputParser(h)
	result := newResultBuilder(h)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	remaining := timeout
	segmentStart := time.Now()

	output := proc.Output()
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				// Stream closed; only the exit result is left.
				output = nil
				continue
			}
			for _, ev := range parser.Write(chunk.Data) {
				done := e.handleEvent(id, ev, proc, parser, result, &remaining, &segmentStart, timer, r, cb, log)
				if done {
					return
				}
			}

		case <-timer.C:
			log.Warn("task deadline exceeded", "timeout", timeout.String())
			_ = proc.Kill("timeout")
			// Output produced before the kill counts as partial output
			// and is reported before the failure.
			e.drainTail(id, proc, parser, result, cb)
			<-proc.Exit()
			cb.Failed(id, core.ErrTimeout("no completion within "+timeout.String()))
			return

		case reason := <-r.cancelReq:
			log.Info("cancelling running task", "reason", reason)
			_ = proc.Kill(reason)
			e.discard(proc)
			cb.Cancelled(id)
			return

		case exit := <-proc.Exit():
			// The output channel always closes before the exit result is
			// delivered, but buffered chunks may still be pending in the
			// same select round. Drain them through the parser first so a
			// fast exit cannot lose the tail of the output.
			e.drainTail(id, proc, parser, result, cb)
			e.finalize(id, exit, parser, result, cb, log)
			return
		}
	}
}

// drainTail consumes whatever is left on the output channel once the
// process is gone, classifies it, and flushes the parser's held partial
// line. Questions in the tail cannot suspend anymore and are dropped.
func (e *Executor) drainTail(id core.TaskID, proc Process, parser *OutputParser, result *resultBuilder, cb Callbacks) {
	for chunk := range proc.Output() {
		for _, ev := range parser.Write(chunk.Data) {
			e.observeTail(id, ev, result, cb)
		}
	}
	for _, ev := range parser.Flush() {
		e.observeTail(id, ev, result, cb)
	}
}

func (e *Executor) observeTail(id core.TaskID, ev core.OutputEvent, result *resultBuilder, cb Callbacks) {
	result.observe(ev)
	switch ev.Kind {
	case core.OutputProgress:
		cb.Progress(id, core.ProgressEntry{Message: ev.Text, Percent: ev.Percent})
	case core.OutputFileOp:
		cb.Progress(id, core.ProgressEntry{Message: string(ev.FileOp.Kind) + " " + ev.FileOp.Path, FileOp: ev.FileOp})
	case core.OutputError:
		cb.Progress(id, core.ProgressEntry{Message: ev.Text})
	}
}

// handleEvent dispatches one classified line. Returns true when the run
// finished inside a question suspension.
func (e *Executor) handleEvent(id core.TaskID, ev core.OutputEvent, proc Process, parser *OutputParser, result *resultBuilder,
	remaining *time.Duration, segmentStart *time.Time, timer *time.Timer, r *run, cb Callbacks, log *logging.Logger) bool {

	result.observe(ev)

	switch ev.Kind {
	case core.OutputProgress:
		cb.Progress(id, core.ProgressEntry{Message: ev.Text, Percent: ev.Percent})
		if ev.Risky {
			cb.Risky(id, ev.Text)
		}

	case core.OutputFileOp:
		msg := string(ev.FileOp.Kind) + " " + ev.FileOp.Path
		cb.Progress(id, core.ProgressEntry{Message: msg, FileOp: ev.FileOp})

	case core.OutputError:
		cb.Progress(id, core.ProgressEntry{Message: ev.Text})

	case core.OutputCompletion:
		// Recorded in the builder; the exit result finalizes.

	case core.OutputQuestion:
		return e.suspend(id, ev.Text, proc, parser, result, remaining, segmentStart, timer, r, cb, log)
	}
	return false
}

// suspend parks the run on a question. The deadline timer is stopped
// with its remaining budget saved, and restarted when the answer
// arrives. Returns true when the run ended during the suspension.
func (e *Executor) suspend(id core.TaskID, question string, proc Process, parser *OutputParser, result *resultBuilder,
	remaining *time.Duration, segmentStart *time.Time, timer *time.Timer, r *run, cb Callbacks, log *logging.Logger) bool {

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*remaining -= time.Since(*segmentStart)
	if *remaining < time.Second {
		*remaining = time.Second
	}

	log.Info("task waiting for input", "question", question)
	cb.Waiting(id, question)

	select {
	case input := <-r.answer:
		if err := proc.SendInput(input); err != nil {
			log.Error("forwarding answer failed", "error", err)
			_ = proc.Kill("stdin write failed")
			e.discard(proc)
			cb.Failed(id, err)
			return true
		}
		*segmentStart = time.Now()
		timer.Reset(*remaining)
		cb.Resumed(id)
		return false

	case reason := <-r.cancelReq:
		log.Info("cancelling waiting task", "reason", reason)
		_ = proc.Kill(reason)
		e.discard(proc)
		cb.Cancelled(id)
		return true

	case exit := <-proc.Exit():
		// The process died while we waited on the human. Anything it
		// printed on the way out still counts toward the outcome.
		log.Warn("process exited while waiting for input", "exit_code", exit.Code)
		e.drainTail(id, proc, parser, result, cb)
		e.finalize(id, exit, parser, result, cb, log)
		return true
	}
}

// finalize classifies the exit. A zero exit counts as success even
// without an explicit completion marker; a non-zero exit without one is
// an abnormal termination.
func (e *Executor) finalize(id core.TaskID, exit ExitResult, parser *OutputParser, result *resultBuilder, cb Callbacks, log *logging.Logger) {
	if result.completed || exit.Code == 0 {
		res := result.build(parser.Output())
		log.Info("task completed", "exit_code", exit.Code, "files", len(res.AllFiles()))
		cb.Completed(id, res)
		return
	}
	log.Warn("process exited abnormally", "exit_code", exit.Code)
	cb.Failed(id, core.ErrProcess(core.CodeNonZeroExit,
		"process exited with code "+strconv.Itoa(exit.Code)+" before signalling completion"))
}

// discard drops remaining output and waits for the exit result so the
// child is fully reaped before the slot is released. Used on cancel,
// where the partial output is deliberately thrown away.
func (e *Executor) discard(proc Process) {
	for {
		select {
		case _, ok := <-proc.Output():
			if !ok {
				<-proc.Exit()
				return
			}
		case <-proc.Exit():
			return
		}
	}
}

// resultBuilder accumulates completion state and file operations from
// the event stream.
type resultBuilder struct {
	h         core.Harness
	completed bool
	summary   string
	created   []string
	modified  []string
	deleted   []string
	seen      map[string]bool
}

func newResultBuilder(h core.Harness) *resultBuilder {
	return &resultBuilder{h: h, seen: make(map[string]bool)}
}

func (b *resultBuilder) observe(ev core.OutputEvent) {
	switch ev.Kind {
	case core.OutputCompletion:
		b.completed = true
		if b.summary == "" {
			b.summary = ev.Text
		}
	case core.OutputFileOp:
		b.add(*ev.FileOp)
	}
}

func (b *resultBuilder) add(op core.FileOperation) {
	key := string(op.Kind) + ":" + op.Path
	if b.seen[key] {
		return
	}
	b.seen[key] = true
	switch op.Kind {
	case core.FileOpCreate:
		b.created = append(b.created, op.Path)
	case core.FileOpModify:
		b.modified = append(b.modified, op.Path)
	case core.FileOpDelete:
		b.deleted = append(b.deleted, op.Path)
	}
}

// build assembles the result, falling back to summary extraction over
// the full buffered output when no completion line carried one.
func (b *resultBuilder) build(fullOutput string) *core.Result {
	summary := b.summary
	if summary == "" {
		summary = b.h.ExtractSummary(fullOutput)
	}
	return &core.Result{
		Summary:       summary,
		FilesCreated:  b.created,
		FilesModified: b.modified,
		FilesDeleted:  b.deleted,
	}
}

