package task

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/events"
	"github.com/ljacobsen/foreman/internal/harness"
	"github.com/ljacobsen/foreman/internal/logging"
)

// Runner drives task executions. Satisfied by harness.Executor; faked
// in tests.
type Runner interface {
	Start(task *core.Task, timeout time.Duration, cb harness.Callbacks)
	Respond(id core.TaskID, input string) error
	// Cancel reports whether a run was signalled; false means the
	// runner never heard of the id and the caller must settle the task.
	Cancel(id core.TaskID, reason string) bool
}

// CreateRequest is the input for accepting a new task.
type CreateRequest struct {
	Session   core.SessionID
	Goal      string
	Harness   string
	Workspace string
	// Timeout overrides the harness default when positive.
	Timeout time.Duration
}

// Manager owns the task state machine. Every transition is validated,
// persisted, and published here, under one mutex; the executor reports
// raw lifecycle facts and the manager decides what they mean for state.
type Manager struct {
	store    core.TaskStore
	bus      *events.Bus
	runner   Runner
	registry *harness.Registry
	logger   *logging.Logger

	defaultTimeout time.Duration
	workspaceRoot  string

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultTimeout sets the timeout applied when a request has none.
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithWorkspaceRoot confines accepted workspaces to the given root.
func WithWorkspaceRoot(root string) ManagerOption {
	return func(m *Manager) { m.workspaceRoot = root }
}

// NewManager wires the manager over its collaborators.
func NewManager(store core.TaskStore, bus *events.Bus, runner Runner, registry *harness.Registry, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		store:          store,
		bus:            bus,
		runner:         runner,
		registry:       registry,
		logger:         logger,
		defaultTimeout: harness.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile marks rows left live by a prior crash as failed. Must run
// once at startup, before any new task is accepted; the interruption
// reason is distinguishable from ordinary failures.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interrupted, err := m.store.Interrupted(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range interrupted {
		if err := t.MarkFailed(core.ReasonInterrupted); err != nil {
			return 0, err
		}
		if err := m.store.Save(ctx, t); err != nil {
			return 0, err
		}
		m.logger.Warn("reconciled interrupted task", "task_id", string(t.ID), "session", string(t.SessionID))
		m.bus.Publish(events.NewTaskInterruptedEvent(string(t.ID), core.ReasonInterrupted))
	}
	return len(interrupted), nil
}

// Create validates and accepts a new task, persists it as pending, and
// hands it to the runner. The returned task is a snapshot; the run
// proceeds asynchronously.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*core.Task, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// One live task per session. The store is the source of truth so the
	// check survives restarts.
	active, err := m.activeTask(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, core.ErrCapacity(req.Session, active.ID)
	}

	t := core.NewTask(req.Session, strings.TrimSpace(req.Goal), req.Harness, req.Workspace)
	if err := m.store.Save(ctx, t); err != nil {
		return nil, err
	}

	m.logger.Info("task accepted",
		"task_id", string(t.ID), "session", string(req.Session), "harness", req.Harness)
	m.bus.Publish(events.NewTaskCreatedEvent(
		string(t.ID), string(t.SessionID), t.Goal, t.Harness, t.Workspace))

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	// The runner gets a copy with the goal framed for an unattended CLI;
	// the stored goal stays as the caller wrote it.
	runCopy := *t
	runCopy.Goal = FrameGoal(t.Goal)
	m.runner.Start(&runCopy, timeout, &lifecycle{m: m})

	snapshot := *t
	return &snapshot, nil
}

// Get returns a task by id.
func (m *Manager) Get(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return m.store.Get(ctx, id)
}

// List returns tasks matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter core.ListFilter) ([]*core.Task, error) {
	return m.store.List(ctx, filter)
}

// Cancel requests cancellation. Idempotent: cancelling a terminal task
// returns its current state unchanged. A queued task is cancelled
// without ever running; a live one has its process killed.
func (m *Manager) Cancel(ctx context.Context, id core.TaskID) (*core.Task, error) {
	m.mu.Lock()
	t, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	// The transition happens in the Cancelled callback once the run has
	// actually stopped; state never says cancelled while a process lives.
	if m.runner.Cancel(id, "cancel requested") {
		return t, nil
	}

	// No run is registered: a pending row retained across a restart.
	// Without this transition the row would sit in pending forever and
	// hold the session's capacity slot.
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, nil
	}
	if err := t.MarkCancelled(); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Info("cancelled task with no live run", "task_id", string(id))
	m.bus.PublishPriority(events.NewTaskCancelledEvent(string(id)))
	return t, nil
}

// Respond forwards an answer to a waiting task. The task must be in
// waiting_input; input is forwarded verbatim, never buffered.
func (m *Manager) Respond(ctx context.Context, id core.TaskID, input string) error {
	if strings.TrimSpace(input) == "" {
		return core.ErrValidation(core.CodeEmptyGoal, "response input must not be empty")
	}

	m.mu.Lock()
	t, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if t.Status != core.StatusWaitingInput {
		m.mu.Unlock()
		return core.ErrNotWaiting(id, t.Status)
	}
	m.mu.Unlock()

	return m.runner.Respond(id, input)
}

func (m *Manager) validate(req CreateRequest) error {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return core.ErrValidation(core.CodeEmptyGoal, "goal must not be empty")
	}
	if len(goal) > core.MaxGoalLength {
		return core.ErrValidation(core.CodeGoalTooLong, "goal exceeds maximum length")
	}
	if req.Session == "" {
		return core.ErrValidation(core.CodeEmptyGoal, "session id must not be empty")
	}
	if !m.registry.Has(req.Harness) {
		return core.ErrValidation(core.CodeUnknownHarness,
			"unknown harness: "+req.Harness+" (known: "+strings.Join(m.registry.List(), ", ")+")")
	}
	if req.Workspace == "" {
		return core.ErrValidation(core.CodeUnknownWorkspace, "workspace must not be empty")
	}
	if info, err := os.Stat(req.Workspace); err != nil || !info.IsDir() {
		return core.ErrValidation(core.CodeUnknownWorkspace, "workspace does not exist: "+req.Workspace)
	}
	if m.workspaceRoot != "" && !harness.WithinRoot(m.workspaceRoot, req.Workspace) {
		return core.ErrValidation(core.CodeUnknownWorkspace,
			"workspace "+req.Workspace+" escapes workspace root "+m.workspaceRoot)
	}
	if req.Timeout < 0 {
		return core.ErrValidation(core.CodeInvalidTimeout, "timeout must not be negative")
	}
	return nil
}

// activeTask returns the session's non-terminal task, if any.
func (m *Manager) activeTask(ctx context.Context, session core.SessionID) (*core.Task, error) {
	tasks, err := m.store.List(ctx, core.ListFilter{Session: session})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return t, nil
		}
	}
	return nil, nil
}

// apply loads a task, mutates it under the manager lock, and persists.
// Mutations on terminal tasks are silently dropped; a late callback
// from a killed run must never resurrect a finished task.
func (m *Manager) apply(id core.TaskID, fn func(t *core.Task) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	t, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Error("loading task for transition", "task_id", string(id), "error", err)
		return
	}
	if t.Status.Terminal() {
		m.logger.Debug("dropping callback for terminal task", "task_id", string(id), "status", string(t.Status))
		return
	}
	if err := fn(t); err != nil {
		m.logger.Error("applying transition", "task_id", string(id), "error", err)
		return
	}
	if err := m.store.Save(ctx, t); err != nil {
		m.logger.Error("persisting transition", "task_id", string(id), "error", err)
	}
}
