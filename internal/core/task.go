package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a task.
type TaskID string

// NewTaskID generates a fresh task identifier.
func NewTaskID() TaskID {
	return TaskID("task_" + uuid.NewString())
}

// SessionID identifies the owning session of a task.
type SessionID string

// Status represents the current state of a task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status is final. A terminal task never
// mutates again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions holds the allowed state machine edges.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:      {StatusWaitingInput, StatusCompleted, StatusFailed, StatusCancelled},
	StatusWaitingInput: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the edge from → to exists.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileOpKind categorizes a file operation reported by a harness.
type FileOpKind string

const (
	FileOpCreate FileOpKind = "create"
	FileOpModify FileOpKind = "modify"
	FileOpDelete FileOpKind = "delete"
)

// FileOperation is a single file change reported by a harness.
type FileOperation struct {
	Kind FileOpKind `json:"kind"`
	Path string     `json:"path"`
}

// ProgressEntry is one append-only progress record on a task.
type ProgressEntry struct {
	Time    time.Time      `json:"time"`
	Message string         `json:"message"`
	Percent *int           `json:"percent,omitempty"`
	FileOp  *FileOperation `json:"file_op,omitempty"`
}

// Result holds the outcome of a completed task.
type Result struct {
	Summary       string   `json:"summary"`
	FilesCreated  []string `json:"files_created,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	FilesDeleted  []string `json:"files_deleted,omitempty"`
}

// AllFiles returns every touched path, in created/modified/deleted order.
func (r *Result) AllFiles() []string {
	files := make([]string, 0, len(r.FilesCreated)+len(r.FilesModified)+len(r.FilesDeleted))
	files = append(files, r.FilesCreated...)
	files = append(files, r.FilesModified...)
	files = append(files, r.FilesDeleted...)
	return files
}

// Task is the unit of work: one supervised harness execution requested
// by a session. Tasks are persisted on every transition and never
// deleted, only marked terminal.
type Task struct {
	ID              TaskID          `json:"id"`
	SessionID       SessionID       `json:"session_id"`
	Goal            string          `json:"goal"`
	Status          Status          `json:"status"`
	Harness         string          `json:"harness"`
	Workspace       string          `json:"workspace"`
	Progress        []ProgressEntry `json:"progress,omitempty"`
	Result          *Result         `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	PendingQuestion string          `json:"pending_question,omitempty"`
	RetryCount      int             `json:"retry_count"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending task.
func NewTask(session SessionID, goal, harness, workspace string) *Task {
	return &Task{
		ID:        NewTaskID(),
		SessionID: session,
		Goal:      goal,
		Status:    StatusPending,
		Harness:   harness,
		Workspace: workspace,
		CreatedAt: time.Now(),
	}
}

// transition moves the task along a valid edge or fails with a state error.
func (t *Task) transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return ErrState(CodeInvalidTransition, "cannot move task from "+string(t.Status)+" to "+string(to))
	}
	t.Status = to
	return nil
}

// MarkRunning transitions the task to running, stamping the start time
// on first entry.
func (t *Task) MarkRunning() error {
	if err := t.transition(StatusRunning); err != nil {
		return err
	}
	t.PendingQuestion = ""
	if t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
	return nil
}

// MarkWaiting transitions the task to waiting_input with the question
// the harness asked, verbatim.
func (t *Task) MarkWaiting(question string) error {
	if err := t.transition(StatusWaitingInput); err != nil {
		return err
	}
	t.PendingQuestion = question
	return nil
}

// MarkCompleted finalizes the task with its result.
func (t *Task) MarkCompleted(result *Result) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	t.Result = result
	t.PendingQuestion = ""
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkFailed finalizes the task with a human-readable error message.
func (t *Task) MarkFailed(reason string) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.Error = reason
	t.PendingQuestion = ""
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkCancelled finalizes the task as cancelled.
func (t *Task) MarkCancelled() error {
	if err := t.transition(StatusCancelled); err != nil {
		return err
	}
	t.PendingQuestion = ""
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// AppendProgress records a progress entry, ordered by time.
func (t *Task) AppendProgress(entry ProgressEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	t.Progress = append(t.Progress, entry)
}
