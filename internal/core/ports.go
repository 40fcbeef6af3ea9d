package core

import (
	"context"
	"time"
)

// =============================================================================
// Harness port
// =============================================================================

// LineClass is the classification of a single output line.
type LineClass int

const (
	LineNone LineClass = iota
	LineQuestion
	LineCompletion
	LineFileOp
	LineProgress
	LineError
)

// ExecConfig describes how to launch one harness process. Args are
// always passed as an array, never concatenated into a shell string.
type ExecConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Harness is the contract for one external coding-agent CLI adapter.
// Implemented by a small closed set of variants; adding a new external
// tool means adding one variant, not touching the pool or state machine.
type Harness interface {
	// Name returns the harness identifier (e.g., "claude").
	Name() string

	// BuildConfig constructs the launch configuration for a goal.
	BuildConfig(goal, workspace string, timeout time.Duration) (ExecConfig, error)

	// ClassifyLine classifies a stripped output line. First match wins,
	// in question > completion > file-op > progress precedence.
	ClassifyLine(line string) LineClass

	// DetectQuestion extracts the question text from a line, if any.
	DetectQuestion(line string) (string, bool)

	// ExtractSummary pulls a human-readable summary from full buffered
	// output, used when a completion event fires.
	ExtractSummary(output string) string

	// ExtractFileOperations pulls file operations from output. Works on
	// a single line or on the full buffer.
	ExtractFileOperations(output string) []FileOperation

	// FlagRisky reports whether a line describes an operation that
	// should require explicit approval before input is forwarded.
	FlagRisky(line string) bool
}

// =============================================================================
// Store port
// =============================================================================

// ListFilter narrows a task listing. Zero values match everything.
type ListFilter struct {
	Session SessionID
	Status  Status
}

// TaskStore persists task records durably. A transition is not
// committed until Save returns. Single-writer: only the task manager
// issues writes.
type TaskStore interface {
	// Save upserts a task row. Must be durable before returning.
	Save(ctx context.Context, task *Task) error

	// Get returns a task by id, or a not-found error.
	Get(ctx context.Context, id TaskID) (*Task, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Task, error)

	// Interrupted returns rows left in running or waiting_input by a
	// prior crash, for startup reconciliation.
	Interrupted(ctx context.Context) ([]*Task, error)

	Close() error
}
