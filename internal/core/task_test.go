package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task := NewTask("sess-1", "add a health endpoint", "claude", "/tmp/ws")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, SessionID("sess-1"), task.SessionID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusWaitingInput.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusWaitingInput, false},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusWaitingInput, true},
		{StatusRunning, StatusCompleted, true},
		{StatusWaitingInput, StatusRunning, true},
		{StatusWaitingInput, StatusFailed, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCancelled, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("s", "goal", "claude", "/ws")

	require.NoError(t, task.MarkRunning())
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	require.NoError(t, task.MarkWaiting("overwrite main.go? [y/n]"))
	assert.Equal(t, "overwrite main.go? [y/n]", task.PendingQuestion)

	require.NoError(t, task.MarkRunning())
	assert.Empty(t, task.PendingQuestion, "resume clears the pending question")
	assert.Equal(t, started, *task.StartedAt, "StartedAt is stamped once")

	require.NoError(t, task.MarkCompleted(&Result{Summary: "done"}))
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, "done", task.Result.Summary)
}

func TestTerminalTaskRejectsTransitions(t *testing.T) {
	task := NewTask("s", "goal", "claude", "/ws")
	require.NoError(t, task.MarkRunning())
	require.NoError(t, task.MarkCompleted(&Result{Summary: "ok"}))

	for _, attempt := range []func() error{
		task.MarkRunning,
		task.MarkCancelled,
		func() error { return task.MarkFailed("late failure") },
		func() error { return task.MarkWaiting("q?") },
	} {
		err := attempt()
		require.Error(t, err)
		assert.True(t, IsCategory(err, ErrCatState))
	}
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Empty(t, task.Error)
}

func TestCancelFromPending(t *testing.T) {
	task := NewTask("s", "goal", "claude", "/ws")
	require.NoError(t, task.MarkCancelled())
	assert.Equal(t, StatusCancelled, task.Status)
	assert.Nil(t, task.StartedAt, "a cancelled-before-start task never ran")
	require.NotNil(t, task.CompletedAt)
}

func TestAppendProgressStampsTime(t *testing.T) {
	task := NewTask("s", "goal", "claude", "/ws")
	task.AppendProgress(ProgressEntry{Message: "reading files"})
	task.AppendProgress(ProgressEntry{Message: "writing tests"})

	require.Len(t, task.Progress, 2)
	assert.False(t, task.Progress[0].Time.IsZero())
	assert.Equal(t, "reading files", task.Progress[0].Message)
}

func TestResultAllFiles(t *testing.T) {
	r := Result{
		FilesCreated:  []string{"a.go"},
		FilesModified: []string{"b.go", "c.go"},
		FilesDeleted:  []string{"d.go"},
	}
	assert.Equal(t, []string{"a.go", "b.go", "c.go", "d.go"}, r.AllFiles())
}
