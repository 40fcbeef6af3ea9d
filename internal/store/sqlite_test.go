package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljacobsen/foreman/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := core.NewTask("sess-1", "write tests", "claude", "/tmp/ws")
	require.NoError(t, task.MarkRunning())
	task.AppendProgress(core.ProgressEntry{Message: "reading files"})
	task.AppendProgress(core.ProgressEntry{
		Message: "create health.go",
		FileOp:  &core.FileOperation{Kind: core.FileOpCreate, Path: "health.go"},
	})
	require.NoError(t, s.Save(ctx, task))

	loaded, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, core.StatusRunning, loaded.Status)
	assert.Equal(t, task.Goal, loaded.Goal)
	require.Len(t, loaded.Progress, 2)
	require.NotNil(t, loaded.Progress[1].FileOp)
	assert.Equal(t, "health.go", loaded.Progress[1].FileOp.Path)
	require.NotNil(t, loaded.StartedAt)
	assert.Nil(t, loaded.CompletedAt)
}

func TestSaveUpsertsTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := core.NewTask("sess-1", "goal", "codex", "/tmp/ws")
	require.NoError(t, s.Save(ctx, task))

	require.NoError(t, task.MarkRunning())
	require.NoError(t, task.MarkCompleted(&core.Result{
		Summary:      "added endpoint",
		FilesCreated: []string{"health.go"},
	}))
	require.NoError(t, s.Save(ctx, task))

	loaded, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, loaded.Status)
	require.NotNil(t, loaded.Result)
	assert.Equal(t, "added endpoint", loaded.Result.Summary)
	assert.Equal(t, []string{"health.go"}, loaded.Result.FilesCreated)
	require.NotNil(t, loaded.CompletedAt)
}

func TestGetUnknownTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "task_nope")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := core.NewTask("sess-a", "goal a", "claude", "/ws")
	b := core.NewTask("sess-b", "goal b", "claude", "/ws")
	c := core.NewTask("sess-a", "goal c", "claude", "/ws")
	require.NoError(t, c.MarkRunning())
	for _, task := range []*core.Task{a, b, c} {
		require.NoError(t, s.Save(ctx, task))
	}

	all, err := s.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySession, err := s.List(ctx, core.ListFilter{Session: "sess-a"})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	byStatus, err := s.List(ctx, core.ListFilter{Status: core.StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, c.ID, byStatus[0].ID)

	both, err := s.List(ctx, core.ListFilter{Session: "sess-b", Status: core.StatusRunning})
	require.NoError(t, err)
	assert.Empty(t, both)
}

func TestInterruptedFindsLiveRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := core.NewTask("s", "pending goal", "claude", "/ws")
	running := core.NewTask("s2", "running goal", "claude", "/ws")
	require.NoError(t, running.MarkRunning())
	waiting := core.NewTask("s3", "waiting goal", "claude", "/ws")
	require.NoError(t, waiting.MarkRunning())
	require.NoError(t, waiting.MarkWaiting("continue? [y/n]"))
	done := core.NewTask("s4", "done goal", "claude", "/ws")
	require.NoError(t, done.MarkRunning())
	require.NoError(t, done.MarkCompleted(&core.Result{Summary: "ok"}))

	for _, task := range []*core.Task{pending, running, waiting, done} {
		require.NoError(t, s.Save(ctx, task))
	}

	interrupted, err := s.Interrupted(ctx)
	require.NoError(t, err)
	ids := make([]core.TaskID, 0, len(interrupted))
	for _, task := range interrupted {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []core.TaskID{running.ID, waiting.ID}, ids,
		"only running and waiting_input rows are interrupted")
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	task := core.NewTask("sess", "persisted goal", "aider", "/ws")
	require.NoError(t, s.Save(ctx, task))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted goal", loaded.Goal)
}
