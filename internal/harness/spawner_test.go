package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

func TestPathWithin(t *testing.T) {
	tests := []struct {
		base, target string
		want         bool
	}{
		{"/work", "/work", true},
		{"/work", "/work/project", true},
		{"/work", "/work/a/b/c", true},
		{"/work", "/other", false},
		{"/work", "/work/../etc", false},
		{"/work", "/workspace", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathWithin(tt.base, tt.target),
			"%s within %s", tt.target, tt.base)
	}
}

func TestSpawnRejectsEscapingWorkspace(t *testing.T) {
	root := t.TempDir()
	s := NewOSSpawner(root, logging.NewNop())

	_, err := s.Spawn(context.Background(), core.ExecConfig{
		Command: "true",
		Dir:     filepath.Join(root, "..", "elsewhere"),
	})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestSpawnRejectsMissingWorkspace(t *testing.T) {
	root := t.TempDir()
	s := NewOSSpawner(root, logging.NewNop())

	_, err := s.Spawn(context.Background(), core.ExecConfig{
		Command: "true",
		Dir:     filepath.Join(root, "does-not-exist"),
	})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestSpawnMissingBinaryIsSpawnError(t *testing.T) {
	root := t.TempDir()
	s := NewOSSpawner(root, logging.NewNop())

	_, err := s.Spawn(context.Background(), core.ExecConfig{
		Command: "no-such-binary-anywhere-on-path",
		Dir:     root,
	})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatSpawn))
	assert.True(t, core.IsRetryable(err))
}
