package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljacobsen/foreman/internal/core"
)

func TestBuildConfigPassesGoalAsSingleArg(t *testing.T) {
	goal := `add a route; echo "not a shell injection" && rm -rf /`
	h := NewClaudeHarness(Config{})

	cfg, err := h.BuildConfig(goal, "/tmp/ws", 0)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Command)
	assert.Equal(t, goal, cfg.Args[len(cfg.Args)-1], "goal is one argv element, verbatim")
	assert.Equal(t, "/tmp/ws", cfg.Dir)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "true", cfg.Env["FOREMAN_MANAGED"])
	assert.Equal(t, "claude", cfg.Env["FOREMAN_HARNESS"])
}

func TestBuildConfigRejectsRelativeWorkspace(t *testing.T) {
	for _, h := range []core.Harness{
		NewClaudeHarness(Config{}),
		NewCodexHarness(Config{}),
		NewAiderHarness(Config{}),
	} {
		_, err := h.BuildConfig("goal", "relative/path", 0)
		require.Error(t, err, h.Name())
		assert.True(t, core.IsCategory(err, core.ErrCatValidation), h.Name())

		_, err = h.BuildConfig("goal", "", 0)
		require.Error(t, err, h.Name())
	}
}

func TestBuildConfigTimeoutPrecedence(t *testing.T) {
	h := NewClaudeHarness(Config{Timeout: 10 * time.Minute})

	cfg, err := h.BuildConfig("goal", "/tmp/ws", 0)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Timeout, "config timeout beats default")

	cfg, err = h.BuildConfig("goal", "/tmp/ws", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Timeout, "caller timeout beats config")
}

func TestConfiguredPathOverridesCommand(t *testing.T) {
	h := NewCodexHarness(Config{Path: "/opt/bin/codex-nightly"})
	cfg, err := h.BuildConfig("goal", "/tmp/ws", 0)
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/codex-nightly", cfg.Command)
}

func TestExtractFileOperations(t *testing.T) {
	h := NewClaudeHarness(Config{})
	output := "Reading project\n" +
		"Created src/api/health.go\n" +
		"Modified main.go.\n" +
		"Deleted legacy/old.go\n" +
		"Some unrelated line\n"

	ops := h.ExtractFileOperations(output)
	require.Len(t, ops, 3)
	assert.Equal(t, core.FileOperation{Kind: core.FileOpCreate, Path: "src/api/health.go"}, ops[0])
	assert.Equal(t, core.FileOperation{Kind: core.FileOpModify, Path: "main.go"}, ops[1], "trailing punctuation trimmed")
	assert.Equal(t, core.FileOperation{Kind: core.FileOpDelete, Path: "legacy/old.go"}, ops[2])
}

func TestExtractSummaryAfterMarker(t *testing.T) {
	h := NewClaudeHarness(Config{})
	output := "Reading files\nWriting code\n\nTask complete. Added health endpoint.\nTwo files touched.\n"

	summary := h.ExtractSummary(output)
	assert.Equal(t, "Task complete. Added health endpoint.\nTwo files touched.", summary)
}

func TestExtractSummaryFallsBackToTail(t *testing.T) {
	h := NewClaudeHarness(Config{})
	summary := h.ExtractSummary("one\ntwo\nthree\n")
	assert.Equal(t, "one\ntwo\nthree", summary)
}

func TestRegistryClosedSet(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"aider", "claude", "codex"}, r.List())
	assert.True(t, r.Has("claude"))
	assert.False(t, r.Has("cursor"))

	_, err := r.Get("cursor")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	assert.Contains(t, err.Error(), "claude", "error names the known harnesses")
}

func TestRegistryDeregisterRemovesHarness(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Has("aider"))

	// A disabled adapter is deregistered at wiring time; create-side
	// checks must reject it like any unknown identifier.
	r.Deregister("aider")
	assert.False(t, r.Has("aider"))
	assert.NotContains(t, r.List(), "aider")

	_, err := r.Get("aider")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestRegistryConfigureRebuildsAdapter(t *testing.T) {
	r := NewRegistry()

	first, err := r.Get("claude")
	require.NoError(t, err)
	again, err := r.Get("claude")
	require.NoError(t, err)
	assert.Same(t, first, again, "adapters are cached")

	r.Configure("claude", Config{Path: "/usr/local/bin/claude"})
	rebuilt, err := r.Get("claude")
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	cfg, err := rebuilt.BuildConfig("goal", "/tmp/ws", 0)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Command)
}
