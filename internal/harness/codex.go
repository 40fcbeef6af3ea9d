package harness

import (
	"time"

	"github.com/ljacobsen/foreman/internal/core"
)

// CodexHarness adapts the Codex CLI.
type CodexHarness struct {
	BaseHarness
}

// NewCodexHarness creates a Codex adapter.
func NewCodexHarness(cfg Config) core.Harness {
	return &CodexHarness{
		BaseHarness: BaseHarness{
			name: "codex",
			cfg:  cfg,
			completionMarkers: []string{
				"task complete", "turn completed", "summary:",
			},
			errorMarkers: []string{
				"error:", "stream error", "failed to",
			},
			progressMarkers: []string{
				"exec", "applying patch", "thinking", "tokens used",
			},
		},
	}
}

// BuildConfig constructs the launch configuration for `codex exec`.
func (c *CodexHarness) BuildConfig(goal, workspace string, timeout time.Duration) (core.ExecConfig, error) {
	dir, err := c.workdir(workspace)
	if err != nil {
		return core.ExecConfig{}, err
	}
	return core.ExecConfig{
		Command: c.command(),
		Args: []string{
			"exec",
			"--skip-git-repo-check",
			"--cd", dir,
			goal,
		},
		Dir:     dir,
		Env:     c.env(),
		Timeout: c.timeout(timeout),
	}, nil
}

var _ core.Harness = (*CodexHarness)(nil)
