package harness

import (
	"time"

	"github.com/ljacobsen/foreman/internal/core"
)

// ClaudeHarness adapts the Claude Code CLI.
type ClaudeHarness struct {
	BaseHarness
}

// NewClaudeHarness creates a Claude adapter.
func NewClaudeHarness(cfg Config) core.Harness {
	return &ClaudeHarness{
		BaseHarness: BaseHarness{
			name: "claude",
			cfg:  cfg,
			completionMarkers: []string{
				"task complete", "done.", "done!", "all done", "result:",
			},
			errorMarkers: []string{
				"error:", "fatal:", "failed to",
			},
			progressMarkers: []string{
				"reading", "writing", "searching", "running", "analyzing", "thinking",
			},
		},
	}
}

// BuildConfig constructs the launch configuration. The goal is passed
// as a single argv element; no shell is involved.
func (c *ClaudeHarness) BuildConfig(goal, workspace string, timeout time.Duration) (core.ExecConfig, error) {
	dir, err := c.workdir(workspace)
	if err != nil {
		return core.ExecConfig{}, err
	}
	return core.ExecConfig{
		Command: c.command(),
		Args: []string{
			"--print",
			"--verbose",
			"--dangerously-skip-permissions",
			goal,
		},
		Dir:     dir,
		Env:     c.env(),
		Timeout: c.timeout(timeout),
	}, nil
}

var _ core.Harness = (*ClaudeHarness)(nil)
