package harness

import (
	"time"

	"github.com/ljacobsen/foreman/internal/core"
)

// AiderHarness adapts the aider CLI.
type AiderHarness struct {
	BaseHarness
}

// NewAiderHarness creates an aider adapter.
func NewAiderHarness(cfg Config) core.Harness {
	return &AiderHarness{
		BaseHarness: BaseHarness{
			name: "aider",
			cfg:  cfg,
			completionMarkers: []string{
				"applied edit", "commit", "done.",
			},
			errorMarkers: []string{
				"error:", "traceback", "failed to",
			},
			progressMarkers: []string{
				"scanning repo", "tokens:", "editing", "adding",
			},
		},
	}
}

// BuildConfig constructs the launch configuration for a one-shot aider
// run.
func (a *AiderHarness) BuildConfig(goal, workspace string, timeout time.Duration) (core.ExecConfig, error) {
	dir, err := a.workdir(workspace)
	if err != nil {
		return core.ExecConfig{}, err
	}
	return core.ExecConfig{
		Command: a.command(),
		Args: []string{
			"--yes-always",
			"--no-pretty",
			"--message", goal,
		},
		Dir:     dir,
		Env:     a.env(),
		Timeout: a.timeout(timeout),
	}, nil
}

var _ core.Harness = (*AiderHarness)(nil)
