package harness

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ljacobsen/foreman/internal/core"
)

// Config holds per-harness configuration supplied at construction time.
type Config struct {
	// Path is the executable to launch. Defaults to the harness name.
	Path string
	// Env holds extra environment variables for the child process.
	Env map[string]string
	// Timeout is the default execution timeout when the caller does not
	// supply one.
	Timeout time.Duration
}

// DefaultTimeout applies when neither caller nor config set one.
const DefaultTimeout = 30 * time.Minute

// fileOpPattern matches "Created src/x.ts"-style file operation lines.
// Group 1 is the verb, group 2 the path.
var fileOpPattern = regexp.MustCompile(`^(Created|Added|Wrote|Modified|Updated|Edited|Deleted|Removed)\s+(\S+)`)

// fileOpKinds maps reported verbs onto operation kinds.
var fileOpKinds = map[string]core.FileOpKind{
	"Created":  core.FileOpCreate,
	"Added":    core.FileOpCreate,
	"Wrote":    core.FileOpCreate,
	"Modified": core.FileOpModify,
	"Updated":  core.FileOpModify,
	"Edited":   core.FileOpModify,
	"Deleted":  core.FileOpDelete,
	"Removed":  core.FileOpDelete,
}

// questionSuffixes are interactive prompt markers. A line ending in one
// is a question regardless of anything else on it.
var questionSuffixes = []string{
	"? [y/n]", "? [y/N]", "? [Y/n]", "? (y/n)", "? (yes/no)", "[y/n]:", "(y/n):",
}

// questionLeads mark free-form questions when the line ends in "?".
var questionLeads = []string{
	"do you want", "would you like", "should i", "shall i", "which", "proceed", "allow", "continue", "overwrite", "confirm",
}

// riskyPatterns flag operations that need explicit approval before a
// reply is forwarded to the process.
var riskyPatterns = []string{
	"rm -rf", "rm -fr", "git push --force", "force push", "git reset --hard", "drop table", "sudo ",
}

// BaseHarness provides the classification heuristics shared by the
// concrete adapters. Each variant supplies its own launch config and
// completion markers; the line-level heuristics are deliberately
// common, since the underlying CLIs converge on the same textual
// conventions.
type BaseHarness struct {
	name              string
	cfg               Config
	completionMarkers []string
	errorMarkers      []string
	progressMarkers   []string
}

// Name returns the harness identifier.
func (b *BaseHarness) Name() string {
	return b.name
}

// command returns the configured executable path.
func (b *BaseHarness) command() string {
	if b.cfg.Path != "" {
		return b.cfg.Path
	}
	return b.name
}

// timeout resolves the effective timeout: caller > config > default.
func (b *BaseHarness) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if b.cfg.Timeout > 0 {
		return b.cfg.Timeout
	}
	return DefaultTimeout
}

// env builds the child environment additions, marking the process as
// managed so nested invocations can detect supervision.
func (b *BaseHarness) env() map[string]string {
	env := map[string]string{
		"FOREMAN_MANAGED": "true",
		"FOREMAN_HARNESS": b.name,
	}
	for k, v := range b.cfg.Env {
		env[k] = v
	}
	return env
}

// workdir validates the workspace path for use as the working
// directory. Relative paths and traversal outside the workspace are
// rejected before any process is spawned.
func (b *BaseHarness) workdir(workspace string) (string, error) {
	if workspace == "" {
		return "", core.ErrValidation(core.CodeUnknownWorkspace, "workspace path is empty")
	}
	clean := filepath.Clean(workspace)
	if !filepath.IsAbs(clean) {
		return "", core.ErrValidation(core.CodeUnknownWorkspace, "workspace path must be absolute: "+workspace)
	}
	return clean, nil
}

// ClassifyLine classifies a stripped output line with fixed precedence:
// question > completion > file-operation > progress.
func (b *BaseHarness) ClassifyLine(line string) core.LineClass {
	if _, ok := b.DetectQuestion(line); ok {
		return core.LineQuestion
	}
	lower := strings.ToLower(line)
	for _, marker := range b.completionMarkers {
		if strings.HasPrefix(lower, marker) {
			return core.LineCompletion
		}
	}
	if fileOpPattern.MatchString(line) {
		return core.LineFileOp
	}
	for _, marker := range b.errorMarkers {
		if strings.HasPrefix(lower, marker) {
			return core.LineError
		}
	}
	for _, marker := range b.progressMarkers {
		if strings.Contains(lower, marker) {
			return core.LineProgress
		}
	}
	if line != "" {
		return core.LineProgress
	}
	return core.LineNone
}

// DetectQuestion extracts the question text from an interactive prompt
// line.
func (b *BaseHarness) DetectQuestion(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	for _, suffix := range questionSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return trimmed, true
		}
	}
	if strings.HasSuffix(trimmed, "?") {
		lower := strings.ToLower(trimmed)
		for _, lead := range questionLeads {
			if strings.Contains(lower, lead) {
				return trimmed, true
			}
		}
	}
	return "", false
}

// ExtractFileOperations scans output for file operation lines.
func (b *BaseHarness) ExtractFileOperations(output string) []core.FileOperation {
	var ops []core.FileOperation
	for _, raw := range strings.Split(output, "\n") {
		line := CleanLine(raw)
		m := fileOpPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind, ok := fileOpKinds[m[1]]
		if !ok {
			continue
		}
		ops = append(ops, core.FileOperation{Kind: kind, Path: strings.TrimRight(m[2], ".,;:")})
	}
	return ops
}

// ExtractSummary pulls the completion summary from full output: the
// text following the last completion marker, or the last non-empty
// lines when no marker is present.
func (b *BaseHarness) ExtractSummary(output string) string {
	lines := strings.Split(output, "\n")

	markerIdx := -1
	for i, raw := range lines {
		lower := strings.ToLower(CleanLine(raw))
		for _, marker := range b.completionMarkers {
			if strings.HasPrefix(lower, marker) {
				markerIdx = i
			}
		}
	}
	if markerIdx >= 0 {
		var sb strings.Builder
		for _, raw := range lines[markerIdx:] {
			line := CleanLine(raw)
			if line == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(line)
		}
		return sb.String()
	}

	// No marker: fall back to the tail of the output.
	const tailLines = 5
	var tail []string
	for i := len(lines) - 1; i >= 0 && len(tail) < tailLines; i-- {
		line := CleanLine(lines[i])
		if line == "" {
			continue
		}
		tail = append([]string{line}, tail...)
	}
	return strings.Join(tail, "\n")
}

// FlagRisky reports whether a line describes an operation requiring
// explicit approval.
func (b *BaseHarness) FlagRisky(line string) bool {
	lower := strings.ToLower(line)
	for _, pattern := range riskyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
