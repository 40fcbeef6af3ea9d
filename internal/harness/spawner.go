package harness

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/logging"
)

// ExecutionID identifies one live harness process.
type ExecutionID string

// NewExecutionID generates a fresh execution identifier.
func NewExecutionID() ExecutionID {
	return ExecutionID("exec_" + uuid.NewString())
}

// OutputChunk is one raw read from the child's stdout or stderr.
type OutputChunk struct {
	Data   []byte
	Stderr bool
}

// ExitResult reports how the child ended. Code is -1 when the process
// was killed by a signal or never produced an exit code.
type ExitResult struct {
	Code int
	Err  error
}

// Process is a handle on one live child process. Only the pool hands
// these out; nothing else may signal or write to the child directly.
type Process interface {
	PID() int
	// SendInput writes a line to the child's stdin.
	SendInput(text string) error
	// Kill terminates the child, escalating from SIGTERM to SIGKILL.
	Kill(reason string) error
	// Output streams raw chunks as they arrive. Closed before Exit fires.
	Output() <-chan OutputChunk
	// Exit delivers exactly one result when the child is gone.
	Exit() <-chan ExitResult
}

// Spawner launches one OS process per execution.
type Spawner interface {
	Spawn(ctx context.Context, cfg core.ExecConfig) (Process, error)
}

// OSSpawner is the real spawner. It confines working directories to
// the configured workspace root and runs a resource preflight before
// every launch.
type OSSpawner struct {
	root      string
	preflight *Preflight
	grace     time.Duration
	logger    *logging.Logger
}

// OSSpawnerOption configures an OSSpawner.
type OSSpawnerOption func(*OSSpawner)

// WithPreflight sets the resource preflight check.
func WithPreflight(p *Preflight) OSSpawnerOption {
	return func(s *OSSpawner) { s.preflight = p }
}

// WithKillGrace sets the SIGTERM-to-SIGKILL grace period.
func WithKillGrace(d time.Duration) OSSpawnerOption {
	return func(s *OSSpawner) { s.grace = d }
}

// NewOSSpawner creates a spawner confined to the given workspace root.
func NewOSSpawner(root string, logger *logging.Logger, opts ...OSSpawnerOption) *OSSpawner {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &OSSpawner{
		root:   filepath.Clean(root),
		grace:  5 * time.Second,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn launches the configured command. Arguments are passed as an
// array; they are never concatenated into a shell string.
func (s *OSSpawner) Spawn(ctx context.Context, cfg core.ExecConfig) (Process, error) {
	if !pathWithin(s.root, cfg.Dir) {
		return nil, core.ErrValidation(core.CodeUnknownWorkspace,
			"working directory "+cfg.Dir+" escapes workspace root "+s.root)
	}
	if info, err := os.Stat(cfg.Dir); err != nil || !info.IsDir() {
		return nil, core.ErrValidation(core.CodeUnknownWorkspace, "workspace does not exist: "+cfg.Dir)
	}

	if s.preflight != nil {
		warnings, err := s.preflight.Check()
		if err != nil {
			return nil, core.ErrSpawn("preflight check failed").WithCause(err)
		}
		for _, w := range warnings {
			s.logger.Warn("preflight warning before spawn", "warning", w, "command", cfg.Command)
		}
	}

	resolved, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, core.ErrSpawn("harness binary not found: " + cfg.Command).WithCause(err)
	}

	// #nosec G204 -- command path resolved via LookPath, args come from the adapter
	cmd := exec.Command(resolved, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	configureProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.ErrSpawn("creating stdin pipe").WithCause(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, core.ErrSpawn("creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, core.ErrSpawn("creating stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, core.ErrSpawn("starting "+cfg.Command).WithCause(err)
	}

	s.logger.Info("process started", "command", cfg.Command, "pid", cmd.Process.Pid, "dir", cfg.Dir)

	p := &osProcess{
		cmd:    cmd,
		stdin:  stdin,
		grace:  s.grace,
		logger: s.logger,
		output: make(chan OutputChunk, 64),
		exit:   make(chan ExitResult, 1),
		done:   make(chan struct{}),
	}
	go p.pump(stdout, stderr)

	// Kill the child if the surrounding context is cancelled while it
	// is still running.
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Kill("context cancelled")
		case <-p.done:
		}
	}()

	return p, nil
}

// osProcess wraps one running exec.Cmd.
type osProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	grace  time.Duration
	logger *logging.Logger

	output   chan OutputChunk
	exit     chan ExitResult
	done     chan struct{}
	killOnce sync.Once

	mu     sync.Mutex
	exited bool
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

// pump streams both pipes into the output channel, then waits for the
// child and delivers the exit result.
func (p *osProcess) pump(stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)
	go p.read(stdout, false, &wg)
	go p.read(stderr, true, &wg)
	wg.Wait()

	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	close(p.output)

	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	p.exit <- ExitResult{Code: code, Err: err}
	close(p.done)
}

func (p *osProcess) read(pipe io.ReadCloser, isStderr bool, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.output <- OutputChunk{Data: data, Stderr: isStderr}
		}
		if err != nil {
			return
		}
	}
}

// SendInput writes a line to the child's stdin.
func (p *osProcess) SendInput(text string) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return core.ErrProcess(core.CodeNonZeroExit, "process has exited, cannot send input")
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := io.WriteString(p.stdin, text); err != nil {
		return core.ErrProcess(core.CodeNonZeroExit, "writing to stdin").WithCause(err)
	}
	return nil
}

// Kill terminates the child and its process group. Idempotent.
func (p *osProcess) Kill(reason string) error {
	var err error
	p.killOnce.Do(func() {
		p.logger.Info("killing process", "pid", p.cmd.Process.Pid, "reason", reason)
		_ = p.stdin.Close()
		err = terminateGroup(p.cmd, p.done, p.grace)
	})
	return err
}

func (p *osProcess) Output() <-chan OutputChunk { return p.output }
func (p *osProcess) Exit() <-chan ExitResult    { return p.exit }

// WithinRoot reports whether dir is root or inside it. Shared with the
// task layer so workspace containment is checked once at create time
// and again before spawn.
func WithinRoot(root, dir string) bool {
	return pathWithin(root, dir)
}

// pathWithin reports whether target is base or inside it.
func pathWithin(base, target string) bool {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	sep := string(os.PathSeparator)
	return rel != ".." && !strings.HasPrefix(rel, ".."+sep)
}

var _ Spawner = (*OSSpawner)(nil)
