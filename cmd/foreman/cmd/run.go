package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/events"
	"github.com/ljacobsen/foreman/internal/task"
)

var (
	runHarness   string
	runWorkspace string
	runSession   string
	runTimeout   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Run one task under supervision and stream its progress",
	Long: `Run accepts a goal, hands it to the configured harness, and follows
the task to a terminal state. Questions the harness asks are relayed to
the terminal; your answer is forwarded to the process. Ctrl-C cancels
the task cleanly before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runHarness, "harness", "claude", "harness to run (claude, codex, aider)")
	runCmd.Flags().StringVarP(&runWorkspace, "workspace", "w", ".", "workspace directory for the run")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "cli", "session identifier")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "execution timeout (default from config)")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, notice := range a.coordinator.Notices() {
		fmt.Fprintln(cmd.OutOrStdout(), "notice:", notice)
	}

	modeCtx, modeCancel := context.WithCancel(context.Background())
	defer modeCancel()
	go a.coordinator.Run(modeCtx)

	// One regular subscription sees every event exactly once.
	ch := a.bus.Subscribe()
	defer a.bus.Unsubscribe(ch)

	t, err := a.manager.Create(ctx, task.CreateRequest{
		Session:   core.SessionID(runSession),
		Goal:      args[0],
		Harness:   runHarness,
		Workspace: runWorkspace,
		Timeout:   runTimeout,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task %s accepted on %s\n", t.ID, t.Harness)

	return followTask(ctx, cmd, a, t.ID, ch)
}

// followTask prints events for one task until it reaches a terminal
// state, relaying questions to the operator.
func followTask(ctx context.Context, cmd *cobra.Command, a *app, id core.TaskID, ch <-chan events.Event) error {
	out := cmd.OutOrStdout()
	stdin := bufio.NewReader(cmd.InOrStdin())

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "interrupt received, cancelling task")
			cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err := a.manager.Cancel(cancelCtx, id)
			cancel()
			if err != nil {
				return err
			}
			return awaitTerminal(a, id, ch)

		case ev, ok := <-ch:
			if !ok {
				return fmt.Errorf("event stream closed before task %s finished", id)
			}
			if ev.TaskID() != string(id) {
				continue
			}
			done, err := printEvent(out, stdin, a, id, ev)
			if done {
				return err
			}
		}
	}
}

// printEvent renders one event. Returns done=true on terminal events.
func printEvent(out io.Writer, stdin *bufio.Reader, a *app, id core.TaskID, ev events.Event) (bool, error) {
	switch e := ev.(type) {
	case events.TaskStartedEvent:
		fmt.Fprintf(out, "started (pid %d)\n", e.PID)

	case events.TaskProgressEvent:
		if e.Percent != nil {
			fmt.Fprintf(out, "  [%3d%%] %s\n", *e.Percent, e.Message)
		} else {
			fmt.Fprintf(out, "  %s\n", e.Message)
		}

	case events.GuardRequiredEvent:
		fmt.Fprintf(out, "\nrisky action detected: %s\n", e.Action)
		fmt.Fprint(out, "approve? [y/N] ")
		line, _ := stdin.ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			a.coordinator.Approve(string(id))
			fmt.Fprintln(out, "approved, run continues")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err := a.manager.Cancel(ctx, id)
			cancel()
			if err != nil {
				return true, err
			}
		}

	case events.TaskWaitingInputEvent:
		fmt.Fprintf(out, "\nquestion from harness: %s\n> ", e.Question)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return true, fmt.Errorf("reading answer: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = a.manager.Respond(ctx, id, strings.TrimSpace(line))
		cancel()
		if err != nil {
			return true, err
		}

	case events.TaskCompletedEvent:
		fmt.Fprintf(out, "\ncompleted: %s\n", e.Summary)
		for _, f := range e.FilesModified {
			fmt.Fprintf(out, "  touched %s\n", f)
		}
		return true, nil

	case events.TaskFailedEvent:
		return true, fmt.Errorf("task failed: %s", e.Error)

	case events.TaskCancelledEvent:
		fmt.Fprintln(out, "task cancelled")
		return true, nil
	}
	return false, nil
}

// awaitTerminal drains events until the task's terminal event arrives.
func awaitTerminal(a *app, id core.TaskID, ch <-chan events.Event) error {
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.TaskID() != string(id) {
				continue
			}
			switch ev.(type) {
			case events.TaskCancelledEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
				return nil
			}
		case <-deadline:
			return fmt.Errorf("task %s did not stop within 30s of cancellation", id)
		}
	}
}
