package task

import (
	"github.com/ljacobsen/foreman/internal/core"
	"github.com/ljacobsen/foreman/internal/events"
	"github.com/ljacobsen/foreman/internal/harness"
)

// goalPreamble frames every goal as a self-contained instruction for an
// unattended CLI run. The process gets no follow-up conversation, so
// the framing tells it to act, report file changes, and finish cleanly.
const goalPreamble = `You are running unattended under a supervisor. ` +
	`Complete the following task fully without asking for confirmation unless a decision is truly ambiguous. ` +
	`Report every file you create, modify, or delete. ` +
	`When finished, print a one-line summary of what you did.

Task: `

// FrameGoal wraps a raw goal in the unattended-run preamble.
func FrameGoal(goal string) string {
	return goalPreamble + goal
}

// lifecycle translates executor callbacks into state transitions and
// published events. All calls for one task arrive in order from the
// run goroutine; the manager's lock serializes across tasks.
type lifecycle struct {
	m *Manager
}

func (l *lifecycle) Started(id core.TaskID, pid int) {
	l.m.apply(id, func(t *core.Task) error {
		if err := t.MarkRunning(); err != nil {
			return err
		}
		l.m.bus.Publish(events.NewTaskStartedEvent(string(id), t.Harness, pid))
		return nil
	})
}

func (l *lifecycle) Progress(id core.TaskID, entry core.ProgressEntry) {
	l.m.apply(id, func(t *core.Task) error {
		t.AppendProgress(entry)
		l.m.bus.Publish(events.NewTaskProgressEvent(string(id), entry.Message, entry.Percent))
		return nil
	})
}

func (l *lifecycle) Waiting(id core.TaskID, question string) {
	l.m.apply(id, func(t *core.Task) error {
		if err := t.MarkWaiting(question); err != nil {
			return err
		}
		l.m.bus.PublishPriority(events.NewTaskWaitingInputEvent(string(id), question))
		return nil
	})
}

func (l *lifecycle) Resumed(id core.TaskID) {
	l.m.apply(id, func(t *core.Task) error {
		if err := t.MarkRunning(); err != nil {
			return err
		}
		l.m.bus.Publish(events.NewTaskResumedEvent(string(id)))
		return nil
	})
}

func (l *lifecycle) Risky(id core.TaskID, line string) {
	// No state transition; the mode coordinator reacts to the event.
	l.m.bus.PublishPriority(events.NewGuardRequiredEvent(string(id), line))
}

func (l *lifecycle) Completed(id core.TaskID, result *core.Result) {
	l.m.apply(id, func(t *core.Task) error {
		if err := t.MarkCompleted(result); err != nil {
			return err
		}
		l.m.bus.PublishPriority(events.NewTaskCompletedEvent(string(id), result.Summary, result.AllFiles()))
		return nil
	})
}

func (l *lifecycle) Failed(id core.TaskID, err error) {
	l.m.apply(id, func(t *core.Task) error {
		if markErr := t.MarkFailed(err.Error()); markErr != nil {
			return markErr
		}
		if core.IsCategory(err, core.ErrCatTimeout) {
			l.m.bus.Publish(events.NewTaskTimeoutEvent(string(id), lastProgress(t)))
		}
		l.m.bus.PublishPriority(events.NewTaskFailedEvent(string(id), err))
		return nil
	})
}

func (l *lifecycle) Cancelled(id core.TaskID) {
	l.m.apply(id, func(t *core.Task) error {
		if err := t.MarkCancelled(); err != nil {
			return err
		}
		l.m.bus.PublishPriority(events.NewTaskCancelledEvent(string(id)))
		return nil
	})
}

// lastProgress returns the most recent progress message, for timeout
// reporting. Progress already persisted is the partial output record.
func lastProgress(t *core.Task) string {
	if len(t.Progress) == 0 {
		return ""
	}
	return t.Progress[len(t.Progress)-1].Message
}

var _ harness.Callbacks = (*lifecycle)(nil)
