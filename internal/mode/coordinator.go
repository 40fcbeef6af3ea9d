// Package mode tracks the orchestrator's routing mode: what the
// operator-facing surface should do with the next interaction. The
// coordinator derives the mode from task lifecycle events and persists
// every change atomically so a restart resumes with an honest mode.
package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ljacobsen/foreman/internal/events"
	"github.com/ljacobsen/foreman/internal/logging"
)

// Mode is the orchestrator's current routing posture.
type Mode string

const (
	// ModeIdle: no live tasks; interactions route normally.
	ModeIdle Mode = "idle"
	// ModeWorking: at least one task is running unattended.
	ModeWorking Mode = "working"
	// ModeWaitingInput: a task is blocked on a question; the next
	// interaction should answer it.
	ModeWaitingInput Mode = "waiting_input"
	// ModeGuarded: a run printed a line flagged as risky; input is held
	// until explicitly approved.
	ModeGuarded Mode = "guarded"
	// ModeResting: work just finished; a quiet window before idle so
	// results can be surfaced first.
	ModeResting Mode = "resting"
)

// DefaultQuietWindow is how long the coordinator rests after the last
// task ends before returning to idle.
const DefaultQuietWindow = 2 * time.Minute

// persistedState is the on-disk record of the current mode.
type persistedState struct {
	Mode      Mode      `json:"mode"`
	TaskID    string    `json:"task_id,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Coordinator derives the routing mode from the event stream and
// persists it. Single goroutine consumes events; Mode and Notices are
// safe from any goroutine.
type Coordinator struct {
	bus       *events.Bus
	statePath string
	quiet     time.Duration
	logger    *logging.Logger

	mu      sync.Mutex
	mode    Mode
	running map[string]bool
	waiting map[string]bool
	guarded map[string]bool
	notices []string
	restAt  time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithQuietWindow overrides the resting window.
func WithQuietWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.quiet = d }
}

// NewCoordinator creates a coordinator persisting mode at statePath.
func NewCoordinator(bus *events.Bus, statePath string, logger *logging.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Coordinator{
		bus:       bus,
		statePath: statePath,
		quiet:     DefaultQuietWindow,
		logger:    logger,
		mode:      ModeIdle,
		running:   make(map[string]bool),
		waiting:   make(map[string]bool),
		guarded:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the current routing mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Notices drains pending operator notices, such as tasks failed by a
// restart. Each notice is delivered exactly once.
func (c *Coordinator) Notices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

// Approve clears the guard for a task, letting input flow again.
func (c *Coordinator) Approve(taskID string) {
	c.mu.Lock()
	delete(c.guarded, taskID)
	c.recompute(taskID)
	c.mu.Unlock()
}

// Run consumes the event stream until ctx is cancelled. Call once.
// Waiting, guard, and terminal events arrive on a priority channel that
// never drops; losing a terminal event would leave the persisted mode
// stuck at working. Started and resumed events may drop under load,
// which at worst delays entering working until the next event.
func (c *Coordinator) Run(ctx context.Context) {
	ch := c.bus.Subscribe(events.TypeTaskStarted, events.TypeTaskResumed, events.TypeTaskInterrupted)
	defer c.bus.Unsubscribe(ch)
	pch := c.bus.SubscribePriority()
	defer c.bus.Unsubscribe(pch)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ev)
		case ev, ok := <-pch:
			if !ok {
				return
			}
			// Regular events for the same task are published before its
			// terminal event; apply any still queued first so a started
			// is never replayed after the task ended.
			c.drainRegular(ch)
			c.handle(ev)
		case <-ticker.C:
			// Leave resting once the quiet window has elapsed.
			c.mu.Lock()
			if c.mode == ModeResting && time.Since(c.restAt) >= c.quiet {
				c.recompute("")
			}
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) drainRegular(ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ev)
		default:
			return
		}
	}
}

func (c *Coordinator) handle(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ev.TaskID()
	switch ev.EventType() {
	case events.TypeTaskStarted, events.TypeTaskResumed:
		c.running[id] = true
		delete(c.waiting, id)
		delete(c.guarded, id)

	case events.TypeTaskWaitingInput:
		delete(c.running, id)
		c.waiting[id] = true

	case events.TypeGuardRequired:
		c.guarded[id] = true

	case events.TypeTaskInterrupted:
		c.notices = append(c.notices,
			fmt.Sprintf("task %s did not survive a restart and was marked failed", id))

	case events.TypeTaskCompleted, events.TypeTaskFailed, events.TypeTaskCancelled:
		wasLive := c.running[id] || c.waiting[id]
		delete(c.running, id)
		delete(c.waiting, id)
		delete(c.guarded, id)
		if wasLive && len(c.running) == 0 && len(c.waiting) == 0 {
			c.restAt = time.Now()
		}

	default:
		return
	}
	c.recompute(id)
}

// recompute applies mode precedence: guarded > waiting_input > working
// > resting > idle. Caller holds the lock.
func (c *Coordinator) recompute(taskID string) {
	next := ModeIdle
	switch {
	case len(c.guarded) > 0:
		next = ModeGuarded
	case len(c.waiting) > 0:
		next = ModeWaitingInput
	case len(c.running) > 0:
		next = ModeWorking
	case !c.restAt.IsZero() && time.Since(c.restAt) < c.quiet:
		next = ModeResting
	}

	if next == c.mode {
		return
	}
	prev := c.mode
	c.mode = next
	c.logger.Info("routing mode changed", "from", string(prev), "to", string(next), "task_id", taskID)
	c.bus.Publish(events.NewModeChangedEvent(taskID, string(prev), string(next)))

	if err := c.persist(taskID); err != nil {
		c.logger.Error("persisting mode state", "error", err)
	}
}

// persist writes the mode file atomically; readers never observe a
// torn write.
func (c *Coordinator) persist(taskID string) error {
	if c.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(persistedState{
		Mode:      c.mode,
		TaskID:    taskID,
		ChangedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling mode state: %w", err)
	}
	return renameio.WriteFile(c.statePath, data, 0o600)
}

// Restore loads a previously persisted mode. Live modes are not
// restored; after a restart nothing is running, so working and
// waiting_input collapse to idle with a notice.
func (c *Coordinator) Restore() error {
	if c.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading mode state: %w", err)
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing mode state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch st.Mode {
	case ModeResting:
		c.mode = ModeResting
		c.restAt = st.ChangedAt
	case ModeWorking, ModeWaitingInput, ModeGuarded:
		c.mode = ModeIdle
		c.notices = append(c.notices,
			fmt.Sprintf("restarted while in %s mode; in-flight work was reconciled", st.Mode))
	default:
		c.mode = ModeIdle
	}
	return nil
}
