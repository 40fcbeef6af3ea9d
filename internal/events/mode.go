package events

// Event type constants for routing-mode events.
const (
	TypeModeChanged     = "mode_changed"
	TypeTaskInterrupted = "task_interrupted"
	TypeGuardRequired   = "guard_required"
)

// ModeChangedEvent is emitted when the coordinator changes routing mode.
type ModeChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// NewModeChangedEvent creates a mode changed event. TaskID may be empty
// for transitions not tied to a task (e.g. resting → idle).
func NewModeChangedEvent(taskID, from, to string) ModeChangedEvent {
	return ModeChangedEvent{
		BaseEvent: NewBaseEvent(TypeModeChanged, taskID),
		From:      from,
		To:        to,
	}
}

// TaskInterruptedEvent is surfaced on restart when the persisted mode
// shows a task was in flight during a crash.
type TaskInterruptedEvent struct {
	BaseEvent
	Notice string `json:"notice"`
}

// NewTaskInterruptedEvent creates a task interrupted notice.
func NewTaskInterruptedEvent(taskID, notice string) TaskInterruptedEvent {
	return TaskInterruptedEvent{
		BaseEvent: NewBaseEvent(TypeTaskInterrupted, taskID),
		Notice:    notice,
	}
}

// GuardRequiredEvent is emitted when a harness line is flagged risky
// and explicit approval is required before input is forwarded.
type GuardRequiredEvent struct {
	BaseEvent
	Action string `json:"action"`
}

// NewGuardRequiredEvent creates a guard required event.
func NewGuardRequiredEvent(taskID, action string) GuardRequiredEvent {
	return GuardRequiredEvent{
		BaseEvent: NewBaseEvent(TypeGuardRequired, taskID),
		Action:    action,
	}
}
