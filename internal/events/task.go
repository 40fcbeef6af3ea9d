package events

// Event type constants for task lifecycle events.
const (
	TypeTaskCreated      = "task_created"
	TypeTaskStarted      = "task_started"
	TypeTaskProgress     = "task_progress"
	TypeTaskWaitingInput = "task_waiting_input"
	TypeTaskResumed      = "task_resumed"
	TypeTaskCompleted    = "task_completed"
	TypeTaskFailed       = "task_failed"
	TypeTaskCancelled    = "task_cancelled"
	TypeTaskTimeout      = "task_timeout"
)

// TaskCreatedEvent is emitted when a task is accepted.
type TaskCreatedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Goal      string `json:"goal"`
	Harness   string `json:"harness"`
	Workspace string `json:"workspace"`
}

// NewTaskCreatedEvent creates a task created event.
func NewTaskCreatedEvent(taskID, sessionID, goal, harness, workspace string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCreated, taskID),
		SessionID: sessionID,
		Goal:      goal,
		Harness:   harness,
		Workspace: workspace,
	}
}

// TaskStartedEvent is emitted when the harness process starts.
type TaskStartedEvent struct {
	BaseEvent
	Harness string `json:"harness"`
	PID     int    `json:"pid,omitempty"`
}

// NewTaskStartedEvent creates a task started event.
func NewTaskStartedEvent(taskID, harness string, pid int) TaskStartedEvent {
	return TaskStartedEvent{
		BaseEvent: NewBaseEvent(TypeTaskStarted, taskID),
		Harness:   harness,
		PID:       pid,
	}
}

// TaskProgressEvent is emitted for each classified progress line.
type TaskProgressEvent struct {
	BaseEvent
	Message string `json:"message"`
	Percent *int   `json:"percent,omitempty"`
}

// NewTaskProgressEvent creates a task progress event.
func NewTaskProgressEvent(taskID, message string, percent *int) TaskProgressEvent {
	return TaskProgressEvent{
		BaseEvent: NewBaseEvent(TypeTaskProgress, taskID),
		Message:   message,
		Percent:   percent,
	}
}

// TaskWaitingInputEvent is emitted when the harness asks a question.
// Question carries the literal text so callers can relay it verbatim.
type TaskWaitingInputEvent struct {
	BaseEvent
	Question string `json:"question"`
}

// NewTaskWaitingInputEvent creates a waiting-for-input event.
func NewTaskWaitingInputEvent(taskID, question string) TaskWaitingInputEvent {
	return TaskWaitingInputEvent{
		BaseEvent: NewBaseEvent(TypeTaskWaitingInput, taskID),
		Question:  question,
	}
}

// TaskResumedEvent is emitted when an answer is forwarded and the run
// continues.
type TaskResumedEvent struct {
	BaseEvent
}

// NewTaskResumedEvent creates a task resumed event.
func NewTaskResumedEvent(taskID string) TaskResumedEvent {
	return TaskResumedEvent{BaseEvent: NewBaseEvent(TypeTaskResumed, taskID)}
}

// TaskCompletedEvent is emitted when a task finishes successfully.
type TaskCompletedEvent struct {
	BaseEvent
	Summary       string   `json:"summary"`
	FilesModified []string `json:"files_modified,omitempty"`
}

// NewTaskCompletedEvent creates a task completed event.
func NewTaskCompletedEvent(taskID, summary string, filesModified []string) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent:     NewBaseEvent(TypeTaskCompleted, taskID),
		Summary:       summary,
		FilesModified: filesModified,
	}
}

// TaskFailedEvent is emitted when a task fails terminally.
type TaskFailedEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// NewTaskFailedEvent creates a task failed event.
func NewTaskFailedEvent(taskID string, err error) TaskFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, taskID),
		Error:     errStr,
	}
}

// TaskCancelledEvent is emitted when a task is cancelled.
type TaskCancelledEvent struct {
	BaseEvent
}

// NewTaskCancelledEvent creates a task cancelled event.
func NewTaskCancelledEvent(taskID string) TaskCancelledEvent {
	return TaskCancelledEvent{BaseEvent: NewBaseEvent(TypeTaskCancelled, taskID)}
}

// TaskTimeoutEvent is emitted when an execution exceeds its deadline.
// The task also receives a TaskFailedEvent; this event carries the
// partial output buffered before the kill.
type TaskTimeoutEvent struct {
	BaseEvent
	PartialOutput string `json:"partial_output,omitempty"`
}

// NewTaskTimeoutEvent creates a task timeout event.
func NewTaskTimeoutEvent(taskID, partialOutput string) TaskTimeoutEvent {
	return TaskTimeoutEvent{
		BaseEvent:     NewBaseEvent(TypeTaskTimeout, taskID),
		PartialOutput: partialOutput,
	}
}
