package core

// OutputEventKind classifies a single line of harness output.
type OutputEventKind string

const (
	OutputQuestion   OutputEventKind = "question"
	OutputProgress   OutputEventKind = "progress"
	OutputFileOp     OutputEventKind = "file_op"
	OutputCompletion OutputEventKind = "completion"
	OutputError      OutputEventKind = "error"
)

// OutputEvent is a transient classification result from the output
// parser. Never persisted directly; consumed immediately to update task
// state.
type OutputEvent struct {
	Kind OutputEventKind

	// Text carries the question text, progress message, completion
	// summary, or error message depending on Kind.
	Text string

	// Percent is set on progress events when the line carried one.
	Percent *int

	// FileOp is set on file_op events.
	FileOp *FileOperation

	// Risky marks a progress line the adapter flagged as needing
	// explicit approval.
	Risky bool
}

// QuestionEvent constructs a question output event.
func QuestionEvent(text string) OutputEvent {
	return OutputEvent{Kind: OutputQuestion, Text: text}
}

// ProgressEvent constructs a progress output event.
func ProgressEvent(message string, percent *int) OutputEvent {
	return OutputEvent{Kind: OutputProgress, Text: message, Percent: percent}
}

// FileOpEvent constructs a file operation output event.
func FileOpEvent(kind FileOpKind, path string) OutputEvent {
	return OutputEvent{Kind: OutputFileOp, FileOp: &FileOperation{Kind: kind, Path: path}}
}

// CompletionEvent constructs a completion output event.
func CompletionEvent(summary string) OutputEvent {
	return OutputEvent{Kind: OutputCompletion, Text: summary}
}

// ErrorEvent constructs an error output event.
func ErrorEvent(message string) OutputEvent {
	return OutputEvent{Kind: OutputError, Text: message}
}
