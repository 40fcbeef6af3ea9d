package harness

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/ljacobsen/foreman/internal/core"
)

// ansiPattern matches CSI and OSC terminal control sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// spinnerGlyphs are animation characters some CLIs prepend to progress
// lines. Stripped before classification.
const spinnerGlyphs = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏◐◓◑◒|/-\\"

// percentPattern matches an explicit "42%" progress figure.
var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// stepPattern matches "[3/7]"-style step counters.
var stepPattern = regexp.MustCompile(`\[(\d+)/(\d+)\]`)

// OutputParser turns raw output chunks into classified events. It is
// stateful and line-buffered: a trailing partial line is held until
// more data arrives or the stream ends. Single-consumer; events for
// one execution are produced strictly in arrival order.
type OutputParser struct {
	h       core.Harness
	partial bytes.Buffer
	full    strings.Builder
}

// NewOutputParser creates a parser bound to one harness adapter.
func NewOutputParser(h core.Harness) *OutputParser {
	return &OutputParser{h: h}
}

// Write appends a raw chunk and returns events for every line completed
// by it. A line split across two chunks produces exactly one event.
func (p *OutputParser) Write(chunk []byte) []core.OutputEvent {
	p.full.Write(chunk)
	p.partial.Write(chunk)

	var events []core.OutputEvent
	for {
		data := p.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		p.partial.Next(idx + 1)
		if ev, ok := p.classify(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush classifies any held partial line. Call when the stream ends.
func (p *OutputParser) Flush() []core.OutputEvent {
	if p.partial.Len() == 0 {
		return nil
	}
	line := p.partial.String()
	p.partial.Reset()
	if ev, ok := p.classify(line); ok {
		return []core.OutputEvent{ev}
	}
	return nil
}

// Output returns everything the parser has seen, for post-hoc summary
// and file-operation extraction.
func (p *OutputParser) Output() string {
	return p.full.String()
}

// classify strips control sequences and applies first-match-wins
// precedence: question > completion > file-operation > progress.
// A single line produces at most one event.
func (p *OutputParser) classify(raw string) (core.OutputEvent, bool) {
	line := CleanLine(raw)
	if line == "" {
		return core.OutputEvent{}, false
	}

	if question, ok := p.h.DetectQuestion(line); ok {
		return core.QuestionEvent(question), true
	}

	switch p.h.ClassifyLine(line) {
	case core.LineCompletion:
		return core.CompletionEvent(line), true
	case core.LineFileOp:
		ops := p.h.ExtractFileOperations(line)
		if len(ops) > 0 {
			return core.FileOpEvent(ops[0].Kind, ops[0].Path), true
		}
		return core.ProgressEvent(line, nil), true
	case core.LineError:
		return core.ErrorEvent(line), true
	case core.LineProgress:
		ev := core.ProgressEvent(line, extractPercent(line))
		ev.Risky = p.h.FlagRisky(line)
		return ev, true
	}
	return core.OutputEvent{}, false
}

// CleanLine strips ANSI control sequences, spinner glyphs, and carriage
// returns from a raw output line.
func CleanLine(raw string) string {
	line := ansiPattern.ReplaceAllString(raw, "")
	// A carriage-return rewrite keeps only the final rendering.
	if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
		line = line[idx+1:]
	}
	line = strings.TrimLeftFunc(line, func(r rune) bool {
		return strings.ContainsRune(spinnerGlyphs, r) || r == ' ' || r == '\t'
	})
	return strings.TrimSpace(line)
}

// extractPercent pulls a progress percentage from "42%" figures or
// "[3/7]" step counters.
func extractPercent(line string) *int {
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct >= 0 && pct <= 100 {
			return &pct
		}
	}
	if m := stepPattern.FindStringSubmatch(line); m != nil {
		step, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil && total > 0 && step <= total {
			pct := step * 100 / total
			return &pct
		}
	}
	return nil
}
