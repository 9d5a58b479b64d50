package issue

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Kinds of recoverable problems recorded during a run.
const (
	KindParse         = "parse"
	KindUnterminated  = "unterminated"
	KindMissingField  = "missing_field"
	KindUnknownRef    = "unknown_ref"
	KindDateInference = "date_inference"
	KindCall          = "call"
	KindStore         = "store"
)

// Issue is one skipped record or failed step, kept with enough context to
// find the offending input again.
type Issue struct {
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	Batch int    `json:"batch,omitempty"`
	Msg   string `json:"msg"`
	Text  string `json:"text,omitempty"`
}

func (i Issue) String() string {
	if i.Batch > 0 {
		return fmt.Sprintf("[%s/%s] batch %d: %s", i.Stage, i.Kind, i.Batch, i.Msg)
	}
	return fmt.Sprintf("[%s/%s] %s", i.Stage, i.Kind, i.Msg)
}

// Log collects the issues of one run. A nil *Log is valid and discards
// everything, which keeps call sites free of nil checks.
type Log struct {
	logger *zerolog.Logger
	items  []Issue
}

// NewLog creates a log that also reports each issue as a warning.
func NewLog(logger *zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Add records an issue.
func (l *Log) Add(i Issue) {
	if l == nil {
		return
	}
	l.items = append(l.items, i)
	if l.logger != nil {
		ev := l.logger.Warn().Str("stage", i.Stage).Str("kind", i.Kind)
		if i.Batch > 0 {
			ev = ev.Int("batch", i.Batch)
		}
		if i.Text != "" {
			ev = ev.Str("text", truncate(i.Text, 300))
		}
		ev.Msg(i.Msg)
	}
}

// Addf records an issue with a formatted message.
func (l *Log) Addf(stage, kind string, batch int, format string, args ...any) {
	l.Add(Issue{Stage: stage, Kind: kind, Batch: batch, Msg: fmt.Sprintf(format, args...)})
}

// Merge appends all issues of other.
func (l *Log) Merge(other *Log) {
	if l == nil || other == nil {
		return
	}
	l.items = append(l.items, other.items...)
}

// Issues returns the recorded issues in insertion order.
func (l *Log) Issues() []Issue {
	if l == nil {
		return nil
	}
	return l.items
}

// Len returns the number of recorded issues.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Count returns how many issues of the given kind were recorded.
func (l *Log) Count(kind string) int {
	n := 0
	for _, i := range l.Issues() {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
