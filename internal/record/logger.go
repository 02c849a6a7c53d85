package record

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Logger is the narrow logging surface the processor needs, mirroring
// httpstream.Logger's shape (internal/httpstream/types.go) cut down to
// what a schema/decode pipeline actually emits: structured events plus
// free-form debug lines.
type Logger interface {
	Event(kind string, fields map[string]any)
	Debugf(format string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Event(kind string, fields map[string]any) {}
func (NopLogger) Debugf(format string, args ...any)        {}

// StdLogger writes events and debug lines through a standard log.Logger,
// one line per event with fields in sorted-key order.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger wraps l; nil uses log.Default().
func NewStdLogger(l *log.Logger) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{l: l}
}

func (s *StdLogger) Event(kind string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(kind)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	s.l.Print(b.String())
}

func (s *StdLogger) Debugf(format string, args ...any) {
	s.l.Printf(format, args...)
}
