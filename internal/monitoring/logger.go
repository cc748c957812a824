// Package monitoring holds the dashcam's logging plumbing: a process-wide
// Logf hook and per-component ops/diag/trace streams.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logf is the process-wide diagnostic logger used by the binary and the
// journal. It defaults to log.Printf; SetLogger redirects or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Streams is a component logger with three streams: ops for lifecycle
// events and actionable warnings, diag for tuning context, trace for
// per-sample telemetry.
type Streams struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

var (
	registryMu sync.Mutex
	registry   []*Streams
	current    = LogWriters{Ops: os.Stderr}
)

// NewStreams returns the logger for a component, e.g. "buffer". It starts
// with the writers last passed to SetLogWriters and follows later calls.
func NewStreams(component string) *Streams {
	s := &Streams{prefix: "[" + component + "] "}
	registryMu.Lock()
	registry = append(registry, s)
	w := current
	registryMu.Unlock()
	s.SetWriters(w)
	return s
}

// SetLogWriters reconfigures every component's streams.
func SetLogWriters(w LogWriters) {
	registryMu.Lock()
	current = w
	streams := append([]*Streams(nil), registry...)
	registryMu.Unlock()
	for _, s := range streams {
		s.SetWriters(w)
	}
}

// SetWriters reconfigures this component only.
func (s *Streams) SetWriters(w LogWriters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = newLogger(s.prefix, w.Ops)
	s.diag = newLogger(s.prefix, w.Diag)
	s.trace = newLogger(s.prefix, w.Trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.ops
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.diag
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.trace
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
