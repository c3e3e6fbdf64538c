package frontend

import (
	"io"
	"log"
)

// The frontend logs on three independent streams so deployments can
// route them separately: ops carries actionable warnings (data loss,
// persistence failures), diag carries day-to-day diagnostics and
// tuning context, trace carries high-frequency per-scan telemetry.
// All streams are silent until SetLogWriters is called.
type logStream struct {
	l *log.Logger
}

func (s *logStream) set(w io.Writer) {
	if w == nil {
		s.l = nil
		return
	}
	s.l = log.New(w, "[frontend] ", log.LstdFlags|log.Lmicroseconds)
}

func (s *logStream) printf(format string, args ...interface{}) {
	if s.l != nil {
		s.l.Printf(format, args...)
	}
}

var opsStream, diagStream, traceStream logStream

// SetLogWriters configures the three logging streams. Pass nil for any
// writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsStream.set(ops)
	diagStream.set(diag)
	traceStream.set(trace)
}

func opsf(format string, args ...interface{})   { opsStream.printf(format, args...) }
func diagf(format string, args ...interface{})  { diagStream.printf(format, args...) }
func tracef(format string, args ...interface{}) { traceStream.printf(format, args...) }
