package fusion

import (
	"io"
	"log"
	"sync"
)

// Stream selects one of the three fusion log streams.
type Stream int

const (
	// StreamOps carries what an operator acts on, such as a sensor
	// resolving to a node or a system pair calibrating.
	StreamOps Stream = iota
	// StreamDiag carries the evidence behind those decisions: candidate
	// rankings and per-pair estimator residuals, for tuning thresholds.
	StreamDiag
	// StreamTrace carries one line per fusion cycle.
	StreamTrace
)

var streamNames = [...]string{StreamOps: "ops", StreamDiag: "diag", StreamTrace: "trace"}

func (s Stream) String() string {
	if s < 0 || int(s) >= len(streamNames) {
		return "unknown"
	}
	return streamNames[s]
}

// LogWriters routes each stream to a writer. A nil writer mutes its stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu      sync.RWMutex
	loggers [3]*log.Logger
)

// SetLogWriters replaces all three streams at once. Lines are prefixed
// with "[fusion <stream>] " so merged output stays attributable.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	for s, out := range [3]io.Writer{StreamOps: w.Ops, StreamDiag: w.Diag, StreamTrace: w.Trace} {
		loggers[s] = nil
		if out != nil {
			loggers[s] = log.New(out, "[fusion "+Stream(s).String()+"] ", log.LstdFlags|log.Lmicroseconds)
		}
	}
}

// Enabled reports whether s has a writer. Callers building costly
// messages (per-sensor rankings) check it first.
func Enabled(s Stream) bool {
	mu.RLock()
	defer mu.RUnlock()
	return int(s) < len(loggers) && s >= 0 && loggers[s] != nil
}

func logf(s Stream, format string, args ...interface{}) {
	mu.RLock()
	l := loggers[s]
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to StreamOps.
func Opsf(format string, args ...interface{}) { logf(StreamOps, format, args...) }

// Diagf logs to StreamDiag.
func Diagf(format string, args ...interface{}) { logf(StreamDiag, format, args...) }

// Tracef logs to StreamTrace.
func Tracef(format string, args ...interface{}) { logf(StreamTrace, format, args...) }
