package lidar

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[hdl] ", w.Ops)
	diagLogger = newLogger("[hdl] ", w.Diag)
	traceLogger = newLogger("[hdl] ", w.Trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (actionable warnings, calibration lifecycle).
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream (frame sealing, RPM window restarts).
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (per-packet telemetry).
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer. Hot paths
// check it before building trace arguments.
func TraceEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return traceLogger != nil
}

// WarnOnce is a one-shot latch for warnings that would otherwise repeat on
// every packet of a continuous stream. The zero value is ready to use. It is
// owned by a single decoder and is not safe for concurrent use.
type WarnOnce struct {
	warned bool
}

// Opsf logs to the ops stream the first time it is called and reports
// whether the message was emitted.
func (w *WarnOnce) Opsf(format string, args ...interface{}) bool {
	if w.warned {
		return false
	}
	w.warned = true
	Opsf(format, args...)
	return true
}

// Warned reports whether the latch has fired.
func (w *WarnOnce) Warned() bool { return w.warned }

// Reset re-arms the latch.
func (w *WarnOnce) Reset() { w.warned = false }
