package monitoring

import (
	"log"
	"sync"
)

// The package logger carries receive-path and cache lifecycle messages. It
// defaults to log.Printf. Listener goroutines log while tests swap it, so
// access is locked.
var (
	mu     sync.RWMutex
	logger = log.Printf
)

// Logf writes one message through the current logger.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logger
	mu.RUnlock()
	f(format, v...)
}

// Logger returns the current logger, for restoring it after SetLogger.
func Logger() func(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logger = func(string, ...interface{}) {}
		return
	}
	logger = f
}
