package errlog

import "sync/atomic"

var std atomic.Pointer[Logger]

func init() {
	std.Store(New())
}

// Default returns the process-wide logger.
func Default() *Logger {
	return std.Load()
}

// SetDefault replaces the process-wide logger. A nil l is ignored.
func SetDefault(l *Logger) {
	if l != nil {
		std.Store(l)
	}
}

// LogError records message on the process-wide logger.
func LogError(message string, ctx map[string]any) {
	Default().LogError(message, ctx)
}

// RecentErrors returns the process-wide history, oldest first.
func RecentErrors() []Entry {
	return Default().RecentErrors()
}

// ClearHistory empties the process-wide history.
func ClearHistory() {
	Default().ClearHistory()
}
