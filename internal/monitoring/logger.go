package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. The CLI points it at zap; tests mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ResetLogger restores the standard library logger.
func ResetLogger() {
	Logf = log.Printf
}

// Sampled reports whether the n-th occurrence (1-based) of a per-packet event
// should be logged: the first `first` occurrences, then every `every`-th.
func Sampled(n uint64, first, every uint64) bool {
	if n <= first {
		return true
	}
	return every > 0 && n%every == 0
}
