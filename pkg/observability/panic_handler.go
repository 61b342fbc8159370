package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// It must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "retention purge")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// PanicError converts a recovered value into an error and logs it. It returns
// nil when r is nil, so callers can write:
//
//	defer func() { err = observability.PanicError(logger, "fetch", recover()) }()
func PanicError(logger *Logger, context string, r interface{}) error {
	if r == nil {
		return nil
	}
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", context).
		Error("PANIC recovered")
	return fmt.Errorf("panic in %s: %v", context, r)
}
