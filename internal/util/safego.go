// safego.go - Panic-recovering goroutine launcher.
package util

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo launches fn in a goroutine with deferred panic recovery.
// On panic: logs the stack trace through slog. Does NOT exit; a crashed
// heartbeat or reader must not take the bridge down with it.
func SafeGo(fn func()) {
	go func() {
		defer Recover("background goroutine")
		fn()
	}()
}

// Recover logs a recovered panic with its stack. Call it deferred.
func Recover(where string) {
	if r := recover(); r != nil {
		slog.Error("panic recovered", "where", where, "panic", r, "stack", string(debug.Stack()))
	}
}
