package recovery

import (
	"runtime/debug"
	"sync"

	"github.com/vanpelt/claude-blocker/internal/logger"
)

// SafeGo runs a function in a goroutine with automatic panic recovery
// so a bug in one background task never takes the tracker down
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// SafeGoWithCleanup runs a function in a goroutine with panic recovery and cleanup
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
		}()
		defer Recover(name)
		fn()
	}()
}

// SafeGoGroup is SafeGo tracked by a WaitGroup
func SafeGoGroup(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	SafeGoWithCleanup(name, fn, wg.Done)
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Logger.Error().
			Str("goroutine", name).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("🚨 panic recovered")
	}
}
