package services

import (
	"sync"
	"time"

	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

// debouncedWriter coalesces bursts of mutations into one save. Every Schedule resets the
// timer, so the save runs delay after the most recent mutation and writers never stack.
type debouncedWriter struct {
	name  string
	delay time.Duration
	save  func() error

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	// writeMu serializes save calls between the timer and Flush
	writeMu sync.Mutex
}

func newDebouncedWriter(name string, delay time.Duration, save func() error) *debouncedWriter {
	return &debouncedWriter{name: name, delay: delay, save: save}
}

// Schedule marks the state dirty and (re)starts the timer
func (w *debouncedWriter) Schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.fire)
}

func (w *debouncedWriter) fire() {
	defer recovery.Recover(w.name + "-writer")

	if err := w.writeIfPending(); err != nil {
		logger.Errorf("❌ Failed to persist %s (will retry on next change): %v", w.name, err)
	}
}

// Flush stops the timer and writes synchronously if anything is pending
func (w *debouncedWriter) Flush() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.writeIfPending()
}

// Close flushes and stops scheduling further timers. Later mutations are still written by
// an explicit Flush.
func (w *debouncedWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush()
}

// Pending reports whether unsaved changes exist
func (w *debouncedWriter) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func (w *debouncedWriter) writeIfPending() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return nil
	}
	w.pending = false
	w.mu.Unlock()

	if err := w.save(); err != nil {
		w.mu.Lock()
		w.pending = true
		w.mu.Unlock()
		return err
	}
	return nil
}
