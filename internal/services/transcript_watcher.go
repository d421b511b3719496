package services

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vanpelt/claude-blocker/internal/logger"
	"github.com/vanpelt/claude-blocker/internal/recovery"
)

const (
	// transcriptTouchInterval limits how often one transcript refreshes its session
	transcriptTouchInterval = time.Second
	// pendingDirRetryInterval is how often directories that could not be watched are retried
	pendingDirRetryInterval = 5 * time.Second
)

// TranscriptWatcherService watches the directories of live transcripts and reports writes to
// them. A long tool run keeps appending to the transcript, which keeps the session off the
// staleness sweep's list.
type TranscriptWatcherService struct {
	watcher *fsnotify.Watcher
	onWrite func(path string)
	now     func() time.Time

	mu        sync.Mutex
	files     map[string]int
	dirs      map[string]int
	added     map[string]bool
	lastTouch map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTranscriptWatcher creates a watcher calling onWrite for every write to a watched file
func NewTranscriptWatcher(onWrite func(path string)) (*TranscriptWatcherService, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript watcher: %w", err)
	}
	return &TranscriptWatcherService{
		watcher:   watcher,
		onWrite:   onWrite,
		now:       time.Now,
		files:     make(map[string]int),
		dirs:      make(map[string]int),
		added:     make(map[string]bool),
		lastTouch: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins delivering write notifications
func (w *TranscriptWatcherService) Start() {
	recovery.SafeGoGroup(&w.wg, "transcript-watcher", w.loop)
}

// Watch starts reporting writes to path. Calls are reference counted. A directory that
// cannot be watched yet is retried until it can or its last reference is dropped.
func (w *TranscriptWatcherService) Watch(path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.files[path]++
	w.dirs[dir]++
	w.addDirLocked(dir)
}

// addDirLocked hands dir to fsnotify unless it already has it. Caller must hold mu.
func (w *TranscriptWatcherService) addDirLocked(dir string) bool {
	if w.added[dir] {
		return true
	}
	if err := w.watcher.Add(dir); err != nil {
		// the project dir may not exist until the first line is written
		logger.Debugf("⚠️  Failed to watch transcript directory %s, will retry: %v", dir, err)
		return false
	}
	w.added[dir] = true
	logger.Debugf("👀 Watching transcript directory %s", dir)
	return true
}

// retryPending re-adds directories that have references but no fsnotify watch and
// returns how many are still pending
func (w *TranscriptWatcherService) retryPending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := 0
	for dir := range w.dirs {
		if !w.addDirLocked(dir) {
			pending++
		}
	}
	return pending
}

// Unwatch drops one reference to path
func (w *TranscriptWatcherService) Unwatch(path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	refs, ok := w.files[path]
	if !ok {
		return
	}
	if refs <= 1 {
		delete(w.files, path)
		delete(w.lastTouch, path)
	} else {
		w.files[path] = refs - 1
	}

	if w.dirs[dir] == 0 {
		return
	}
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)
	if w.added[dir] {
		delete(w.added, dir)
		if err := w.watcher.Remove(dir); err != nil {
			logger.Debugf("⚠️  Failed to stop watching %s: %v", dir, err)
		}
	}
}

// Watched reports whether path currently has watchers
func (w *TranscriptWatcherService) Watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(path)] > 0
}

// Stop ends the watch loop and releases the underlying watcher
func (w *TranscriptWatcherService) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *TranscriptWatcherService) loop() {
	retry := time.NewTicker(pendingDirRetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-retry.C:
			w.retryPending()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if path, ok := w.shouldTouch(event.Name); ok {
				w.onWrite(path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("⚠️  Transcript watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

// shouldTouch reports whether name is watched and was not touched within the interval
func (w *TranscriptWatcherService) shouldTouch(name string) (string, bool) {
	path := filepath.Clean(name)
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] == 0 {
		return "", false
	}
	if last, ok := w.lastTouch[path]; ok && now.Sub(last) < transcriptTouchInterval {
		return "", false
	}
	w.lastTouch[path] = now
	return path, true
}
