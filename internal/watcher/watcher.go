// Package watcher detects deletion of the recall database file so the
// service can reinitialize instead of writing into a vanished file.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors a file for deletion and calls onDelete when it goes
// away. The parent directory is what is actually watched, since
// fsnotify cannot watch a path that no longer exists.
type Watcher struct {
	targetPath string
	parentPath string
	onDelete   func()
	watcher    *fsnotify.Watcher
	cancel     context.CancelFunc
	ctx        context.Context
	debounce   time.Duration
	mu         sync.Mutex
	running    bool
}

// New creates a Watcher for targetPath.
func New(targetPath string, onDelete func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		targetPath: filepath.Clean(targetPath),
		parentPath: filepath.Dir(targetPath),
		onDelete:   onDelete,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   100 * time.Millisecond,
	}, nil
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}
	go w.loop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

// loop handles fsnotify events. Deletions are debounced so a quick
// delete-and-recreate (e.g. an atomic rename) does not fire the callback.
func (w *Watcher) loop() {
	var deleteTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if deleteTimer != nil {
				deleteTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventPath := filepath.Clean(event.Name)

			switch {
			case eventPath == w.targetPath && event.Op&fsnotify.Remove != 0,
				eventPath == w.parentPath && event.Op&fsnotify.Remove != 0:
				log.Info().Str("path", eventPath).Msg("Watched path deleted")
				if deleteTimer != nil {
					deleteTimer.Stop()
				}
				deleteTimer = time.AfterFunc(w.debounce, w.fire)

			case eventPath == w.targetPath && event.Op&fsnotify.Create != 0:
				// Recreated before the debounce elapsed.
				if deleteTimer != nil {
					deleteTimer.Stop()
					deleteTimer = nil
				}

			case eventPath == w.parentPath && event.Op&fsnotify.Create != 0:
				_ = w.addWatch()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// fire invokes the deletion callback and re-establishes the watch once
// the parent directory exists again.
func (w *Watcher) fire() {
	if w.onDelete != nil {
		w.onDelete()
	}
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := w.addWatch(); err != nil {
			log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to re-establish watch")
		}
	}()
}
