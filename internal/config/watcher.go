package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the store when settings.json changes on disk, so edits made
// outside the process (or by another window) are picked up without a restart.
type Watcher struct {
	store    *Store
	onReload func(Settings)

	watcher  *fsnotify.Watcher
	lastHash string
	timer    *time.Timer
}

// NewWatcher creates a watcher over the store's settings file. onReload is
// invoked with the fresh snapshot after every successful reload; it may be nil.
func NewWatcher(store *Store, onReload func(Settings)) *Watcher {
	return &Watcher{store: store, onReload: onReload}
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	w.lastHash = fileHash(w.store.Path())

	// Watch the directory, not the file: editors and the store itself
	// replace the file via rename, which drops a file-level watch.
	if err = fsw.Add(w.store.Dir()); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.run(ctx)
	log.Debugf("watching %s for changes", w.store.Path())
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.store.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("settings watcher error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of filesystem events into one reload.
func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	hash := fileHash(w.store.Path())
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash

	if err := w.store.Load(); err != nil {
		log.Errorf("failed to reload settings: %v", err)
		return
	}
	log.Info("settings reloaded from disk")
	if w.onReload != nil {
		w.onReload(w.store.Snapshot())
	}
}

func fileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
