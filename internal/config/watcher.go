// Package config reloads configuration files while the process runs.
//
// The serve command hot-reloads two files: config.yaml, which feeds
// the SafeConfig, and the environment registry JSON file. Both reloads are
// triggered either by SIGHUP or by a change on disk.
package config

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ReloadFunc is called with the path of the file that must be reloaded.
// A returned error is logged and the watcher keeps running.
type ReloadFunc func(path string) error

// DefaultDebounce collapses the burst of events an editor emits for one save.
const DefaultDebounce = 100 * time.Millisecond

// SetupSIGHUPHandler reloads every registered file on SIGHUP until ctx is done.
// It returns immediately.
//
// Usage:
//
//	SetupSIGHUPHandler(ctx, map[string]ReloadFunc{
//	    "/etc/archer/config.yaml":       reloadConfig,
//	    "/etc/archer/environments.json": reloadEnvironments,
//	})
//	// Now: kill -HUP <pid> triggers reload
func SetupSIGHUPHandler(ctx context.Context, files map[string]ReloadFunc) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sighup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				log.Info("SIGHUP received, reloading configuration...")
				for path, fn := range files {
					if err := fn(path); err != nil {
						log.WithField("file", path).Errorf("Reload failed: %v", err)
					}
				}
			}
		}
	}()

	log.Info("SIGHUP handler configured for config reload")
}

// Watcher triggers a ReloadFunc when one of its files changes on disk.
//
// Directories are watched instead of files: editors save through a temp file
// and a rename, which replaces the inode a file-level watch would hold.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	targets map[string]ReloadFunc
	timers  map[string]*time.Timer
	dirs    map[string]bool
	done    chan struct{}
}

// NewWatcher starts an empty watcher. Add files with Watch.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		debounce: debounce,
		targets:  make(map[string]ReloadFunc),
		timers:   make(map[string]*time.Timer),
		dirs:     make(map[string]bool),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers path and the function that reloads it.
func (w *Watcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	w.targets[abs] = fn
	log.Infof("Watching config file: %s", path)
	return nil
}

// Close stops the watcher and cancels pending reloads.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Errorf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	fn, ok := w.targets[abs]
	if !ok {
		return
	}
	if t, pending := w.timers[abs]; pending {
		t.Reset(w.debounce)
		return
	}
	w.timers[abs] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, abs)
		w.mu.Unlock()

		log.WithField("file", abs).Info("Config file changed, reloading...")
		if err := fn(abs); err != nil {
			log.WithField("file", abs).Errorf("Reload failed: %v", err)
		}
	})
}

// WatchConfigFile watches a single file. The caller closes the returned watcher.
func WatchConfigFile(configPath string, reloadFn ReloadFunc) (*Watcher, error) {
	w, err := NewWatcher(DefaultDebounce)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(configPath, reloadFn); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}
