package depval

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher bridges real filesystem change notifications into a Tracker's
// OnChange calls. It watches the directory containing each registered
// file (fsnotify has no single-file mode on most platforms) and filters
// events down to the files that were actually registered through it.
type Watcher struct {
	tracker *Tracker
	log     *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]*Record // absolute path -> record
	dirRefs map[string]int     // watched directory -> number of files in it
}

// NewWatcher creates a Watcher backed by a real fsnotify instance. Call
// Run in a goroutine to start delivering events; call Close to stop.
func NewWatcher(tracker *Tracker, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		tracker: tracker,
		log:     log,
		fsw:     fsw,
		watched: make(map[string]*Record),
		dirRefs: make(map[string]int),
	}, nil
}

// Track begins watching filename for changes, associating events with
// rec. Safe to call multiple times for different files in the same
// directory; the directory is watched once and ref-counted.
func (w *Watcher) Track(filename string, rec *Record) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, already := w.watched[abs]; already {
		return nil
	}
	if w.dirRefs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirRefs[dir]++
	w.watched[abs] = rec
	return nil
}

// Run processes fsnotify events until the underlying watcher is closed.
// Intended to be run in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("depval: watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}
	w.mu.Lock()
	rec, ok := w.watched[abs]
	w.mu.Unlock()
	if !ok {
		return
	}

	var mtime time.Time
	if info, err := os.Stat(abs); err == nil {
		mtime = info.ModTime()
	}
	w.tracker.OnChange(rec, DependentFileState{Filename: rec.Filename, ModTime: mtime, Status: Normal})
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
