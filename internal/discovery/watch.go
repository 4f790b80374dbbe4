package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-local/internal/logger"
)

var log = logger.ForComponent(logger.CompSync)

// ChangeType classifies a file system change.
type ChangeType string

// Change types.
const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is one file change.
type Change struct {
	Type ChangeType
	Path string
}

// DefaultDebounce coalesces bursts of events for the same file.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes under a set of roots. fsnotify watches single
// directories, so every directory below a root is added, including new
// ones as they appear.
type Watcher struct {
	roots    []string
	opts     Options
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher creates a watcher. Nothing is watched until Events is called.
func NewWatcher(roots []string, opts Options, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		if a, err := filepath.Abs(r); err == nil {
			abs = append(abs, a)
		}
	}
	return &Watcher{roots: abs, opts: opts, debounce: debounce}
}

// Events starts watching and returns the change stream. The channel is
// closed when ctx ends or the watcher is closed.
func (w *Watcher) Events(ctx context.Context) (<-chan Change, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = fw.Close()
		return nil, ErrNotWatching
	}
	w.watcher = fw
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	out := make(chan Change, 64)
	go w.loop(ctx, fw, out)
	return out, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip(path) {
			return fs.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) rootOf(path string) string {
	for _, r := range w.roots {
		if Under(path, r) {
			return r
		}
	}
	return ""
}

func (w *Watcher) skip(path string) bool {
	root := w.rootOf(path)
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	return w.opts.skip(rel)
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, out chan<- Change) {
	defer close(out)

	pending := make(map[string]Change)
	var order []string
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	flush := func() bool {
		for _, p := range order {
			select {
			case out <- pending[p]:
			case <-ctx.Done():
				return false
			}
		}
		pending = make(map[string]Change)
		order = order[:0]
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				flush()
				return
			}
			for _, c := range w.handle(ev) {
				prev, seen := pending[c.Path]
				if !seen {
					order = append(order, c.Path)
				} else if prev.Type == ChangeCreated && c.Type == ChangeUpdated {
					c.Type = ChangeCreated
				}
				pending[c.Path] = c
			}
			if len(order) > 0 {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				flush()
				return
			}
			log.Warn("watch_error", slog.String("error", err.Error()))
		case <-timer.C:
			if !flush() {
				return
			}
		}
	}
}

// handle turns one fsnotify event into file changes.
func (w *Watcher) handle(ev fsnotify.Event) []Change {
	path := filepath.Clean(ev.Name)
	if w.skip(path) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return []Change{{Type: ChangeDeleted, Path: path}}
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return []Change{{Type: ChangeCreated, Path: path}}
		}
		// Files may land in a new directory before it is watched.
		if err := w.addTree(path); err != nil {
			log.Warn("watch_add_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		var changes []Change
		_ = Walk(context.Background(), []string{path}, w.opts, func(f File) error {
			if !w.skip(f.Path) {
				changes = append(changes, Change{Type: ChangeCreated, Path: f.Path})
			}
			return nil
		})
		return changes
	case ev.Has(fsnotify.Write):
		return []Change{{Type: ChangeUpdated, Path: path}}
	}
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
