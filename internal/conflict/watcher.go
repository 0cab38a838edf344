package conflict

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// DefaultDebounce collapses the bursts of events editors produce for one
// save.
const DefaultDebounce = 50 * time.Millisecond

// Publisher receives resolution events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Watcher watches conflicted files and reports each one once its conflict
// markers are gone.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	repoDir  string
	debounce time.Duration
	pub      Publisher
	logger   *logging.Logger

	// absolute path -> repository-relative slash path
	tracked map[string]string
	dirs    map[string]bool

	onResolved func(path string)

	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher for files of the repository at root.
// repoDir is the submodule path reported in events.
func NewWatcher(root, repoDir string, pub Publisher, logger *logging.Logger) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewNotFoundError("repository", root).WithCause(err)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("repository path is not a directory").WithField("root").WithValue(root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		repoDir:  repoDir,
		debounce: DefaultDebounce,
		pub:      pub,
		logger:   logger.WithComponent("conflict-watcher").WithRepo(repoDir),
		tracked:  make(map[string]string),
		dirs:     make(map[string]bool),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetResolvedCallback sets the function called for each resolved file.
// It runs on the watcher goroutine.
func (w *Watcher) SetResolvedCallback(cb func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResolved = cb
}

// Track starts watching the given repository-relative files. fsnotify
// watches directories, so the parent of each file is added.
func (w *Watcher) Track(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		abs := filepath.Join(w.root, filepath.FromSlash(p))
		w.tracked[abs] = filepath.ToSlash(p)
		dir := filepath.Dir(abs)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "watch %s", dir)
		}
		w.dirs[dir] = true
	}
	return nil
}

// Pending returns the tracked files not yet resolved, sorted.
func (w *Watcher) Pending() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.tracked))
	for _, rel := range w.tracked {
		out = append(out, rel)
	}
	slices.Sort(out)
	return out
}

// Start begins watching.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher. It is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// Done is closed when the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	<-timer.C

	pending := make(map[string]bool)
	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.RLock()
			_, isTracked := w.tracked[ev.Name]
			w.mu.RUnlock()
			if !isTracked {
				continue
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			for name := range pending {
				w.check(name)
			}
			clear(pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}

// check reads abs and reports it resolved when no markers remain.
func (w *Watcher) check(abs string) {
	data, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("cannot read conflicted file", "path", abs, "error", err.Error())
		}
		return
	}
	if HasMarkers(data) {
		return
	}

	w.mu.Lock()
	rel, ok := w.tracked[abs]
	if ok {
		delete(w.tracked, abs)
	}
	cb := w.onResolved
	w.mu.Unlock()
	if !ok {
		return
	}

	w.logger.Info("conflict markers removed", "path", rel)
	if cb != nil {
		cb(rel)
	}
	if w.pub != nil {
		w.pub.Publish(event.NewConflictResolvedEvent(w.repoDir, rel))
	}
}
