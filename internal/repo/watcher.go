package repo

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// DefaultDebounce collapses the burst of writes git makes for one command.
const DefaultDebounce = 300 * time.Millisecond

// Publisher receives change events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Watcher publishes repo.changed whenever the git directory of a watched
// repository changes: index written, HEAD moved, refs packed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pub      Publisher
	logger   *logging.Logger
	debounce time.Duration

	mu    sync.Mutex
	dirs  map[string]string // git dir -> repoDir
	repos map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a Watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(pub Publisher, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:  fw,
		pub:      pub,
		logger:   logger.WithComponent("watcher"),
		debounce: debounce,
		dirs:     make(map[string]string),
		repos:    make(map[string]bool),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// WatchRepository watches the main repository and every loaded submodule.
func (w *Watcher) WatchRepository(r *Repository) error {
	subs := r.Submodules
	if len(subs) == 0 {
		subs = []string{MainRepo}
	}
	for _, sub := range subs {
		if err := w.Add(sub, r.Dir(sub)); err != nil {
			// Uninitialized submodules have no git dir yet.
			w.logger.Debug("skip watching submodule", "submodule", sub, "error", err.Error())
			if sub == MainRepo {
				return err
			}
		}
	}
	return nil
}

// Add watches the git directory of workTree, reporting changes as repoDir.
func (w *Watcher) Add(repoDir, workTree string) error {
	gitDir, err := GitDir(workTree)
	if err != nil {
		return errors.Wrap(err, "resolve git dir")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[gitDir]; ok {
		return nil
	}
	if err := w.watcher.Add(gitDir); err != nil {
		return errors.Wrap(err, "watch "+gitDir)
	}
	w.dirs[gitDir] = repoDir
	w.repos[repoDir] = true
	return nil
}

// Watching returns the number of watched repositories.
func (w *Watcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.repos)
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher. Pending changes are discarded.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	timer := time.NewTimer(0)
	<-timer.C

	// repoDir -> last changed path
	pending := make(map[string]string)

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || isLockFile(ev.Name) {
				continue
			}
			repoDir, ok := w.repoFor(ev.Name)
			if !ok {
				continue
			}
			pending[repoDir] = filepath.Base(ev.Name)
			timer.Reset(w.debounce)

		case <-timer.C:
			for repoDir, path := range pending {
				w.logger.Debug("repository changed", "repo", repoDir, "path", path)
				if w.pub != nil {
					w.pub.Publish(event.NewRepoChangedEvent(repoDir, path))
				}
			}
			pending = make(map[string]string)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) repoFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	repoDir, ok := w.dirs[filepath.Dir(path)]
	return repoDir, ok
}

// isLockFile reports git's transient lock files; the rename that replaces
// them is reported separately.
func isLockFile(path string) bool {
	return strings.HasSuffix(path, ".lock")
}
