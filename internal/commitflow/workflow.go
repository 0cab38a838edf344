// Package commitflow stages, unstages, restores and commits local changes
// across the main repository and its submodules, and runs the configured
// commit actions.
//
// Every operation groups its files by repository and fans out through the
// submodule executor, one git invocation per repository. Results and
// progress are delivered on the executor's dispatcher.
package commitflow

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/status"
)

// Publisher receives commit progress events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Options configures a Workflow.
type Options struct {
	// SupportsRestore selects `git restore`; older git falls back to
	// reset and checkout.
	SupportsRestore bool
	// Dispatcher receives the completion of deferred actions. It should be
	// the executor's dispatcher.
	Dispatcher event.Dispatcher
	Publisher  Publisher
	Actions    ActionRunner
	Output     *OutputLog
	Logger     *logging.Logger
}

// Workflow runs commit-related operations across repositories.
type Workflow struct {
	runner     git.Runner
	exec       *executor.Executor
	root       string
	restore    bool
	dispatcher event.Dispatcher
	pub        Publisher
	actions    ActionRunner
	output     *OutputLog
	logger     *logging.Logger
}

// New creates a Workflow for the repositories under root.
func New(runner git.Runner, exec *executor.Executor, root string, opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	actions := opts.Actions
	if actions == nil {
		actions = ExecRunner{}
	}
	output := opts.Output
	if output == nil {
		output = NewOutputLog()
	}
	return &Workflow{
		runner:     runner,
		exec:       exec,
		root:       root,
		restore:    opts.SupportsRestore,
		dispatcher: opts.Dispatcher,
		pub:        opts.Publisher,
		actions:    actions,
		output:     output,
		logger:     logger.WithComponent("commitflow"),
	}
}

// Output returns the action output log.
func (w *Workflow) Output() *OutputLog {
	return w.output
}

func (w *Workflow) dir(repoDir string) string {
	return filepath.Join(w.root, filepath.FromSlash(repoDir))
}

// RepoName is the display name of repoDir: the root's base name for the
// main repository.
func (w *Workflow) RepoName(repoDir string) string {
	if repoDir == "." || repoDir == "" {
		return filepath.Base(w.root)
	}
	return repoDir
}

// GroupFiles maps each repository to the paths of its files.
func GroupFiles(files []status.FileStatus) map[string][]string {
	out := make(map[string][]string)
	for _, f := range files {
		repo := f.RepoDir
		if repo == "" {
			repo = "."
		}
		out[repo] = append(out[repo], f.Path)
		if f.OldPath != "" && f.IsStaged() {
			out[repo] = append(out[repo], f.OldPath)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Stage, unstage, restore
// ----------------------------------------------------------------------------

// StageArgs builds the git add argument list.
func StageArgs(paths []string) []string {
	return append([]string{"add", "--"}, paths...)
}

// UnstageArgs builds the argument list removing paths from the index.
func UnstageArgs(paths []string, supportsRestore bool) []string {
	if supportsRestore {
		return append([]string{"restore", "--staged", "--"}, paths...)
	}
	return append([]string{"reset", "-q", "HEAD", "--"}, paths...)
}

// RestoreArgs builds the argument list discarding changes to paths. With
// staged, the index is restored from HEAD as well.
func RestoreArgs(paths []string, staged, supportsRestore bool) []string {
	var args []string
	switch {
	case supportsRestore && staged:
		args = []string{"restore", "--staged", "--worktree", "--"}
	case supportsRestore:
		args = []string{"restore", "--"}
	case staged:
		args = []string{"checkout", "-q", "HEAD", "--"}
	default:
		args = []string{"checkout", "-q", "--"}
	}
	return append(args, paths...)
}

// Handler receives per-repository results and the batch summary.
type Handler struct {
	Repo     func(repoDir string, err error)
	Finished func(s executor.Summary)
}

func (w *Workflow) runPerRepo(name string, groups map[string][]string, build func(paths []string) []string, h Handler) *executor.Batch {
	action := func(ctx context.Context, item executor.Item) (any, error) {
		paths, _ := item.Data.([]string)
		_, err := w.runner.Run(ctx, git.Request{Dir: w.dir(item.Repo), Args: build(paths)})
		return nil, err
	}
	return w.exec.Submit(name, executor.ItemsFromMap(groups), action, executor.Handler{
		Result: func(r executor.Result) {
			if r.Err != nil && !errors.IsCanceled(r.Err) {
				w.logger.Warn(name+" failed", "repo", r.Item.Repo, "error", r.Err.Error())
			}
			if h.Repo != nil {
				h.Repo(r.Item.Repo, r.Err)
			}
		},
		Finished: h.Finished,
	})
}

// Stage adds files to the index.
func (w *Workflow) Stage(files []status.FileStatus, h Handler) *executor.Batch {
	return w.runPerRepo("stage", GroupFiles(files), StageArgs, h)
}

// Unstage removes files from the index.
func (w *Workflow) Unstage(files []status.FileStatus, h Handler) *executor.Batch {
	return w.runPerRepo("unstage", GroupFiles(files), func(p []string) []string {
		return UnstageArgs(p, w.restore)
	}, h)
}

// StageAll stages every change in repos.
func (w *Workflow) StageAll(repos []string, h Handler) *executor.Batch {
	return w.runPerRepo("stage all", allOf(repos), func([]string) []string {
		return []string{"add", "-A"}
	}, h)
}

// UnstageAll empties the index of repos back to HEAD.
func (w *Workflow) UnstageAll(repos []string, h Handler) *executor.Batch {
	return w.runPerRepo("unstage all", allOf(repos), func([]string) []string {
		return []string{"reset", "-q"}
	}, h)
}

// Restore discards changes to files. With staged, index changes are
// discarded too.
func (w *Workflow) Restore(files []status.FileStatus, staged bool, h Handler) *executor.Batch {
	return w.runPerRepo("restore", GroupFiles(files), func(p []string) []string {
		return RestoreArgs(p, staged, w.restore)
	}, h)
}

func allOf(repos []string) map[string][]string {
	out := make(map[string][]string, len(repos))
	for _, r := range repos {
		out[r] = nil
	}
	return out
}

// ----------------------------------------------------------------------------
// Commit
// ----------------------------------------------------------------------------

// CommitRequest describes one commit across repositories.
type CommitRequest struct {
	Message string
	// IgnoreCommentLines drops '#' lines from Message.
	IgnoreCommentLines bool
	Amend              bool
	// Repos are the repositories with staged changes.
	Repos      []string
	RunActions bool
	Actions    []Action
	// DateOverride, when set, is used as author and committer date.
	DateOverride string
}

// CommitHandler receives commit notifications on the dispatcher.
type CommitHandler struct {
	Progress func(e event.CommitProgressEvent)
	Finished func(e event.CommitFinishedEvent)
}

// CommitArgs builds the git commit argument list.
func CommitArgs(msg string, amend bool, date string) []string {
	args := []string{"commit", "-q"}
	if msg != "" {
		args = append(args, "-m", msg)
	} else if amend {
		args = append(args, "--no-edit")
	}
	if amend {
		args = append(args, "--amend")
	}
	if date != "" {
		args = append(args, "--date="+date)
	}
	return args
}

// CommitRun tracks a running commit.
type CommitRun struct {
	batch *executor.Batch
	total int

	mu       sync.Mutex
	done     int
	failed   int
	firstErr error
	canceled bool
	cancel   context.CancelFunc
}

// Total returns the number of steps: repositories plus deferred actions.
func (r *CommitRun) Total() int {
	return r.total
}

// Cancel stops the commit. Repositories already committed stay
// committed; the finish event reports the step it stopped at.
func (r *CommitRun) Cancel() {
	r.mu.Lock()
	r.canceled = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.batch != nil {
		r.batch.Cancel(false)
	}
}

// Wait blocks until the git commits have returned.
func (r *CommitRun) Wait() {
	if r.batch != nil {
		r.batch.Wait()
	}
}

// Commit commits the staged changes of req.Repos. The message is filtered
// first; when nothing is staged but Amend is set, the main repository is
// amended.
func (w *Workflow) Commit(req CommitRequest, h CommitHandler) (*CommitRun, error) {
	msg := req.Message
	if !req.Amend || msg != "" {
		var err error
		if msg, err = FilterMessage(req.Message, req.IgnoreCommentLines); err != nil {
			return nil, err
		}
	}

	repos := slices.Clone(req.Repos)
	if len(repos) == 0 {
		if !req.Amend {
			return nil, errors.ErrNothingStaged
		}
		repos = []string{"."}
	}

	var perRepo, deferred []Action
	if req.RunActions {
		for _, a := range req.Actions {
			if a.Deferred() {
				deferred = append(deferred, a)
			} else {
				perRepo = append(perRepo, a)
			}
		}
	}

	run := &CommitRun{total: len(repos) + len(deferred)}
	args := CommitArgs(msg, req.Amend, req.DateOverride)
	var env []string
	if req.DateOverride != "" {
		env = []string{"GIT_COMMITTER_DATE=" + req.DateOverride}
	}

	w.logger.Info("committing",
		"repos", len(repos),
		"amend", req.Amend,
		"actions", len(perRepo),
		"deferred_actions", len(deferred))

	action := func(ctx context.Context, item executor.Item) (any, error) {
		dir := w.dir(item.Repo)
		if _, err := w.runner.Run(ctx, git.Request{Dir: dir, Args: args, Env: env}); err != nil {
			return nil, err
		}
		for _, a := range perRepo {
			if !a.AppliesTo(item.Repo) {
				continue
			}
			if err := w.runAction(ctx, item.Repo, a); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	run.batch = w.exec.Submit("commit", executor.Items(repos), action, executor.Handler{
		Result: func(r executor.Result) {
			run.mu.Lock()
			run.done++
			if r.Err != nil {
				run.failed++
				if run.firstErr == nil {
					run.firstErr = r.Err
				}
			}
			done := run.done
			run.mu.Unlock()

			if r.Err != nil {
				w.logger.Error("commit failed", "repo", r.Item.Repo, "error", r.Err.Error())
			}
			w.progress(h, event.NewCommitProgressEvent(r.Item.Repo, "commit", done, run.total))
		},
		Finished: func(s executor.Summary) {
			if s.Canceled {
				w.finish(h, run, errors.ErrCanceled)
				return
			}
			run.mu.Lock()
			err := run.firstErr
			run.mu.Unlock()
			if err != nil || len(deferred) == 0 {
				w.finish(h, run, err)
				return
			}
			w.runDeferred(run, deferred, h)
		},
	})
	return run, nil
}

// runDeferred runs the AllCommitted actions in the main repository off the
// dispatcher and reports back through it.
func (w *Workflow) runDeferred(run *CommitRun, deferred []Action, h CommitHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	run.mu.Lock()
	if run.canceled {
		run.mu.Unlock()
		cancel()
		w.finish(h, run, errors.ErrCanceled)
		return
	}
	run.cancel = cancel
	run.mu.Unlock()

	go func() {
		defer cancel()
		var err error
		for _, a := range deferred {
			if err = w.runAction(ctx, ".", a); err != nil {
				break
			}
			run.mu.Lock()
			run.done++
			done := run.done
			run.mu.Unlock()
			cmd := a.String()
			w.post(func() { w.progress(h, event.NewCommitProgressEvent(".", cmd, done, run.total)) })
		}
		if err != nil && ctx.Err() != nil {
			err = errors.ErrCanceled
		}
		w.post(func() { w.finish(h, run, err) })
	}()
}

func (w *Workflow) runAction(ctx context.Context, repoDir string, a Action) error {
	name := w.RepoName(repoDir)
	cmd := a.String()
	w.logger.Debug("running commit action", "repo", repoDir, "command", cmd)
	err := w.actions.RunAction(ctx, w.dir(repoDir), a, func(stream Stream, line string) {
		w.output.Append(name, cmd, stream, line)
	})
	if err != nil && !errors.IsCanceled(err) {
		w.output.Append(name, cmd, Stderr, err.Error())
		w.logger.Warn("commit action failed", "repo", repoDir, "command", cmd, "error", err.Error())
	}
	return err
}

func (w *Workflow) progress(h CommitHandler, e event.CommitProgressEvent) {
	if w.pub != nil {
		w.pub.Publish(e)
	}
	if h.Progress != nil {
		h.Progress(e)
	}
}

func (w *Workflow) finish(h CommitHandler, run *CommitRun, err error) {
	run.mu.Lock()
	ok := run.done - run.failed
	run.mu.Unlock()

	var e event.CommitFinishedEvent
	if err != nil {
		// The failing step is the first one that did not succeed.
		step := min(ok+1, run.total)
		e = event.NewCommitFinishedEvent(true, step, run.total, err)
		w.logger.Info("commit aborted", "step", step, "total", run.total, "error", err.Error())
	} else {
		e = event.NewCommitFinishedEvent(false, run.total, run.total, nil)
		w.logger.Info("commit finished", "steps", run.total)
	}
	if w.pub != nil {
		w.pub.Publish(e)
	}
	if h.Finished != nil {
		h.Finished(e)
	}
}

func (w *Workflow) post(fn func()) {
	if w.dispatcher == nil || !w.dispatcher.Post(fn) {
		fn()
	}
}
