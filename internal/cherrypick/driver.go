package cherrypick

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/conflict"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Event states reported through CherryPickEvent.
const (
	StatePicked   = "picked"
	StateConflict = "conflict"
	StateResolved = "resolved"
	StatePaused   = "paused"
	StateAborted  = "aborted"
	StateDone     = "done"
)

// ExcerptContext is the number of lines shown around each conflict hunk.
const ExcerptContext = 3

// nonInteractive keeps git from opening an editor on --continue.
var nonInteractive = []string{"GIT_EDITOR=true"}

// ResolveRequest describes one conflicted file.
type ResolveRequest struct {
	RepoDir string
	// Dir is the absolute working directory of the repository.
	Dir     string
	SHA1    string
	Subject string
	Path    string
	// Excerpt is the conflicted regions of the file with some context.
	Excerpt string
}

// ResolveResult is the resolver's verdict.
type ResolveResult struct {
	OK     bool
	Detail string
}

// Resolver resolves a conflicted file in place.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error)
}

// Publisher receives progress events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Options configures a Driver.
type Options struct {
	// RecordOrigin passes -x so the message names the picked commit.
	RecordOrigin bool
	Resolver     Resolver
	Publisher    Publisher
	Logger       *logging.Logger
}

// Result reports where a run stopped.
type Result struct {
	Picked  int
	Skipped int
	// Paused is set when a conflict needs the user. RepoDir and SHA1 name
	// the pick, Conflicts its unresolved files.
	Paused    bool
	RepoDir   string
	SHA1      string
	Conflicts []string
}

// pick is one cherry-pick in one repository.
type pick struct {
	step   int
	commit *commit.Commit
}

// Driver runs a plan. A paused run is resumed with Continue or dropped
// with Abort.
type Driver struct {
	runner git.Runner
	root   string
	opts   Options
	logger *logging.Logger

	mu     sync.Mutex
	picks  []pick
	next   int
	total  int
	result Result
}

// NewDriver creates a Driver for the work tree at root.
func NewDriver(runner git.Runner, root string, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Driver{
		runner: runner,
		root:   root,
		opts:   opts,
		logger: logger.WithComponent("cherrypick"),
	}
}

// PickArgs builds the git cherry-pick argument list.
func PickArgs(sha1 string, recordOrigin bool) []string {
	args := []string{"cherry-pick"}
	if recordOrigin {
		args = append(args, "-x")
	}
	return append(args, sha1)
}

// Paused reports whether a run waits for Continue or Abort.
func (d *Driver) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result.Paused
}

// Run picks every step of plan in order. Each commit is picked in its own
// repository, followed by its sub-commits in theirs.
func (d *Driver) Run(ctx context.Context, plan Plan) (Result, error) {
	d.mu.Lock()
	if d.result.Paused {
		d.mu.Unlock()
		return Result{}, errors.Wrap(errors.ErrBusy, "a cherry-pick is paused")
	}
	d.picks = d.picks[:0]
	for _, s := range plan.Steps {
		d.picks = append(d.picks, pick{step: s.Index, commit: s.Commit})
		for _, sub := range s.Commit.SubCommits {
			d.picks = append(d.picks, pick{step: s.Index, commit: sub})
		}
	}
	d.next = 0
	d.total = len(d.picks)
	d.result = Result{}
	d.mu.Unlock()

	d.logger.Info("cherry-pick started", "steps", plan.Len(), "picks", d.total, "skipped", len(plan.Skipped))
	return d.resume(ctx)
}

// Continue finishes the paused pick after the user resolved it and runs
// the rest of the plan.
func (d *Driver) Continue(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if !d.result.Paused {
		d.mu.Unlock()
		return Result{}, errors.NewValidationError("no cherry-pick is paused")
	}
	p := d.picks[d.next]
	d.mu.Unlock()

	dir := d.dir(p.commit.RepoDir)
	files, err := d.unmerged(ctx, dir)
	if err != nil {
		return d.snapshot(), err
	}
	if len(files) > 0 {
		d.mu.Lock()
		d.result.Conflicts = files
		d.mu.Unlock()
		return d.snapshot(), errors.Wrapf(errors.ErrMergeConflict, "%d unresolved files in %s", len(files), p.commit.RepoDir)
	}
	if err := d.commitResolved(ctx, dir); err != nil {
		return d.snapshot(), err
	}
	d.publish(p, StateResolved)

	d.mu.Lock()
	d.result.Paused = false
	d.result.Conflicts = nil
	d.result.Picked++
	d.next++
	d.mu.Unlock()
	return d.resume(ctx)
}

// Abort abandons the paused pick, restoring its repository to the state
// before it.
func (d *Driver) Abort(ctx context.Context) error {
	d.mu.Lock()
	if !d.result.Paused {
		d.mu.Unlock()
		return nil
	}
	p := d.picks[d.next]
	d.mu.Unlock()

	if _, err := d.runner.Run(ctx, git.Request{Dir: d.dir(p.commit.RepoDir), Args: []string{"cherry-pick", "--abort"}}); err != nil {
		return err
	}
	d.publish(p, StateAborted)
	d.logger.Info("cherry-pick aborted", "repo", p.commit.RepoDir, "sha1", p.commit.SHA1)

	d.mu.Lock()
	d.result = Result{}
	d.picks = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) resume(ctx context.Context) (Result, error) {
	for {
		d.mu.Lock()
		if d.next >= len(d.picks) {
			d.mu.Unlock()
			break
		}
		p := d.picks[d.next]
		d.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return d.snapshot(), errors.Wrap(errors.ErrCanceled, "cherry-pick")
		}

		paused, skipped, err := d.pickOne(ctx, p)
		if err != nil {
			return d.snapshot(), err
		}
		d.mu.Lock()
		if paused {
			d.mu.Unlock()
			return d.snapshot(), nil
		}
		if skipped {
			d.result.Skipped++
		} else {
			d.result.Picked++
		}
		d.next++
		d.mu.Unlock()
	}

	res := d.snapshot()
	if d.opts.Publisher != nil {
		d.opts.Publisher.Publish(event.NewCherryPickEvent("", "", StateDone, d.total, d.total))
	}
	d.logger.Info("cherry-pick finished", "picked", res.Picked, "skipped", res.Skipped)
	return res, nil
}

// pickOne picks p. It reports a pause when a conflict is left for the user
// and a skip when the pick turned out empty.
func (d *Driver) pickOne(ctx context.Context, p pick) (paused, skipped bool, err error) {
	dir := d.dir(p.commit.RepoDir)
	res, perr := d.runner.Run(ctx, git.Request{Dir: dir, Args: PickArgs(p.commit.SHA1, d.opts.RecordOrigin), Env: nonInteractive})
	if perr == nil {
		d.publish(p, StatePicked)
		return false, false, nil
	}
	if errors.IsCanceled(perr) {
		return false, false, perr
	}

	stderr := ""
	if res != nil {
		stderr = string(res.Stderr)
	}
	var ge *errors.GitError
	if errors.As(perr, &ge) {
		stderr += ge.Stderr
	}
	if isEmptyPick(stderr) {
		d.logger.Info("cherry-pick is empty, skipping", "repo", p.commit.RepoDir, "sha1", p.commit.SHA1)
		if _, err := d.runner.Run(ctx, git.Request{Dir: dir, Args: []string{"cherry-pick", "--skip"}}); err != nil {
			return false, false, err
		}
		return false, true, nil
	}

	files, err := d.unmerged(ctx, dir)
	if err != nil {
		return false, false, err
	}
	if len(files) == 0 {
		return false, false, perr
	}

	d.publish(p, StateConflict)
	d.logger.Info("cherry-pick conflict", "repo", p.commit.RepoDir, "sha1", p.commit.SHA1, "files", len(files))

	left := d.resolve(ctx, p, dir, files)
	if len(left) == 0 {
		if err := d.commitResolved(ctx, dir); err != nil {
			return false, false, err
		}
		d.publish(p, StateResolved)
		return false, false, nil
	}

	d.mu.Lock()
	d.result.Paused = true
	d.result.RepoDir = p.commit.RepoDir
	d.result.SHA1 = p.commit.SHA1
	d.result.Conflicts = left
	d.mu.Unlock()
	d.publish(p, StatePaused)
	return true, false, nil
}

// resolve hands each conflicted file to the resolver and stages the ones it
// fixed. It returns the files still conflicted.
func (d *Driver) resolve(ctx context.Context, p pick, dir string, files []string) []string {
	if d.opts.Resolver == nil {
		return files
	}
	var left []string
	for _, f := range files {
		full := filepath.Join(dir, filepath.FromSlash(f))
		data, err := os.ReadFile(full)
		if err != nil {
			// Delete/modify conflicts have no markers to work on.
			left = append(left, f)
			continue
		}
		res, err := d.opts.Resolver.Resolve(ctx, ResolveRequest{
			RepoDir: p.commit.RepoDir,
			Dir:     dir,
			SHA1:    p.commit.SHA1,
			Subject: p.commit.Subject,
			Path:    f,
			Excerpt: conflict.Excerpt(string(data), ExcerptContext),
		})
		if err != nil || !res.OK {
			reason := res.Detail
			if err != nil {
				reason = err.Error()
			}
			d.logger.Warn("conflict not resolved automatically", "repo", p.commit.RepoDir, "path", f, "reason", reason)
			left = append(left, f)
			continue
		}
		if data, err = os.ReadFile(full); err != nil || conflict.HasMarkers(data) {
			d.logger.Warn("resolver left conflict markers", "repo", p.commit.RepoDir, "path", f)
			left = append(left, f)
			continue
		}
		if _, err := d.runner.Run(ctx, git.Request{Dir: dir, Args: []string{"add", "--", f}}); err != nil {
			left = append(left, f)
		}
	}
	return left
}

func (d *Driver) commitResolved(ctx context.Context, dir string) error {
	_, err := d.runner.Run(ctx, git.Request{Dir: dir, Args: []string{"cherry-pick", "--continue"}, Env: nonInteractive})
	return err
}

func (d *Driver) unmerged(ctx context.Context, dir string) ([]string, error) {
	res, err := d.runner.Run(ctx, git.Request{Dir: dir, Args: conflict.UnmergedArgs})
	if err != nil {
		return nil, err
	}
	return conflict.ParseUnmerged(res.Stdout)
}

func (d *Driver) dir(repoDir string) string {
	if repoDir == "" {
		repoDir = "."
	}
	return filepath.Join(d.root, filepath.FromSlash(repoDir))
}

func (d *Driver) snapshot() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.result
	r.Conflicts = append([]string(nil), r.Conflicts...)
	return r
}

func (d *Driver) publish(p pick, state string) {
	if d.opts.Publisher == nil {
		return
	}
	d.mu.Lock()
	index, total := d.next, d.total
	d.mu.Unlock()
	d.opts.Publisher.Publish(event.NewCherryPickEvent(p.commit.RepoDir, p.commit.SHA1, state, index, total))
}

func isEmptyPick(stderr string) bool {
	return strings.Contains(stderr, "is now empty") ||
		strings.Contains(stderr, "nothing to commit")
}
