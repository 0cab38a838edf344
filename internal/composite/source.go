// Package composite merges the histories of the main repository and its
// submodules into one time-ordered list.
//
// Commits in different repositories that share author date, subject and
// author email are treated as one logical change: the first repository's
// commit (the main repository when it has one) becomes the primary entry and
// the others hang off it as SubCommits.
package composite

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// Options configures a Source.
type Options struct {
	Codec  *textcodec.Codec
	Logger *logging.Logger
}

// Handler receives load notifications on the executor's dispatcher.
type Handler struct {
	// Repo is called with each repository's commit count as it arrives.
	Repo func(repoDir string, count int)
	// Finished is called once with the new snapshot, or with the error
	// that stopped the load. A canceled load reports a nil snapshot and a
	// nil error.
	Finished func(snap *Snapshot, err error)
}

// Source loads and owns the composite commit list. Views read it through
// a snapshot id and an index, never through the backing slice.
type Source struct {
	runner git.Runner
	exec   *executor.Executor
	codec  *textcodec.Codec
	logger *logging.Logger
	root   string
	repos  []string

	nextID atomic.Uint64

	mu      sync.RWMutex
	current *Snapshot
}

// NewSource creates a Source over root and repos, which are relative to
// root in display order. The main repository "." should come first.
func NewSource(runner git.Runner, exec *executor.Executor, root string, repos []string, opts Options) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Source{
		runner: runner,
		exec:   exec,
		codec:  opts.Codec,
		logger: logger.WithComponent("composite"),
		root:   root,
		repos:  slices.Clone(repos),
	}
}

// Repos returns the repositories in merge order.
func (s *Source) Repos() []string {
	return slices.Clone(s.repos)
}

// Load fetches branch in every repository since the given time and merges
// the results into a new snapshot. Canceling ctx cancels the batch.
func (s *Source) Load(ctx context.Context, branch string, since time.Time, h Handler) *executor.Batch {
	var revs []string
	if branch != "" {
		revs = []string{branch}
	}

	action := func(actx context.Context, item executor.Item) (any, error) {
		f := commit.NewFetcher(s.runner, commit.Options{Codec: s.codec, Logger: s.logger})
		err := f.Fetch(actx, commit.Request{
			Dir:     filepath.Join(s.root, filepath.FromSlash(item.Repo)),
			RepoDir: item.Repo,
			Revs:    revs,
			Since:   since,
		}, commit.Callbacks{})
		if err != nil {
			return nil, err
		}
		return f.Commits(), nil
	}

	// Results arrive on the dispatcher one at a time.
	perRepo := make(map[string][]*commit.Commit, len(s.repos))
	var firstErr error

	b := s.exec.Submit("composite log", executor.Items(s.repos), action, executor.Handler{
		Result: func(r executor.Result) {
			if r.Err != nil {
				if errors.IsCanceled(r.Err) {
					return
				}
				// A branch missing from a submodule is not fatal.
				s.logger.Warn("log failed", "repo", r.Item.Repo, "branch", branch, "error", r.Err.Error())
				if r.Item.Repo == "." && firstErr == nil {
					firstErr = r.Err
				}
				return
			}
			commits := r.Value.([]*commit.Commit)
			perRepo[r.Item.Repo] = commits
			if h.Repo != nil {
				h.Repo(r.Item.Repo, len(commits))
			}
		},
		Finished: func(sum executor.Summary) {
			if sum.Canceled {
				if h.Finished != nil {
					h.Finished(nil, nil)
				}
				return
			}
			if firstErr != nil && len(perRepo) == 0 {
				if h.Finished != nil {
					h.Finished(nil, firstErr)
				}
				return
			}
			snap := s.publish(Merge(s.repos, perRepo))
			s.logger.Info("composite history loaded",
				"branch", branch,
				"repos", len(perRepo),
				"commits", len(snap.Commits))
			if h.Finished != nil {
				h.Finished(snap, nil)
			}
		},
	})

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.Cancel(false)
			case <-b.Done():
			}
		}()
	}
	return b
}

func (s *Source) publish(commits []*commit.Commit) *Snapshot {
	snap := &Snapshot{ID: s.nextID.Add(1), Commits: commits}
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	return snap
}

// Snapshot returns the current snapshot, or nil before the first load.
func (s *Source) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// View returns commit i of snapshot id. It reports false when id is stale
// or i is out of range.
func (s *Source) View(id uint64, i int) (*commit.Commit, bool) {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	if snap == nil || snap.ID != id {
		return nil, false
	}
	return snap.At(i)
}
