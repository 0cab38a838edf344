package status

import (
	"context"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Options selects which files are reported.
type Options struct {
	ShowUntracked bool
	ShowIgnored   bool
}

// Args builds the git status argument list.
func Args(opts Options) []string {
	args := []string{"status", "--porcelain=v1", "-b"}
	if !opts.ShowUntracked {
		args = append(args, "--untracked-files=no")
	}
	if opts.ShowIgnored {
		args = append(args, "--ignored")
	}
	return args
}

// ----------------------------------------------------------------------------
// Model
// ----------------------------------------------------------------------------

// Model holds the latest status of every repository. Each refresh of a
// repository replaces its entry wholesale.
type Model struct {
	mu    sync.RWMutex
	repos map[string]*RepoStatus
}

// NewModel creates an empty Model.
func NewModel() *Model {
	return &Model{repos: make(map[string]*RepoStatus)}
}

// Replace stores rs as the status of rs.RepoDir.
func (m *Model) Replace(rs *RepoStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[rs.RepoDir] = rs
}

// Clear drops every repository.
func (m *Model) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos = make(map[string]*RepoStatus)
}

// Repo returns the status of one repository.
func (m *Model) Repo(repoDir string) (*RepoStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.repos[repoDir]
	return rs, ok
}

// Repos returns the known repositories in sorted order.
func (m *Model) Repos() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.repos))
	for r := range m.repos {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

func (m *Model) filter(keep func(FileStatus) bool) []FileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FileStatus
	for _, rs := range m.repos {
		for _, f := range rs.Files {
			if keep(f) {
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RepoDir != out[j].RepoDir {
			return out[i].RepoDir < out[j].RepoDir
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Staged returns entries whose index status is set.
func (m *Model) Staged() []FileStatus {
	return m.filter(FileStatus.IsStaged)
}

// Unstaged returns entries whose work tree status is set, including
// untracked and ignored files that were fetched.
func (m *Model) Unstaged() []FileStatus {
	return m.filter(FileStatus.IsUnstaged)
}

// Conflicted returns unmerged entries.
func (m *Model) Conflicted() []FileStatus {
	return m.filter(FileStatus.IsConflicted)
}

// StagedRepos returns the repositories with staged changes.
func (m *Model) StagedRepos() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range m.Staged() {
		if !seen[f.RepoDir] {
			seen[f.RepoDir] = true
			out = append(out, f.RepoDir)
		}
	}
	return out
}

// Branches maps each repository to its branch name.
func (m *Model) Branches() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.repos))
	for r, rs := range m.repos {
		out[r] = rs.Branch.Name
	}
	return out
}

// BranchMismatch returns the branch map and true when the repositories
// are not all on the same branch.
func (m *Model) BranchMismatch() (map[string]string, bool) {
	branches := m.Branches()
	names := make(map[string]bool)
	for _, b := range branches {
		names[b] = true
	}
	return branches, len(names) > 1
}

// ----------------------------------------------------------------------------
// Fetcher
// ----------------------------------------------------------------------------

// Publisher receives the branch mismatch warning. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Handler receives fetch notifications on the executor's dispatcher.
type Handler struct {
	// Repo is called as each repository's status arrives.
	Repo func(rs *RepoStatus)
	// Error is called for repositories whose status failed.
	Error func(repoDir string, err error)
	// Finished is called once after the last repository.
	Finished func(m *Model, s executor.Summary)
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Publisher Publisher
	Logger    *logging.Logger
}

// Fetcher runs git status across repositories through an executor.
type Fetcher struct {
	runner git.Runner
	exec   *executor.Executor
	pub    Publisher
	logger *logging.Logger
	model  *Model
}

// NewFetcher creates a Fetcher.
func NewFetcher(runner git.Runner, exec *executor.Executor, opts FetcherOptions) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Fetcher{
		runner: runner,
		exec:   exec,
		pub:    opts.Publisher,
		logger: logger.WithComponent("status"),
		model:  NewModel(),
	}
}

// Model returns the model updated by fetches.
func (f *Fetcher) Model() *Model {
	return f.model
}

// Fetch refreshes the status of repos, which are relative to root.
func (f *Fetcher) Fetch(root string, repos []string, opts Options, h Handler) *executor.Batch {
	args := Args(opts)
	f.model.Clear()

	action := func(ctx context.Context, item executor.Item) (any, error) {
		dir := filepath.Join(root, filepath.FromSlash(item.Repo))
		res, err := f.runner.Run(ctx, git.Request{Dir: dir, Args: args})
		if err != nil {
			return nil, err
		}
		rs, perr := ParsePorcelain(item.Repo, res.Stdout)
		if perr != nil {
			var pe *errors.ParseError
			if errors.As(perr, &pe) {
				f.logger.Warn("malformed status line", "repo", item.Repo, "stage", pe.Stage, "offset", pe.Offset)
			}
		}
		return rs, nil
	}

	return f.exec.Submit("status", executor.Items(repos), action, executor.Handler{
		Result: func(r executor.Result) {
			if r.Err != nil {
				if !errors.IsCanceled(r.Err) {
					f.logger.Warn("status failed", "repo", r.Item.Repo, "error", r.Err.Error())
					if h.Error != nil {
						h.Error(r.Item.Repo, r.Err)
					}
				}
				return
			}
			rs := r.Value.(*RepoStatus)
			f.model.Replace(rs)
			if h.Repo != nil {
				h.Repo(rs)
			}
		},
		Finished: func(s executor.Summary) {
			if !s.Canceled {
				if branches, mismatch := f.model.BranchMismatch(); mismatch {
					f.logger.Info("repositories are on different branches", "branches", branches)
					if f.pub != nil {
						f.pub.Publish(event.NewBranchMismatchEvent(branches))
					}
				}
			}
			if h.Finished != nil {
				h.Finished(f.model, s)
			}
		},
	})
}
