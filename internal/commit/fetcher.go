package commit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// Request selects the history to fetch.
type Request struct {
	// Dir is the work tree git runs in.
	Dir string
	// RepoDir tags the commits; "." for the main repository.
	RepoDir string
	// Revs are branch names or ranges. Empty means HEAD.
	Revs []string
	// Paths limits history to these paths.
	Paths []string
	// Since drops commits older than this when non-zero.
	Since    time.Time
	MaxCount int
	// ExtraArgs are passed to git log before the revisions.
	ExtraArgs []string
	// LocalChanges prepends sentinel commits for uncommitted and staged
	// changes.
	LocalChanges bool
}

// LogArgs builds the git log argument list for req.
func LogArgs(req Request) []string {
	args := []string{"log", "-z", "--pretty=format:" + LogFormat}
	if !req.Since.IsZero() {
		args = append(args, "--since="+req.Since.Format(time.RFC3339))
	}
	if req.MaxCount > 0 {
		args = append(args, "--max-count="+strconv.Itoa(req.MaxCount))
	}
	args = append(args, req.ExtraArgs...)
	args = append(args, req.Revs...)
	if len(req.Paths) > 0 {
		args = append(args, "--")
		args = append(args, req.Paths...)
	}
	return args
}

// Callbacks receive fetch notifications on the dispatcher.
type Callbacks struct {
	// Progress reports the number of commits seen so far.
	Progress func(count int)
	// Finished is called once, after the last Progress.
	Finished func(count int, err error)
}

// Options configures a Fetcher.
type Options struct {
	Codec *textcodec.Codec
	// Dispatcher receives callbacks. Nil calls them on the fetching
	// goroutine.
	Dispatcher event.Dispatcher
	Logger     *logging.Logger
}

// Fetcher presents the output of one git log as a random-access list.
// Raw records are retained as they stream in and parsed on first access;
// once every record has been parsed the raw array is released.
type Fetcher struct {
	runner     git.Runner
	codec      *textcodec.Codec
	dispatcher event.Dispatcher
	logger     *logging.Logger

	mu      sync.Mutex
	parser  *Parser
	local   []*Commit
	raw     [][]byte
	offsets []int64
	commits []*Commit
	pending int
}

// NewFetcher creates a Fetcher.
func NewFetcher(runner git.Runner, opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Fetcher{
		runner:     runner,
		codec:      opts.Codec,
		dispatcher: opts.Dispatcher,
		logger:     logger.WithComponent("commit-fetcher"),
	}
}

// Fetch runs git log and blocks until it exits. Earlier results are
// discarded. A canceled fetch keeps the commits received so far.
func (f *Fetcher) Fetch(ctx context.Context, req Request, cb Callbacks) error {
	repoDir := req.RepoDir
	if repoDir == "" {
		repoDir = "."
	}

	parser := NewParser(repoDir, f.codec, f.logger)

	f.mu.Lock()
	f.parser = parser
	f.local = nil
	f.raw = nil
	f.offsets = nil
	f.commits = nil
	f.pending = 0
	f.mu.Unlock()

	if req.LocalChanges {
		local, err := f.localCommits(ctx, req.Dir, repoDir)
		if err != nil {
			f.logger.Warn("failed to probe local changes", "dir", req.Dir, "error", err.Error())
		}
		f.mu.Lock()
		f.local = local
		f.mu.Unlock()
	}

	start := time.Now()

	_, err := f.runner.Stream(ctx, git.Request{Dir: req.Dir, Args: LogArgs(req)}, func(chunk []byte) error {
		recs, offs := parser.FeedRaw(chunk)
		if len(recs) > 0 {
			f.appendRaw(recs, offs)
			f.post(cb.Progress, f.Count())
		}
		return nil
	})
	if err == nil {
		if recs, offs := parser.FlushRaw(); len(recs) > 0 {
			f.appendRaw(recs, offs)
		}
	}

	count := f.Count()
	f.logger.Debug("log fetched",
		"dir", req.Dir,
		"commits", count,
		"duration_ms", time.Since(start).Milliseconds())

	if cb.Finished != nil {
		f.dispatch(func() { cb.Finished(count, err) })
	}
	return err
}

func (f *Fetcher) appendRaw(recs [][]byte, offs []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, recs...)
	f.offsets = append(f.offsets, offs...)
	f.commits = append(f.commits, make([]*Commit, len(recs))...)
	f.pending += len(recs)
}

func (f *Fetcher) post(fn func(int), n int) {
	if fn == nil {
		return
	}
	f.dispatch(func() { fn(n) })
}

func (f *Fetcher) dispatch(fn func()) {
	if f.dispatcher == nil || !f.dispatcher.Post(fn) {
		fn()
	}
}

// Count returns the number of commits, including local change sentinels.
func (f *Fetcher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.local) + len(f.commits)
}

// At returns commit i, parsing it on first access. It returns nil when i is
// out of range.
func (f *Fetcher) At(i int) *Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at(i)
}

func (f *Fetcher) at(i int) *Commit {
	if i < 0 {
		return nil
	}
	if i < len(f.local) {
		return f.local[i]
	}
	i -= len(f.local)
	if i >= len(f.commits) {
		return nil
	}
	if c := f.commits[i]; c != nil {
		return c
	}

	c := f.parser.ParseRecord(f.raw[i], f.offsets[i])
	f.commits[i] = c
	f.raw[i] = nil
	f.pending--
	if f.pending == 0 {
		f.raw = nil
		f.offsets = nil
	}
	return c
}

// Commits materializes and returns every commit.
func (f *Fetcher) Commits() []*Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.local) + len(f.commits)
	out := make([]*Commit, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, f.at(i))
	}
	return out
}

// Retained returns the number of raw records not yet parsed.
func (f *Fetcher) Retained() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// localCommits probes the work tree and index for changes and builds the
// matching sentinel commits.
func (f *Fetcher) localCommits(ctx context.Context, dir, repoDir string) ([]*Commit, error) {
	res, err := f.runner.Run(ctx, git.Request{
		Dir:  dir,
		Args: []string{"status", "--porcelain=v1", "--untracked-files=no"},
	})
	if err != nil {
		return nil, err
	}

	var staged, unstaged bool
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if len(line) < 3 {
			continue
		}
		if line[0] != ' ' && line[0] != '?' && line[0] != '!' {
			staged = true
		}
		if line[1] != ' ' && line[1] != '?' && line[1] != '!' {
			unstaged = true
		}
	}
	if !staged && !unstaged {
		return nil, nil
	}

	head := ""
	if out, err := f.runner.Run(ctx, git.Request{Dir: dir, Args: []string{"rev-parse", "HEAD"}}); err == nil {
		head = strings.TrimSpace(string(out.Stdout))
	}

	var local []*Commit
	if unstaged {
		local = append(local, NewLocalCommit(LUCSHA1, "Local uncommitted changes, not checked in to index", head, repoDir))
	}
	if staged {
		local = append(local, NewLocalCommit(LCCSHA1, "Local changes checked in to index but not committed", head, repoDir))
	}
	return local, nil
}
