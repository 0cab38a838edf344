// Package find searches the commit list.
//
// Header fields are searched synchronously on the caller. Paths and diff
// content need git, so those searches run on a background goroutine that
// reports progress and the outcome through the dispatcher. Starting a new
// search cancels the previous one and waits for its worker to exit.
package find

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/diff"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// Field selects what is searched.
type Field int

const (
	// Comments searches the message, identities, dates and SHA-1s.
	Comments Field = iota
	// Paths searches the names of changed files.
	Paths
	// Diff searches the added, removed and context lines of the patch.
	Diff
)

func (f Field) String() string {
	switch f {
	case Comments:
		return "comments"
	case Paths:
		return "paths"
	case Diff:
		return "diff"
	}
	return "unknown"
}

// Flag selects how the pattern is matched.
type Flag int

const (
	// Exact matches the pattern as a whole word, case-sensitively.
	Exact Flag = iota
	// IgnoreCase matches the pattern anywhere, ignoring case.
	IgnoreCase
	// Regex treats the pattern as a regular expression.
	Regex
)

// State is the search state.
type State int

const (
	Idle State = iota
	Running
	Found
	NotFound
	Canceled
)

func (s State) String() string {
	return [...]string{"idle", "running", "found", "not found", "canceled"}[s]
}

// Param describes one search. Rows From through To are scanned in order;
// To below From scans backwards.
type Param struct {
	From    int
	To      int
	Pattern string
	Field   Field
	Flag    Flag
}

// Compile builds the matcher for pattern.
func Compile(pattern string, flag Flag) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.NewValidationError("empty search pattern").WithField("pattern")
	}
	var expr string
	switch flag {
	case Exact:
		expr = `\b` + regexp.QuoteMeta(pattern) + `\b`
	case IgnoreCase:
		expr = `(?i)` + regexp.QuoteMeta(pattern)
	default:
		expr = pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.NewValidationError("invalid search pattern: "+err.Error()).
			WithField("pattern").
			WithValue(pattern)
	}
	return re, nil
}

// CommitList is the list being searched. composite.Snapshot implements it.
type CommitList interface {
	Len() int
	At(i int) (*commit.Commit, bool)
}

// Handler receives search notifications. For synchronous searches they
// run before Find returns; otherwise they run on the dispatcher.
type Handler struct {
	// Progress reports distinct integer percentages.
	Progress func(percent int)
	// Found reports the matching row.
	Found func(row int)
	// Finished reports the terminal state: Found, NotFound or Canceled.
	Finished func(state State)
}

// Options configures a Searcher.
type Options struct {
	Codec      *textcodec.Codec
	Dispatcher event.Dispatcher
	DiffOpts   diff.Options
	Logger     *logging.Logger
}

// Searcher runs one search at a time.
type Searcher struct {
	runner     git.Runner
	root       string
	codec      *textcodec.Codec
	dispatcher event.Dispatcher
	diffOpts   diff.Options
	logger     *logging.Logger

	mu    sync.Mutex
	state State
	gen   uint64
	job   *job
}

type job struct {
	canceled atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSearcher creates a Searcher for the repositories under root.
func NewSearcher(runner git.Runner, root string, opts Options) *Searcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	diffOpts := opts.DiffOpts
	if diffOpts.IsZero() {
		diffOpts = diff.DefaultOptions()
	}
	return &Searcher{
		runner:     runner,
		root:       root,
		codec:      opts.Codec,
		dispatcher: opts.Dispatcher,
		diffOpts:   diffOpts,
		logger:     logger.WithComponent("find"),
	}
}

// State returns the current state.
func (s *Searcher) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Find starts a search, canceling any running one first. It returns an
// error only when the pattern is invalid.
func (s *Searcher) Find(list CommitList, p Param, h Handler) error {
	s.Cancel()

	re, err := Compile(p.Pattern, p.Flag)
	if err != nil {
		return err
	}

	rows := rowRange(p.From, p.To, list.Len())
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = Running
	s.mu.Unlock()

	if p.Field == Comments {
		row := -1
		for _, i := range rows {
			if c, ok := list.At(i); ok && matchHeader(re, c) {
				row = i
				break
			}
		}
		s.complete(gen, row, h)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.job = j
	s.mu.Unlock()

	go s.run(ctx, j, gen, list, rows, p.Field, re, h)
	return nil
}

// Cancel stops the running search and waits for its worker to exit.
// Canceled is reported through the handler of that search.
func (s *Searcher) Cancel() {
	s.mu.Lock()
	j := s.job
	s.job = nil
	s.mu.Unlock()
	if j == nil {
		return
	}
	j.canceled.Store(true)
	j.cancel()
	<-j.done
}

func (s *Searcher) run(ctx context.Context, j *job, gen uint64, list CommitList, rows []int, field Field, re *regexp.Regexp, h Handler) {
	defer close(j.done)
	defer j.cancel()

	last := -1
	for n, i := range rows {
		if j.canceled.Load() {
			s.post(func() { s.finish(gen, h, Canceled) })
			return
		}

		c, ok := list.At(i)
		if ok && s.matchDeep(ctx, c, field, re) {
			if j.canceled.Load() {
				s.post(func() { s.finish(gen, h, Canceled) })
				return
			}
			row := i
			s.post(func() { s.complete(gen, row, h) })
			s.detach(j)
			return
		}

		if pct := (n + 1) * 100 / len(rows); pct != last {
			last = pct
			if h.Progress != nil {
				s.post(func() { h.Progress(pct) })
			}
		}
	}

	if j.canceled.Load() {
		s.post(func() { s.finish(gen, h, Canceled) })
		return
	}
	s.post(func() { s.complete(gen, -1, h) })
	s.detach(j)
}

func (s *Searcher) detach(j *job) {
	s.mu.Lock()
	if s.job == j {
		s.job = nil
	}
	s.mu.Unlock()
}

func (s *Searcher) complete(gen uint64, row int, h Handler) {
	if row < 0 {
		s.finish(gen, h, NotFound)
		return
	}
	if h.Found != nil {
		h.Found(row)
	}
	s.finish(gen, h, Found)
}

// finish reports the outcome of search gen and returns to Idle unless a
// newer search has started.
func (s *Searcher) finish(gen uint64, h Handler, st State) {
	if h.Finished != nil {
		h.Finished(st)
	}
	s.mu.Lock()
	if s.gen == gen {
		s.state = Idle
	}
	s.mu.Unlock()
}

func (s *Searcher) post(fn func()) {
	if s.dispatcher == nil || !s.dispatcher.Post(fn) {
		fn()
	}
}

// matchDeep searches c and its sub-commits with git.
func (s *Searcher) matchDeep(ctx context.Context, c *commit.Commit, field Field, re *regexp.Regexp) bool {
	for _, cc := range append([]*commit.Commit{c}, c.SubCommits...) {
		var ok bool
		var err error
		dir := filepath.Join(s.root, filepath.FromSlash(cc.RepoDir))
		switch field {
		case Paths:
			ok, err = s.matchPaths(ctx, dir, cc.SHA1, re)
		case Diff:
			ok, err = s.matchDiff(ctx, dir, cc.SHA1, re)
		}
		if err != nil && !errors.IsCanceled(err) {
			s.logger.Warn("search failed", "repo", cc.RepoDir, "sha1", cc.SHA1, "field", field.String(), "error", err.Error())
		}
		if ok {
			return true
		}
	}
	return false
}

// PathArgs builds the argument list listing the files changed by sha1.
func PathArgs(sha1 string) []string {
	switch sha1 {
	case commit.LUCSHA1:
		return []string{"diff", "--name-only"}
	case commit.LCCSHA1:
		return []string{"diff", "--name-only", "--cached"}
	}
	return []string{"diff-tree", "-r", "--name-only", "--no-commit-id", "--root", sha1}
}

func (s *Searcher) matchPaths(ctx context.Context, dir, sha1 string, re *regexp.Regexp) (bool, error) {
	res, err := s.runner.Run(ctx, git.Request{Dir: dir, Args: PathArgs(sha1)})
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(s.codec.String(res.Stdout), "\n") {
		if line != "" && re.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}

var errMatched = errors.New("matched")

func (s *Searcher) matchDiff(ctx context.Context, dir, sha1 string, re *regexp.Regexp) (bool, error) {
	var args []string
	switch sha1 {
	case commit.LUCSHA1:
		args = diff.LocalArgs(false, nil, s.diffOpts)
	case commit.LCCSHA1:
		args = diff.LocalArgs(true, nil, s.diffOpts)
	default:
		args = diff.CommitArgs(sha1, nil, s.diffOpts)
	}

	cls := diff.NewClassifier(s.codec)
	scan := func(items []diff.LineItem) bool {
		for i := range items {
			if text, ok := ContentLine(&items[i]); ok && re.MatchString(text) {
				return true
			}
		}
		return false
	}

	_, err := s.runner.Stream(ctx, git.Request{Dir: dir, Args: args}, func(chunk []byte) error {
		if scan(cls.Feed(chunk)) {
			return errMatched
		}
		return nil
	})
	if errors.Is(err, errMatched) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return scan(cls.Flush()), nil
}

// ContentLine returns the text of a diff body line without its change
// markers. Headers, hunk lines and the no-newline marker are not content.
func ContentLine(item *diff.LineItem) (string, bool) {
	if item.Type != diff.LineDiff || item.NoNewline {
		return "", false
	}
	return item.Text()[len(item.Prefix()):], true
}

// matchHeader searches the header fields of c and its sub-commits.
func matchHeader(re *regexp.Regexp, c *commit.Commit) bool {
	for _, cc := range append([]*commit.Commit{c}, c.SubCommits...) {
		fields := []string{
			cc.Message, cc.Subject,
			cc.Author.String(), cc.Committer.String(),
			cc.Author.Raw, cc.Committer.Raw,
			cc.SHA1,
		}
		fields = append(fields, cc.Parents...)
		for _, f := range fields {
			if f != "" && re.MatchString(f) {
				return true
			}
		}
	}
	return false
}

func rowRange(from, to, n int) []int {
	if n == 0 {
		return nil
	}
	from = max(0, min(from, n-1))
	to = max(0, min(to, n-1))
	var rows []int
	if from <= to {
		for i := from; i <= to; i++ {
			rows = append(rows, i)
		}
	} else {
		for i := from; i >= to; i-- {
			rows = append(rows, i)
		}
	}
	return rows
}
