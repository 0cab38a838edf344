package diff

import (
	"context"
	"strconv"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// Whitespace modes for Options.IgnoreWhitespace.
const (
	WhitespaceNone  = "none"
	WhitespaceAtEOL = "eol"
	WhitespaceAll   = "all"
)

// Options controls diff generation.
type Options struct {
	// ContextLines is the -U value; negative uses git's default.
	ContextLines     int
	IgnoreWhitespace string
	// ExtraArgs are passed to git before the revision.
	ExtraArgs []string
}

// DefaultOptions returns three context lines and no whitespace filtering.
func DefaultOptions() Options {
	return Options{ContextLines: 3, IgnoreWhitespace: WhitespaceNone}
}

// IsZero reports whether o is the zero value.
func (o Options) IsZero() bool {
	return o.ContextLines == 0 && o.IgnoreWhitespace == "" && len(o.ExtraArgs) == 0
}

func (o Options) commonArgs() []string {
	var args []string
	if o.ContextLines >= 0 {
		args = append(args, "-U"+strconv.Itoa(o.ContextLines))
	}
	switch o.IgnoreWhitespace {
	case WhitespaceAtEOL:
		args = append(args, "--ignore-space-at-eol")
	case WhitespaceAll:
		args = append(args, "--ignore-all-space")
	}
	return args
}

// CommitArgs builds the diff-tree arguments for a commit.
func CommitArgs(sha1 string, paths []string, opts Options) []string {
	args := []string{"diff-tree", "-r", "-p", "--textconv", "--submodule", "-C", "--cc", "--no-commit-id"}
	args = append(args, opts.commonArgs()...)
	args = append(args, "--root")
	args = append(args, opts.ExtraArgs...)
	args = append(args, sha1)
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	return args
}

// LocalArgs builds the diff arguments for work tree changes, or for index
// changes when staged is set.
func LocalArgs(staged bool, paths []string, opts Options) []string {
	args := []string{"diff", "--textconv", "--submodule", "-C"}
	if staged {
		args = append(args, "--cached")
	}
	args = append(args, opts.commonArgs()...)
	args = append(args, opts.ExtraArgs...)
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	return args
}

// Sink receives classified lines in stream order.
type Sink func(items []LineItem)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Codec *textcodec.Codec
	// Dispatcher receives Sink calls. Nil calls the sink on the fetching
	// goroutine.
	Dispatcher event.Dispatcher
	Logger     *logging.Logger
}

// Fetcher runs git diff commands and classifies their output. Row numbers
// continue across fetches until ResetRow, so several commits can be laid
// out on one scroll surface.
type Fetcher struct {
	runner     git.Runner
	codec      *textcodec.Codec
	dispatcher event.Dispatcher
	logger     *logging.Logger

	mu  sync.Mutex
	row int
}

// NewFetcher creates a Fetcher.
func NewFetcher(runner git.Runner, opts FetcherOptions) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Fetcher{
		runner:     runner,
		codec:      opts.Codec,
		dispatcher: opts.Dispatcher,
		logger:     logger.WithComponent("diff-fetcher"),
	}
}

// ResetRow sets the row of the next emitted line.
func (f *Fetcher) ResetRow(n int) {
	f.mu.Lock()
	f.row = n
	f.mu.Unlock()
}

// Row returns the row of the next emitted line.
func (f *Fetcher) Row() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row
}

// FetchCommit streams the diff of sha1. The sentinel ids fetch local
// changes instead.
func (f *Fetcher) FetchCommit(ctx context.Context, dir, sha1 string, paths []string, opts Options, sink Sink) error {
	switch sha1 {
	case commit.LUCSHA1:
		return f.FetchLocal(ctx, dir, false, paths, opts, sink)
	case commit.LCCSHA1:
		return f.FetchLocal(ctx, dir, true, paths, opts, sink)
	}
	return f.fetch(ctx, dir, CommitArgs(sha1, paths, opts), sink)
}

// FetchLocal streams unstaged (or staged) changes.
func (f *Fetcher) FetchLocal(ctx context.Context, dir string, staged bool, paths []string, opts Options, sink Sink) error {
	return f.fetch(ctx, dir, LocalArgs(staged, paths, opts), sink)
}

func (f *Fetcher) fetch(ctx context.Context, dir string, args []string, sink Sink) error {
	c := NewClassifier(f.codec)
	c.ResetRow(f.Row())

	_, err := f.runner.Stream(ctx, git.Request{Dir: dir, Args: args}, func(chunk []byte) error {
		if items := c.Feed(chunk); len(items) > 0 {
			f.deliver(sink, items)
		}
		return nil
	})
	if err != nil {
		// Drop whatever is still buffered.
		c.Discard()
		if ctx.Err() == nil {
			f.logger.Warn("diff failed", "dir", dir, "args", args, "error", err.Error())
		}
		f.setRow(c.Row())
		return err
	}

	if items := c.Flush(); len(items) > 0 {
		f.deliver(sink, items)
	}
	f.setRow(c.Row())
	return nil
}

func (f *Fetcher) setRow(n int) {
	f.mu.Lock()
	f.row = n
	f.mu.Unlock()
}

func (f *Fetcher) deliver(sink Sink, items []LineItem) {
	if sink == nil {
		return
	}
	fn := func() { sink(items) }
	if f.dispatcher == nil || !f.dispatcher.Post(fn) {
		fn()
	}
}
