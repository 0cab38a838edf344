package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/git"
)

// FakeResponse is a canned git result.
type FakeResponse struct {
	// Dir restricts the match to one working directory; empty matches any.
	Dir string
	// Args must be a prefix of the request's args.
	Args []string

	Stdout   string
	Stderr   string
	ExitCode int
	// Err is returned as-is instead of a result.
	Err error
	// ChunkSize splits Stdout for Stream; zero delivers it in one chunk.
	ChunkSize int
	// Block, when set, holds the call until it is closed or ctx is done.
	Block <-chan struct{}
	// Once removes the response after its first match.
	Once bool
}

// FakeRunner implements git.Runner with canned responses matched in
// registration order. Unmatched requests succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	responses []*FakeResponse
	calls     []git.Request
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Add registers a response.
func (f *FakeRunner) Add(r FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &r)
	return f
}

// On registers a successful response with the given stdout for any
// directory.
func (f *FakeRunner) On(stdout string, args ...string) *FakeRunner {
	return f.Add(FakeResponse{Args: args, Stdout: stdout})
}

// Calls returns a copy of all received requests.
func (f *FakeRunner) Calls() []git.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallArgs returns each call's args joined by spaces, prefixed by its dir
// when withDir is true.
func (f *FakeRunner) CallArgs(withDir bool) []string {
	var out []string
	for _, c := range f.Calls() {
		s := strings.Join(c.Args, " ")
		if withDir {
			s = c.Dir + ": " + s
		}
		out = append(out, s)
	}
	return out
}

// Called reports whether any call's args start with prefix.
func (f *FakeRunner) Called(prefix ...string) bool {
	for _, c := range f.Calls() {
		if hasPrefix(c.Args, prefix) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) match(req git.Request) *FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	for i, r := range f.responses {
		if r.Dir != "" && r.Dir != req.Dir {
			continue
		}
		if !hasPrefix(req.Args, r.Args) {
			continue
		}
		if r.Once {
			f.responses = slices.Delete(f.responses, i, i+1)
		}
		return r
	}
	return &FakeResponse{}
}

// Run implements git.Runner.
func (f *FakeRunner) Run(ctx context.Context, req git.Request) (*git.Result, error) {
	r := f.match(req)
	res, err := f.finish(ctx, req, r)
	if res != nil && err == nil {
		res.Stdout = []byte(r.Stdout)
	}
	return res, err
}

// Stream implements git.Runner.
func (f *FakeRunner) Stream(ctx context.Context, req git.Request, fn func([]byte) error) (*git.Result, error) {
	r := f.match(req)
	data := []byte(r.Stdout)
	size := r.ChunkSize
	if size <= 0 {
		size = len(data)
	}
	for len(data) > 0 {
		if ctx.Err() != nil {
			break
		}
		n := min(size, len(data))
		if err := fn(data[:n]); err != nil {
			return &git.Result{}, err
		}
		data = data[n:]
	}
	return f.finish(ctx, req, r)
}

func (f *FakeRunner) finish(ctx context.Context, req git.Request, r *FakeResponse) (*git.Result, error) {
	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		return &git.Result{ExitCode: -1}, errors.Wrap(errors.ErrCanceled, "git")
	}
	if r.Err != nil {
		return nil, r.Err
	}
	res := &git.Result{Stderr: []byte(r.Stderr), ExitCode: r.ExitCode}
	if r.ExitCode != 0 {
		return res, errors.NewGitError("git exited with status", nil).
			WithRepository(req.Dir).
			WithArgs(req.Args...).
			WithExitCode(r.ExitCode).
			WithStderr(r.Stderr)
	}
	return res, nil
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i, p := range prefix {
		if args[i] != p {
			return false
		}
	}
	return true
}

var _ git.Runner = (*FakeRunner)(nil)
