// Package git launches the external git binary and streams its output.
//
// Every other package talks to git through the [Runner] interface so tests
// can substitute canned responses. [Invoker] is the production
// implementation: it spawns git with os/exec, streams stdout in chunks,
// captures stderr untouched, and cancels by sending SIGTERM followed by a
// kill once the grace window expires.
package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// DefaultCancelGrace is how long a terminated git process may keep running
// before it is killed.
const DefaultCancelGrace = 50 * time.Millisecond

// chunkSize is the read size used when streaming stdout.
const chunkSize = 64 * 1024

// Request describes one git invocation.
type Request struct {
	// Dir is the working directory.
	Dir string
	// Args excludes the git binary itself.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
	// Stdin, when set, is copied to the process's standard input.
	Stdin io.Reader
}

// Result is the outcome of a finished git process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs git commands. Both methods return *errors.GitError when git
// exits with a non-zero status, and an error matching errors.ErrCanceled
// when ctx is canceled first.
type Runner interface {
	// Run waits for git to exit and returns its buffered output.
	Run(ctx context.Context, req Request) (*Result, error)
	// Stream delivers stdout to fn chunk by chunk as it is read. Result.Stdout
	// is nil. If fn returns an error, git is canceled and that error returned.
	Stream(ctx context.Context, req Request, fn func(chunk []byte) error) (*Result, error)
}

// Options configures an Invoker.
type Options struct {
	// Binary is the git executable (default "git").
	Binary string
	// CancelGrace is the terminate-to-kill window (default 50ms).
	CancelGrace time.Duration
	// Env is appended to every command's environment.
	Env []string
	// Logger receives one debug entry per command. Nil discards.
	Logger *logging.Logger
}

// Invoker spawns git subprocesses. It is safe for concurrent use.
type Invoker struct {
	binary string
	grace  time.Duration
	env    []string
	logger *logging.Logger

	versionOnce sync.Once
	version     *semver.Version
	versionErr  error
}

// NewInvoker creates an Invoker.
func NewInvoker(opts Options) *Invoker {
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = DefaultCancelGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Invoker{
		binary: opts.Binary,
		grace:  opts.CancelGrace,
		env:    opts.Env,
		logger: logger.WithComponent("git"),
	}
}

// Binary returns the git executable name or path.
func (g *Invoker) Binary() string {
	return g.binary
}

// Start launches git and returns a handle to the running process. The
// caller must read Stdout to EOF (or Cancel) and then call Wait.
func (g *Invoker) Start(ctx context.Context, req Request) (*Process, error) {
	return g.start(ctx, req, false)
}

// StartInteractive is Start with an open stdin pipe, for commands that
// prompt (git mergetool).
func (g *Invoker) StartInteractive(ctx context.Context, req Request) (*Process, error) {
	return g.start(ctx, req, true)
}

func (g *Invoker) start(ctx context.Context, req Request, interactive bool) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCanceled, "git "+firstArg(req.Args))
	}
	pctx, cancel := context.WithCancel(ctx)
	cmd := g.command(pctx, req)

	p := &Process{
		req:     req,
		cmd:     cmd,
		ctx:     pctx,
		cancel:  cancel,
		started: time.Now(),
		logger:  g.logger,
	}
	cmd.Stderr = &p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, g.spawnError(req, err)
	}
	p.stdout = stdout

	if interactive {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, g.spawnError(req, err)
		}
		p.stdin = stdin
	} else if req.Stdin != nil {
		cmd.Stdin = req.Stdin
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, g.spawnError(req, err)
	}
	return p, nil
}

// command builds the exec.Cmd. Cancel sends SIGTERM; WaitDelay kills the
// process and closes its pipes when it outlives the grace window.
func (g *Invoker) command(ctx context.Context, req Request) *exec.Cmd {
	cmd := exec.CommandContext(ctx, g.binary, req.Args...)
	cmd.Dir = req.Dir
	if len(g.env) > 0 || len(req.Env) > 0 {
		env := append(os.Environ(), g.env...)
		cmd.Env = append(env, req.Env...)
	}
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = g.grace
	return cmd
}

func (g *Invoker) spawnError(req Request, err error) error {
	g.logger.Error("failed to start git", "dir", req.Dir, "args", req.Args, "error", err.Error())
	return errors.NewGitError("failed to start git", errors.Join(errors.ErrGitSpawnFailed, err)).
		WithRepository(req.Dir).
		WithArgs(req.Args...)
}

// Run implements Runner.
func (g *Invoker) Run(ctx context.Context, req Request) (*Result, error) {
	var out bytes.Buffer
	res, err := g.Stream(ctx, req, func(chunk []byte) error {
		out.Write(chunk)
		return nil
	})
	if res != nil {
		res.Stdout = out.Bytes()
	}
	return res, err
}

// Stream implements Runner.
func (g *Invoker) Stream(ctx context.Context, req Request, fn func(chunk []byte) error) (*Result, error) {
	p, err := g.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	var fnErr error
	buf := make([]byte, chunkSize)
	for {
		n, rerr := p.stdout.Read(buf)
		if n > 0 && fnErr == nil && !p.Canceled() {
			if fnErr = fn(buf[:n]); fnErr != nil {
				p.Cancel()
			}
		}
		if rerr != nil {
			break
		}
	}

	res, err := p.Wait()
	if fnErr != nil {
		return res, fnErr
	}
	return res, err
}

// Output runs git in dir and returns stdout.
func (g *Invoker) Output(ctx context.Context, dir string, args ...string) ([]byte, error) {
	res, err := g.Run(ctx, Request{Dir: dir, Args: args})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// Version returns the git version, probing `git --version` once.
func (g *Invoker) Version(ctx context.Context) (*semver.Version, error) {
	g.versionOnce.Do(func() {
		out, err := g.Output(ctx, "", "--version")
		if err != nil {
			g.versionErr = err
			return
		}
		g.version, g.versionErr = ParseVersion(string(out))
	})
	return g.version, g.versionErr
}

// restoreMinVersion is the first git release with `git restore`.
var restoreMinVersion = semver.MustParse("2.23.0")

// SupportsRestore reports whether `git restore` is available. Unknown
// versions are assumed to be modern.
func (g *Invoker) SupportsRestore(ctx context.Context) bool {
	v, err := g.Version(ctx)
	if err != nil || v == nil {
		return true
	}
	return !v.LessThan(restoreMinVersion)
}

// ParseVersion extracts the version from `git --version` output such as
// "git version 2.39.3 (Apple Git-145)" or "git version 2.41.0.windows.1".
func ParseVersion(output string) (*semver.Version, error) {
	fields := strings.Fields(output)
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return nil, errors.NewParseError("version", 0, output)
	}
	parts := strings.SplitN(fields[2], ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("parse git version %q: %w", fields[2], err)
	}
	return v, nil
}

var _ Runner = (*Invoker)(nil)
