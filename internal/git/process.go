package git

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Process is a running git command.
type Process struct {
	req     Request
	cmd     *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	stdin   io.WriteCloser
	stderr  bytes.Buffer
	started time.Time
	logger  *logging.Logger

	canceled atomic.Bool
	waitOnce sync.Once
	result   *Result
	err      error
}

// Stdout returns the stdout pipe. It must be drained before Wait.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stdin returns the stdin pipe, or nil unless the process was started
// with StartInteractive.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Cancel marks the process canceled, so streaming callers stop delivering
// output, and then terminates it. It is idempotent.
func (p *Process) Cancel() {
	if p.canceled.Swap(true) {
		return
	}
	p.cancel()
}

// Canceled reports whether Cancel was called or the parent context ended.
func (p *Process) Canceled() bool {
	return p.canceled.Load() || p.ctx.Err() != nil
}

// Wait waits for git to exit. A non-zero exit yields *errors.GitError with
// stderr untouched; a canceled process yields an error matching
// errors.ErrCanceled. Wait may be called more than once.
func (p *Process) Wait() (*Result, error) {
	p.waitOnce.Do(p.wait)
	return p.result, p.err
}

func (p *Process) wait() {
	werr := p.cmd.Wait()
	canceled := p.canceled.Load() || p.ctx.Err() != nil
	p.cancel()

	p.result = &Result{Stderr: p.stderr.Bytes(), ExitCode: -1}
	if p.cmd.ProcessState != nil {
		p.result.ExitCode = p.cmd.ProcessState.ExitCode()
	}

	elapsed := time.Since(p.started)
	if canceled {
		p.logger.Debug("git canceled", "dir", p.req.Dir, "args", p.req.Args, "duration_ms", elapsed.Milliseconds())
		p.err = errors.Wrap(errors.ErrCanceled, "git "+firstArg(p.req.Args))
		return
	}

	if werr == nil {
		p.logger.Debug("git finished", "dir", p.req.Dir, "args", p.req.Args, "duration_ms", elapsed.Milliseconds())
		return
	}

	var exitErr *exec.ExitError
	if !errors.As(werr, &exitErr) {
		p.logger.Error("git wait failed", "dir", p.req.Dir, "args", p.req.Args, "error", werr.Error())
		p.err = errors.NewGitError("git did not finish", werr).
			WithRepository(p.req.Dir).
			WithArgs(p.req.Args...)
		return
	}

	p.logger.Info("git exited with error",
		"dir", p.req.Dir,
		"args", p.req.Args,
		"exit", p.result.ExitCode,
		"stderr", p.stderr.String(),
		"duration_ms", elapsed.Milliseconds())
	p.err = errors.NewGitError("git exited with status", nil).
		WithRepository(p.req.Dir).
		WithArgs(p.req.Args...).
		WithExitCode(p.result.ExitCode).
		WithStderr(p.stderr.String())
}

// terminate asks the process to exit. Platforms without SIGTERM get a kill.
func terminate(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return proc.Kill()
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
