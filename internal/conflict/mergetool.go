package conflict

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// PromptKind identifies an interactive question asked by git mergetool.
type PromptKind int

const (
	PromptContinue PromptKind = iota
	PromptDeleted
	PromptSymlink
	PromptSuccess
)

// String returns the kind name.
func (k PromptKind) String() string {
	switch k {
	case PromptContinue:
		return "continue"
	case PromptDeleted:
		return "deleted"
	case PromptSymlink:
		return "symlink"
	case PromptSuccess:
		return "success"
	}
	return "unknown"
}

type recognizer struct {
	substr string
	kind   PromptKind
}

// recognizers are matched in order against the text since the last
// answer.
var recognizers = []recognizer{
	{"Deleted merge conflict for", PromptDeleted},
	{"Symbolic link merge conflict for", PromptSymlink},
	{"Was the merge successful", PromptSuccess},
	{"Continue merging other unresolved paths", PromptContinue},
}

// Recognize returns the kind of the prompt contained in text.
func Recognize(text string) (PromptKind, bool) {
	for _, r := range recognizers {
		if strings.Contains(text, r.substr) {
			return r.kind, true
		}
	}
	return 0, false
}

// Choice is the user's answer to a three-way prompt.
type Choice string

const (
	// ChoiceKeep keeps the created or modified side of a delete conflict.
	ChoiceKeep   Choice = "keep"
	ChoiceDelete Choice = "delete"
	ChoiceLocal  Choice = "local"
	ChoiceRemote Choice = "remote"
	ChoiceAbort  Choice = "abort"
)

// Prompt is a question forwarded to the user.
type Prompt struct {
	Kind    PromptKind
	Path    string
	Text    string
	Choices []Choice
}

// Prompter asks the user to pick one of p.Choices.
type Prompter interface {
	Choose(ctx context.Context, p Prompt) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, p Prompt) (Choice, error)

// Choose implements Prompter.
func (f PrompterFunc) Choose(ctx context.Context, p Prompt) (Choice, error) {
	return f(ctx, p)
}

// answer maps a choice to the letter git expects.
func answer(c Choice, text string) string {
	switch c {
	case ChoiceKeep:
		if strings.Contains(text, "(c)reated") {
			return "c"
		}
		return "m"
	case ChoiceDelete:
		return "d"
	case ChoiceLocal:
		return "l"
	case ChoiceRemote:
		return "r"
	}
	return "a"
}

// Outcome describes one mergetool run.
type Outcome struct {
	Path     string
	Resolved bool
	Aborted  bool
	// Choices holds the answers given to three-way prompts.
	Choices []Choice
	Prompts []PromptKind
}

const maxPending = 8 << 10

// Drive answers the prompts git mergetool writes to r by writing to w,
// until r reaches EOF. Continue and success questions are always answered
// "n"; three-way questions go to p, and without a prompter are aborted.
func Drive(ctx context.Context, r io.Reader, w io.Writer, path string, p Prompter, logger *logging.Logger) (Outcome, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	out := Outcome{Path: path}
	buf := make([]byte, 4096)
	var pending string

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			pending += strings.ReplaceAll(string(buf[:n]), "\r", "")
			if len(pending) > maxPending {
				pending = pending[len(pending)-maxPending:]
			}
			if strings.HasSuffix(strings.TrimRight(pending, " \t"), "?") {
				kind, ok := Recognize(pending)
				if !ok {
					logger.Warn("unrecognized mergetool prompt", "path", path, "text", lastLine(pending))
					continue
				}
				reply, err := respond(ctx, kind, pending, path, p, &out)
				if err != nil {
					return out, err
				}
				logger.Debug("answered mergetool prompt", "path", path, "prompt", kind.String(), "reply", reply)
				if _, err := io.WriteString(w, reply+"\n"); err != nil {
					return out, errors.Wrap(err, "answer mergetool prompt")
				}
				pending = ""
			}
		}
		if rerr != nil {
			if rerr == io.EOF || errors.Is(rerr, syscall.EIO) {
				return out, nil
			}
			return out, rerr
		}
	}
}

func respond(ctx context.Context, kind PromptKind, text, path string, p Prompter, out *Outcome) (string, error) {
	out.Prompts = append(out.Prompts, kind)
	var choices []Choice
	switch kind {
	case PromptContinue, PromptSuccess:
		return "n", nil
	case PromptDeleted:
		choices = []Choice{ChoiceKeep, ChoiceDelete, ChoiceAbort}
	case PromptSymlink:
		choices = []Choice{ChoiceLocal, ChoiceRemote, ChoiceAbort}
	}

	c := ChoiceAbort
	if p != nil {
		var err error
		c, err = p.Choose(ctx, Prompt{Kind: kind, Path: path, Text: strings.TrimSpace(text), Choices: choices})
		if err != nil {
			if errors.IsCanceled(err) || ctx.Err() != nil {
				c = ChoiceAbort
			} else {
				return "", err
			}
		}
	}
	out.Choices = append(out.Choices, c)
	if c == ChoiceAbort {
		out.Aborted = true
	}
	return answer(c, text), nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// MergetoolArgs builds the git mergetool argument list for one file.
func MergetoolArgs(tool, path string) []string {
	args := []string{"mergetool", "--no-prompt"}
	if tool != "" {
		args = append(args, "--tool="+tool)
	}
	return append(args, "--", path)
}

// Starter starts git with a writable stdin. *git.Invoker implements it.
type Starter interface {
	StartInteractive(ctx context.Context, req git.Request) (*git.Process, error)
}

// MergeToolOptions configures a MergeTool.
type MergeToolOptions struct {
	// Binary is the git executable used in pty mode.
	Binary string
	Tool   string
	// UsePTY runs mergetool on a pseudo terminal, for tools that refuse
	// to run without one.
	UsePTY   bool
	Prompter Prompter
	Logger   *logging.Logger
}

// MergeTool runs git mergetool for single files.
type MergeTool struct {
	starter Starter
	opts    MergeToolOptions
	logger  *logging.Logger
}

// NewMergeTool creates a MergeTool.
func NewMergeTool(starter Starter, opts MergeToolOptions) *MergeTool {
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &MergeTool{starter: starter, opts: opts, logger: logger.WithComponent("mergetool")}
}

// Run resolves path in the repository at dir. A tool that leaves the file
// unresolved is not an error; Outcome.Resolved reports it.
func (m *MergeTool) Run(ctx context.Context, dir, path string) (Outcome, error) {
	args := MergetoolArgs(m.opts.Tool, path)
	m.logger.Info("starting mergetool", "dir", dir, "path", path, "tool", m.opts.Tool, "pty", m.opts.UsePTY)
	if m.opts.UsePTY {
		return m.runPTY(ctx, dir, path, args)
	}

	p, err := m.starter.StartInteractive(ctx, git.Request{Dir: dir, Args: args})
	if err != nil {
		return Outcome{Path: path}, err
	}
	out, derr := Drive(ctx, p.Stdout(), p.Stdin(), path, m.opts.Prompter, m.logger)
	if derr != nil {
		p.Cancel()
	}
	_ = p.Stdin().Close()
	_, werr := p.Wait()
	return m.finish(out, derr, werr)
}

func (m *MergeTool) runPTY(ctx context.Context, dir, path string, args []string) (Outcome, error) {
	cmd := exec.CommandContext(ctx, m.opts.Binary, args...)
	cmd.Dir = dir
	f, err := pty.Start(cmd)
	if err != nil {
		return Outcome{Path: path}, errors.NewGitError("failed to start git on a pty", errors.Join(errors.ErrGitSpawnFailed, err)).
			WithRepository(dir).
			WithArgs(args...)
	}
	defer func() { _ = f.Close() }()

	out, derr := Drive(ctx, f, f, path, m.opts.Prompter, m.logger)
	if derr != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	werr := cmd.Wait()
	if werr != nil {
		if ctx.Err() != nil {
			werr = errors.Wrap(errors.ErrCanceled, "git mergetool")
		} else if ee, ok := werr.(*exec.ExitError); ok {
			werr = errors.NewGitError("git exited with status", nil).
				WithRepository(dir).
				WithArgs(args...).
				WithExitCode(ee.ExitCode())
		}
	}
	return m.finish(out, derr, werr)
}

func (m *MergeTool) finish(out Outcome, derr, werr error) (Outcome, error) {
	if derr != nil {
		return out, derr
	}
	if werr != nil {
		if errors.IsCanceled(werr) {
			return out, werr
		}
		var ge *errors.GitError
		if errors.As(werr, &ge) && ge.ExitCode > 0 {
			m.logger.Info("mergetool left file unresolved", "path", out.Path, "exit", ge.ExitCode)
			return out, nil
		}
		return out, werr
	}
	out.Resolved = !out.Aborted
	return out, nil
}

// Side selects a version of a conflicted file.
type Side string

const (
	Ours   Side = "ours"
	Theirs Side = "theirs"
)

// UseSide resolves path by taking one side wholesale and staging it.
func UseSide(ctx context.Context, runner git.Runner, dir, path string, side Side) error {
	if side != Ours && side != Theirs {
		return errors.NewValidationError("side must be ours or theirs").WithField("side").WithValue(string(side))
	}
	if _, err := runner.Run(ctx, git.Request{Dir: dir, Args: []string{"checkout", "--" + string(side), "--", path}}); err != nil {
		return err
	}
	_, err := runner.Run(ctx, git.Request{Dir: dir, Args: []string{"add", "--", path}})
	return err
}
