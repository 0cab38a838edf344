package commitflow

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"gopkg.in/yaml.v3"

	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/settings"
)

// Condition decides where and when an action runs.
type Condition string

const (
	// AllRepos runs the action in every committed repository.
	AllRepos Condition = "all_repos"
	// MainRepoOnly runs the action only in the main repository.
	MainRepoOnly Condition = "main_repo_only"
	// AllCommitted runs the action once, after every repository committed.
	AllCommitted Condition = "all_committed"
)

// Action is a command run as part of a commit.
type Action struct {
	Command   string    `json:"command" yaml:"command"`
	Args      []string  `json:"args,omitempty" yaml:"args,omitempty"`
	Condition Condition `json:"condition" yaml:"condition"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
}

// Deferred reports whether the action waits for all commits.
func (a Action) Deferred() bool {
	return a.Condition == AllCommitted
}

// AppliesTo reports whether a per-repository action runs in repoDir.
func (a Action) AppliesTo(repoDir string) bool {
	switch a.Condition {
	case MainRepoOnly:
		return repoDir == "."
	case AllCommitted:
		return false
	}
	return true
}

// String returns the command line.
func (a Action) String() string {
	return strings.Join(append([]string{a.Command}, a.Args...), " ")
}

// ActionsFile is the repository-local action list, .qgitc/actions.yaml.
const ActionsFile = ".qgitc/actions.yaml"

type actionsDoc struct {
	Actions []Action `yaml:"actions"`
}

// ActionsKey is the settings key of the action list for a repository root.
func ActionsKey(root string) string {
	return settings.Key("commitActions", root)
}

// FromConfig converts configured actions. An empty condition means
// AllRepos.
func FromConfig(in []config.CommitAction) []Action {
	out := make([]Action, 0, len(in))
	for _, a := range in {
		cond := Condition(a.Condition)
		if cond == "" {
			cond = AllRepos
		}
		out = append(out, Action{Command: a.Command, Args: slices.Clone(a.Args), Condition: cond, Enabled: a.Enabled})
	}
	return out
}

// LoadActions collects the enabled actions for root: the global list from
// configuration, then the per-repository list from the settings store,
// then .qgitc/actions.yaml in root. Missing sources are skipped.
func LoadActions(global []config.CommitAction, kv settings.KV, root string) ([]Action, error) {
	all := FromConfig(global)

	if kv != nil {
		var stored []Action
		err := settings.GetJSON(kv, ActionsKey(root), &stored)
		switch {
		case err == nil:
			all = append(all, stored...)
		case !errors.Is(err, &errors.NotFoundError{}):
			return nil, errors.Wrapf(err, "load commit actions for %s", root)
		}
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ActionsFile)))
	switch {
	case err == nil:
		var doc actionsDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.NewValidationError("invalid " + ActionsFile + ": " + err.Error()).WithField("actions")
		}
		all = append(all, doc.Actions...)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read %s", ActionsFile)
	}

	enabled := all[:0]
	for _, a := range all {
		if a.Condition == "" {
			a.Condition = AllRepos
		}
		if a.Enabled && strings.TrimSpace(a.Command) != "" {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

// SaveActions stores the per-repository action list.
func SaveActions(kv settings.KV, root string, actions []Action) error {
	return settings.SetJSON(kv, ActionsKey(root), actions)
}

// ----------------------------------------------------------------------------
// Output log
// ----------------------------------------------------------------------------

// Stream identifies the output stream of a line.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// OutputKey groups output by repository and command.
type OutputKey struct {
	Repo    string
	Command string
}

// OutputLine is one captured line.
type OutputLine struct {
	Stream Stream
	Text   string
}

// OutputLog collects action output keyed by (repository, command) in
// arrival order.
type OutputLog struct {
	mu    sync.Mutex
	keys  []OutputKey
	lines map[OutputKey][]OutputLine
}

// NewOutputLog creates an empty log.
func NewOutputLog() *OutputLog {
	return &OutputLog{lines: make(map[OutputKey][]OutputLine)}
}

// Append records a line.
func (l *OutputLog) Append(repo, command string, stream Stream, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := OutputKey{Repo: repo, Command: command}
	if _, ok := l.lines[k]; !ok {
		l.keys = append(l.keys, k)
	}
	l.lines[k] = append(l.lines[k], OutputLine{Stream: stream, Text: text})
}

// Keys returns the keys in first-seen order.
func (l *OutputLog) Keys() []OutputKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.keys)
}

// Lines returns the lines recorded for repo and command.
func (l *OutputLog) Lines(repo, command string) []OutputLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.lines[OutputKey{Repo: repo, Command: command}])
}

// Clear drops everything.
func (l *OutputLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = nil
	l.lines = make(map[OutputKey][]OutputLine)
}

// ----------------------------------------------------------------------------
// Action runner
// ----------------------------------------------------------------------------

// LineFunc receives one line of action output.
type LineFunc func(stream Stream, line string)

// ActionRunner runs one action in dir.
type ActionRunner interface {
	RunAction(ctx context.Context, dir string, a Action, out LineFunc) error
}

// ExecRunner runs actions as subprocesses.
type ExecRunner struct {
	Env []string
}

// RunAction implements ActionRunner. stdout and stderr are read
// concurrently and delivered line by line.
func (r ExecRunner) RunAction(ctx context.Context, dir string, a Action, out LineFunc) error {
	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(errors.ErrOperationFailed, "start %s: %v", a.Command, err)
	}

	var wg conc.WaitGroup
	wg.Go(func() { scanLines(stdout, Stdout, out) })
	wg.Go(func() { scanLines(stderr, Stderr, out) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrCanceled, a.Command)
		}
		return errors.Wrapf(errors.ErrOperationFailed, "%s: %v", a.String(), err)
	}
	return nil
}

func scanLines(r interface{ Read([]byte) (int, error) }, stream Stream, out LineFunc) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if out != nil {
			out(stream, sc.Text())
		}
	}
}
