package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/commitflow"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/status"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit staged changes in the repository and its submodules",
	Long: `Commit the staged changes of every repository with the same message,
then run the configured commit actions.

Commit actions come from commit.actions in the config file, the per-repository
list in the settings store and .qgitc/actions.yaml in the work tree.

Examples:
  qgitc commit -m "Fix parser"
  qgitc commit -a -m "Bump version"
  qgitc commit --amend`,
	Args: exactArgs(0),
	RunE: runCommit,
}

var (
	commitMessage   string
	commitAmend     bool
	commitAll       bool
	commitNoActions bool
)

func init() {
	rootCmd.AddCommand(commitCmd)

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message (prompted for when omitted)")
	commitCmd.Flags().BoolVar(&commitAmend, "amend", false, "Amend the previous commit")
	commitCmd.Flags().BoolVarP(&commitAll, "all", "a", false, "Stage every change before committing")
	commitCmd.Flags().BoolVar(&commitNoActions, "no-actions", false, "Skip commit actions")
}

// session bundles the UI-context loop and the executor a command uses.
type session struct {
	ctx  context.Context
	loop *event.Loop
	exec *executor.Executor
	stop func()
}

func (w *workspace) newSession(ctx context.Context) *session {
	loop, stop := w.startLoop(ctx)
	return &session{
		ctx:  ctx,
		loop: loop,
		exec: executor.New(loop, executor.Options{Logger: w.logger}),
		stop: stop,
	}
}

// fetchStatus loads the status of every repository.
func fetchStatus(ws *workspace, s *session) (*status.Model, error) {
	fetcher := status.NewFetcher(ws.git, s.exec, status.FetcherOptions{Logger: ws.logger})
	done := make(chan *status.Model, 1)
	var firstErr error
	b := fetcher.Fetch(ws.root(), ws.repos, status.Options{
		ShowUntracked: ws.cfg.Status.ShowUntracked,
		ShowIgnored:   ws.cfg.Status.ShowIgnored,
	}, status.Handler{
		Error: func(repoDir string, err error) {
			if firstErr == nil && repoDir == "." {
				firstErr = err
			}
		},
		Finished: func(m *status.Model, sum executor.Summary) {
			done <- m
		},
	})
	select {
	case m := <-done:
		if b.Canceled() {
			return nil, errors.ErrCanceled
		}
		return m, firstErr
	case <-s.ctx.Done():
		b.Cancel(true)
		return nil, errors.ErrCanceled
	}
}

// waitBatch starts a per-repository batch, blocks until it finishes and
// returns the first repository error.
func waitBatch(s *session, run func(h commitflow.Handler) *executor.Batch) error {
	done := make(chan struct{})
	var firstErr error
	b := run(commitflow.Handler{
		Repo: func(repoDir string, err error) {
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", repoDir, err)
			}
		},
		Finished: func(executor.Summary) { close(done) },
	})
	select {
	case <-done:
		return firstErr
	case <-s.ctx.Done():
		b.Cancel(true)
		return errors.ErrCanceled
	}
}

func runCommit(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	s := ws.newSession(ctx)
	defer s.stop()
	out := cmd.OutOrStdout()

	output := commitflow.NewOutputLog()
	flow := commitflow.New(ws.git, s.exec, ws.root(), commitflow.Options{
		SupportsRestore: ws.git.SupportsRestore(ctx),
		Dispatcher:      s.loop,
		Actions:         commitflow.ExecRunner{},
		Output:          output,
		Logger:          ws.logger,
	})

	if commitAll {
		if err := waitBatch(s, func(h commitflow.Handler) *executor.Batch {
			return flow.StageAll(ws.repos, h)
		}); err != nil {
			return err
		}
	}

	st, err := fetchStatus(ws, s)
	if err != nil {
		return err
	}
	if conflicted := st.Conflicted(); len(conflicted) > 0 {
		return fmt.Errorf("%d file(s) still have conflicts; run 'qgitc resolve' first: %w",
			len(conflicted), errors.ErrMergeConflict)
	}
	if branches, mismatch := st.BranchMismatch(); mismatch {
		fmt.Fprintln(out, "Warning: repositories are on different branches:")
		writeBranches(out, branches)
	}
	repos := st.StagedRepos()
	if len(repos) == 0 && !commitAmend {
		return errors.ErrNothingStaged
	}

	msg := commitMessage
	if msg == "" && !commitAmend {
		if !interactive() {
			return invalidArgs("a commit message is required (-m)")
		}
		if msg, err = promptCommitMessage(repos, ""); err != nil {
			return err
		}
	}

	var actions []commitflow.Action
	runActions := ws.cfg.Commit.RunActions && !commitNoActions
	if runActions {
		if actions, err = commitflow.LoadActions(ws.cfg.Commit.Actions, ws.kv(), ws.root()); err != nil {
			return err
		}
	}

	date := ""
	if ws.cfg.Commit.UseNTPTime {
		clock := commitflow.NewClock(ws.cfg.Commit.NTPServer, nil, ws.logger)
		syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := clock.Sync(syncCtx); err != nil {
			fmt.Fprintf(out, "Warning: NTP time unavailable (%v); using the local clock\n", err)
		}
		cancel()
		date = clock.DateOverride()
	}

	finished := make(chan event.CommitFinishedEvent, 1)
	run, err := flow.Commit(commitflow.CommitRequest{
		Message:            msg,
		IgnoreCommentLines: ws.cfg.Commit.IgnoreCommentLines,
		Amend:              commitAmend,
		Repos:              repos,
		RunActions:         runActions,
		Actions:            actions,
		DateOverride:       date,
	}, commitflow.CommitHandler{
		Progress: func(e event.CommitProgressEvent) {
			fmt.Fprintf(out, "[%d/%d] %s: %s\n", e.Done, e.Total, flow.RepoName(e.RepoDir), e.Step)
		},
		Finished: func(e event.CommitFinishedEvent) {
			finished <- e
		},
	})
	if err != nil {
		return err
	}

	var result event.CommitFinishedEvent
	select {
	case result = <-finished:
	case <-ctx.Done():
		run.Cancel()
		run.Wait()
		return errors.ErrCanceled
	}
	writeActionOutput(out, output)
	if result.Aborted {
		if result.Err != nil && !errors.IsCanceled(result.Err) {
			return fmt.Errorf("commit stopped at step %d of %d: %w", result.Step, result.Total, result.Err)
		}
		return errors.ErrCanceled
	}
	n := max(len(repos), 1)
	fmt.Fprintf(out, "Committed %d repositor%s\n", n, plural(n, "y", "ies"))
	return nil
}

// writeBranches prints repository branches sorted by repository.
func writeBranches(w io.Writer, branches map[string]string) {
	repos := make([]string, 0, len(branches))
	for r := range branches {
		repos = append(repos, r)
	}
	sort.Strings(repos)
	for _, r := range repos {
		fmt.Fprintf(w, "  %-24s %s\n", r, branches[r])
	}
}

// writeActionOutput prints what the commit actions wrote.
func writeActionOutput(w io.Writer, log *commitflow.OutputLog) {
	for _, k := range log.Keys() {
		fmt.Fprintf(w, "--- %s: %s\n", k.Repo, k.Command)
		for _, l := range log.Lines(k.Repo, k.Command) {
			if l.Stream == commitflow.Stderr {
				fmt.Fprintln(w, "! "+l.Text)
				continue
			}
			fmt.Fprintln(w, l.Text)
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
