package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/agent"
	"github.com/timxx/qgitc-sub000/internal/cherrypick"
	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/conflict"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/llm"
)

var pickCmd = &cobra.Command{
	Use:   "pick <sha>...",
	Short: "Cherry-pick commits onto the current branch",
	Long: `Cherry-pick commits, oldest first, each in the repository it belongs to.
A commit shared by several repositories is picked in all of them.

Commits reverted by another selected commit are dropped together with the
revert. When a pick stops on a conflict you are asked how to resolve each
file; with --ai the configured model tries first.

Examples:
  qgitc pick 1a2b3c4 5d6e7f8
  qgitc pick -x --ai 1a2b3c4`,
	Args: pickArgs,
	RunE: runPick,
}

var (
	pickRecordOrigin bool
	pickAI           bool
)

func init() {
	rootCmd.AddCommand(pickCmd)

	pickCmd.Flags().BoolVarP(&pickRecordOrigin, "record-origin", "x", false, "Append the picked commit id to the message")
	pickCmd.Flags().BoolVar(&pickAI, "ai", false, "Let the model resolve conflicts before asking")
}

func pickArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return invalidArgs("pick needs at least one commit id")
	}
	for _, a := range args {
		if !commit.IsValidSHA1(a) {
			return invalidArgs("invalid commit id %q", a)
		}
	}
	return nil
}

func runPick(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	finder, err := newCommitFinder(ctx, ws)
	if err != nil {
		return err
	}
	// The log lists commits newest first; so does the selection.
	selected := make([]*commit.Commit, 0, len(args))
	for _, a := range args {
		c, err := finder.find(ctx, a)
		if err != nil {
			return err
		}
		selected = append(selected, c)
	}
	if finder.snap != nil {
		sortNewestFirst(selected, finder.snap.IndexOf)
	}

	plan := cherrypick.Analyze(selected)
	for _, s := range plan.Skipped {
		fmt.Fprintf(out, "skip %s %s: %s\n", s.Commit.ShortSHA1(10), s.Commit.Subject, s.Reason)
	}
	if plan.Len() == 0 {
		fmt.Fprintln(out, "Nothing to pick.")
		return nil
	}

	bus := event.NewBus(ws.logger)
	bus.Subscribe(event.TypeCherryPick, func(e event.Event) {
		if ev, ok := e.(event.CherryPickEvent); ok {
			fmt.Fprintf(out, "[%d/%d] %s %s: %s\n", ev.Index, ev.Total, displayRepo(ev.RepoDir), shortID(ev.SHA1), ev.State)
		}
	})

	opts := cherrypick.Options{
		RecordOrigin: pickRecordOrigin,
		Publisher:    bus,
		Logger:       ws.logger,
	}
	if pickAI {
		adapter, err := llm.NewFromConfig(ws.cfg, ws.logger)
		if err != nil {
			return err
		}
		opts.Resolver = &agent.ConflictResolver{
			Adapter: adapter,
			Runner:  ws.git,
			Timeout: ws.cfg.LLM.Timeout(),
			Logger:  ws.logger,
		}
	}
	driver := cherrypick.NewDriver(ws.git, ws.root(), opts)

	res, err := driver.Run(ctx, plan)
	for err == nil || (res.Paused && errors.Is(err, errors.ErrMergeConflict)) {
		if !res.Paused {
			break
		}
		if !interactive() {
			fmt.Fprintf(out, "Conflicts in %s while picking %s:\n", displayRepo(res.RepoDir), shortID(res.SHA1))
			for _, path := range res.Conflicts {
				fmt.Fprintf(out, "  %s\n", path)
			}
			fmt.Fprintln(out, "Resolve them and run 'git cherry-pick --continue' there, or 'git cherry-pick --abort'.")
			return errors.ErrMergeConflict
		}
		aborted, rerr := resolvePaused(ctx, ws, out, res)
		if rerr != nil || aborted {
			if aerr := driver.Abort(context.WithoutCancel(ctx)); aerr != nil {
				return errors.Join(rerr, aerr)
			}
			fmt.Fprintln(out, "Cherry-pick aborted.")
			if rerr != nil {
				return rerr
			}
			return errors.ErrCanceled
		}
		res, err = driver.Continue(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Picked %d, skipped %d.\n", res.Picked, res.Skipped+len(plan.Skipped))
	return nil
}

// resolvePaused walks the conflicts of a paused pick.
func resolvePaused(ctx context.Context, ws *workspace, out io.Writer, res cherrypick.Result) (bool, error) {
	fmt.Fprintf(out, "Conflicts in %s while picking %s.\n", displayRepo(res.RepoDir), shortID(res.SHA1))
	it := conflict.NewIterator(res.RepoDir, res.Conflicts, ws.cfg.Conflict.AutoNext)
	return resolveIterator(ctx, ws, out, it)
}

// sortNewestFirst orders commits by their position in the log. Commits
// missing from it keep their relative order at the end.
func sortNewestFirst(commits []*commit.Commit, indexOf func(string) int) {
	pos := func(c *commit.Commit) int {
		if i := indexOf(c.SHA1); i >= 0 {
			return i
		}
		return math.MaxInt
	}
	slices.SortStableFunc(commits, func(a, b *commit.Commit) int {
		return cmp.Compare(pos(a), pos(b))
	})
}

func displayRepo(repoDir string) string {
	if repoDir == "." || repoDir == "" {
		return "main repository"
	}
	return repoDir
}

func shortID(sha1 string) string {
	if len(sha1) > 10 {
		return sha1[:10]
	}
	return sha1
}
