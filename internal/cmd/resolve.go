package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/conflict"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [<file>...]",
	Short: "Resolve merge conflicts in the repository and its submodules",
	Long: `Walk the conflicted files of every repository and resolve each one with
the merge tool or by taking one side.

With --watch, resolve the files in your editor instead; each file is
reported as soon as its conflict markers are gone.

Examples:
  qgitc resolve
  qgitc resolve --theirs src/generated.go
  qgitc resolve --watch`,
	RunE: runResolve,
}

var (
	resolveOursFlag   bool
	resolveTheirsFlag bool
	resolveWatch      bool
	resolveTool       string
)

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().BoolVar(&resolveOursFlag, "ours", false, "Take our side of every conflicted file")
	resolveCmd.Flags().BoolVar(&resolveTheirsFlag, "theirs", false, "Take their side of every conflicted file")
	resolveCmd.Flags().BoolVarP(&resolveWatch, "watch", "w", false, "Wait for the files to be resolved outside qgitc")
	resolveCmd.Flags().StringVar(&resolveTool, "tool", "", "Merge tool passed to git mergetool (default: conflict.merge_tool)")
	resolveCmd.MarkFlagsMutuallyExclusive("ours", "theirs", "watch")
}

// mergeTool returns the configured git mergetool runner.
func (w *workspace) mergeTool() *conflict.MergeTool {
	tool := w.cfg.Conflict.MergeTool
	if resolveTool != "" {
		tool = resolveTool
	}
	return conflict.NewMergeTool(w.git, conflict.MergeToolOptions{
		Binary:   w.cfg.Git.Binary,
		Tool:     tool,
		UsePTY:   w.cfg.Conflict.UsePTY,
		Prompter: huhPrompter(),
		Logger:   w.logger,
	})
}

// loadConflicts returns an iterator per repository with conflicts.
func loadConflicts(ctx context.Context, ws *workspace, only []string) ([]*conflict.Iterator, error) {
	var out []*conflict.Iterator
	for _, repoDir := range ws.repos {
		it, err := conflict.Load(ctx, ws.git, ws.dir(repoDir), repoDir, ws.cfg.Conflict.AutoNext)
		if err != nil {
			return nil, err
		}
		if len(only) > 0 {
			it = conflict.NewIterator(repoDir, filterPaths(it.Files(), repoDir, only), ws.cfg.Conflict.AutoNext)
		}
		if it.Len() > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}

// filterPaths keeps the files of repoDir named in only, which are relative
// to the top-level work tree.
func filterPaths(files []string, repoDir string, only []string) []string {
	var out []string
	for _, f := range files {
		full := f
		if repoDir != "." {
			full = repoDir + "/" + f
		}
		for _, o := range only {
			if filepath.ToSlash(filepath.Clean(o)) == full {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func runResolve(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	only := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return err
		}
		only = append(only, ws.repo.Rel(abs))
	}

	iters, err := loadConflicts(ctx, ws, only)
	if err != nil {
		return err
	}
	if len(iters) == 0 {
		fmt.Fprintln(out, "No conflicts.")
		return nil
	}

	switch {
	case resolveOursFlag || resolveTheirsFlag:
		side := conflict.Ours
		if resolveTheirsFlag {
			side = conflict.Theirs
		}
		for _, it := range iters {
			for _, path := range it.Files() {
				if err := conflict.UseSide(ctx, ws.git, ws.dir(it.RepoDir()), path, side); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: took %s\n", displayPath(it.RepoDir(), path), side)
			}
		}
		return nil
	case resolveWatch:
		return watchConflicts(ctx, ws, out, iters)
	}

	if !interactive() {
		writeConflicts(out, iters)
		return errors.ErrMergeConflict
	}
	for _, it := range iters {
		aborted, err := resolveIterator(ctx, ws, out, it)
		if err != nil {
			return err
		}
		if aborted {
			return errors.ErrCanceled
		}
	}
	var left []*conflict.Iterator
	for _, it := range iters {
		if !it.Done() {
			left = append(left, it)
		}
	}
	if len(left) > 0 {
		fmt.Fprintln(out, "Still conflicted:")
		writeConflicts(out, left)
		return errors.ErrMergeConflict
	}
	fmt.Fprintln(out, "All conflicts resolved.")
	return nil
}

// resolveIterator asks how to resolve each file of it. It reports whether
// the user chose to abort.
func resolveIterator(ctx context.Context, ws *workspace, out io.Writer, it *conflict.Iterator) (bool, error) {
	tool := ws.mergeTool()
	dir := ws.dir(it.RepoDir())
	path, ok := it.First()
	for ok && !it.Done() {
		if it.Resolved(path) {
			path, ok = it.Next()
			continue
		}
		choice, err := promptResolution(it.RepoDir(), path, conflictExcerpt(dir, path))
		if err != nil {
			return false, err
		}
		resolved := false
		switch choice {
		case resolveMergeTool:
			outcome, err := tool.Run(ctx, dir, path)
			if err != nil {
				return false, err
			}
			if outcome.Aborted {
				return true, nil
			}
			resolved = outcome.Resolved
		case resolveOurs, resolveTheirs:
			if err := conflict.UseSide(ctx, ws.git, dir, path, conflict.Side(choice)); err != nil {
				return false, err
			}
			resolved = true
		case resolveAbort:
			return true, nil
		}
		if resolved {
			fmt.Fprintf(out, "%s: resolved\n", displayPath(it.RepoDir(), path))
			if it.MarkResolved(path) {
				path, ok = it.Current()
				continue
			}
		}
		path, ok = it.Next()
	}
	return false, nil
}

// watchConflicts waits until every conflicted file loses its markers.
func watchConflicts(ctx context.Context, ws *workspace, out io.Writer, iters []*conflict.Iterator) error {
	bus := event.NewBus(ws.logger)
	remaining := make(chan struct{}, 1)
	bus.Subscribe(event.TypeConflictResolved, func(e event.Event) {
		if ev, ok := e.(event.ConflictResolvedEvent); ok {
			fmt.Fprintf(out, "%s: resolved\n", displayPath(ev.RepoDir, ev.Path))
		}
	})

	watchers := make([]*conflict.Watcher, 0, len(iters))
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()
	for _, it := range iters {
		w, err := conflict.NewWatcher(ws.dir(it.RepoDir()), it.RepoDir(), bus, ws.logger)
		if err != nil {
			return err
		}
		w.SetResolvedCallback(func(path string) {
			it.MarkResolved(path)
			select {
			case remaining <- struct{}{}:
			default:
			}
		})
		if err := w.Track(it.Files()...); err != nil {
			w.Stop()
			return err
		}
		w.Start()
		watchers = append(watchers, w)
	}

	fmt.Fprintln(out, "Waiting for conflicts to be resolved... (Ctrl+C to stop)")
	writeConflicts(out, iters)
	for {
		done := true
		for _, it := range iters {
			done = done && it.Done()
		}
		if done {
			fmt.Fprintln(out, "All conflicts resolved. Stage the files to mark them resolved in git.")
			return nil
		}
		select {
		case <-remaining:
		case <-ctx.Done():
			return errors.ErrCanceled
		}
	}
}

// conflictExcerpt returns the conflicted regions of a file for display.
func conflictExcerpt(dir, path string) string {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
	if err != nil || !conflict.HasMarkers(data) {
		return ""
	}
	lines := strings.Split(conflict.Excerpt(string(data), 2), "\n")
	if len(lines) > 20 {
		lines = append(lines[:20], "...")
	}
	return strings.Join(lines, "\n")
}

func writeConflicts(w io.Writer, iters []*conflict.Iterator) {
	for _, it := range iters {
		for _, path := range it.Remaining() {
			fmt.Fprintf(w, "  %s\n", displayPath(it.RepoDir(), path))
		}
	}
}

func displayPath(repoDir, path string) string {
	if repoDir == "." || repoDir == "" {
		return path
	}
	return repoDir + "/" + path
}
