package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/composite"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/find"
	"github.com/timxx/qgitc-sub000/internal/util"
)

var findCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "Search the composite history",
	Long: `Search commit messages, changed paths or patches of the composite history
and print every matching commit, newest first.

Examples:
  qgitc find "parser"
  qgitc find --field paths 'internal/.*\.go' --regex
  qgitc find --field diff --exact TODO -n 5`,
	Args: exactArgs(1),
	RunE: runFind,
}

var (
	findField  string
	findRegex  bool
	findExact  bool
	findBranch string
	findSince  string
	findLimit  int
)

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().StringVar(&findField, "field", "comments", "What to search: comments, paths or diff")
	findCmd.Flags().BoolVar(&findRegex, "regex", false, "Treat the pattern as a regular expression")
	findCmd.Flags().BoolVar(&findExact, "exact", false, "Match whole words, case-sensitively")
	findCmd.Flags().StringVarP(&findBranch, "branch", "b", "", "Branch to search (default: HEAD)")
	findCmd.Flags().StringVar(&findSince, "since", "", "Oldest commit date, as for 'qgitc log'")
	findCmd.Flags().IntVarP(&findLimit, "max-count", "n", 0, "Stop after this many matches (0 for all)")
	findCmd.MarkFlagsMutuallyExclusive("regex", "exact")
}

// parseField maps the --field flag to a search field.
func parseField(s string) (find.Field, error) {
	for _, f := range []find.Field{find.Comments, find.Paths, find.Diff} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, invalidArgs("invalid --field %q: expected comments, paths or diff", s)
}

func searchFlag(regex, exact bool) find.Flag {
	switch {
	case regex:
		return find.Regex
	case exact:
		return find.Exact
	}
	return find.IgnoreCase
}

func runFind(cmd *cobra.Command, args []string) error {
	field, err := parseField(findField)
	if err != nil {
		return err
	}
	flag := searchFlag(findRegex, findExact)
	if _, err := find.Compile(args[0], flag); err != nil {
		return err
	}

	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	since, err := parseSince(findSince, ws.cfg.Composite.Since(time.Now()), time.Now())
	if err != nil {
		return err
	}
	snap, err := loadHistory(ctx, ws, findBranch, since)
	if err != nil {
		return err
	}

	s := ws.newSession(ctx)
	defer s.stop()
	searcher := find.NewSearcher(ws.git, ws.root(), find.Options{
		Codec:      ws.codec,
		Dispatcher: s.loop,
		DiffOpts:   ws.diffOptions(),
		Logger:     ws.logger,
	})

	out := cmd.OutOrStdout()
	width := terminalWidth(out)
	hits := 0
	for from := 0; from < snap.Len(); {
		row, err := searchFrom(ctx, searcher, snap, find.Param{
			From:    from,
			To:      snap.Len() - 1,
			Pattern: args[0],
			Field:   field,
			Flag:    flag,
		})
		if err != nil {
			return err
		}
		if row < 0 {
			break
		}
		c, _ := snap.At(row)
		line := formatLogRow(c)
		if width > 0 {
			line = util.TruncateANSI(line, width)
		}
		fmt.Fprintln(out, line)
		hits++
		if findLimit > 0 && hits >= findLimit {
			break
		}
		from = row + 1
	}
	if hits == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No matches.")
	}
	return nil
}

// searchFrom runs one search and returns the matching row, or -1.
func searchFrom(ctx context.Context, s *find.Searcher, snap *composite.Snapshot, p find.Param) (int, error) {
	type outcome struct {
		row   int
		state find.State
	}
	done := make(chan outcome, 1)
	row := -1
	err := s.Find(snap, p, find.Handler{
		Found: func(r int) { row = r },
		Finished: func(st find.State) {
			done <- outcome{row, st}
		},
	})
	if err != nil {
		return -1, err
	}
	select {
	case o := <-done:
		if o.state == find.Canceled {
			return -1, errors.ErrCanceled
		}
		return o.row, nil
	case <-ctx.Done():
		s.Cancel()
		return -1, errors.ErrCanceled
	}
}
