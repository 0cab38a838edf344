package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/composite"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/tui"
	"github.com/timxx/qgitc-sub000/internal/util"
)

var logCmd = &cobra.Command{
	Use:   "log [<path>]",
	Short: "Show the composite history of a repository and its submodules",
	Long: `Show the history of the repository containing <path> (default: the
current directory) merged with the history of its submodules. Commits made
at the same time with the same subject in several repositories are shown
once, with the number of other repositories appended.

Examples:
  # Print the last 90 days of history
  qgitc log

  # Browse interactively
  qgitc log --tui

  # Another branch, since a date
  qgitc log --branch release --since 2024-01-01`,
	Args: rangeArgs(0, 1),
	RunE: runLog,
}

var (
	logTUI      bool
	logBranch   string
	logSince    string
	logMaxCount int
	logRefresh  bool
)

var (
	logSHAStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	logMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logBadgeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().BoolVarP(&logTUI, "tui", "t", false, "Open the interactive log browser")
	logCmd.Flags().StringVarP(&logBranch, "branch", "b", "", "Branch to show (default: HEAD)")
	logCmd.Flags().StringVar(&logSince, "since", "", "Oldest commit date: YYYY-MM-DD, <n>d, a duration, or 'all' (default: composite.days_since)")
	logCmd.Flags().IntVarP(&logMaxCount, "max-count", "n", 0, "Number of commits to print (0 for all)")
	logCmd.Flags().BoolVar(&logRefresh, "refresh", false, "Enumerate submodules again instead of using the cache")
}

func runLog(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && repoPath == "" {
		repoPath = args[0]
	}
	if _, err := parseSince(logSince, time.Time{}, time.Now()); err != nil {
		return err
	}
	ws, err := openWorkspace(workspaceOptions{Refresh: logRefresh})
	if err != nil {
		return err
	}
	defer ws.Close()

	since, err := parseSince(logSince, ws.cfg.Composite.Since(time.Now()), time.Now())
	if err != nil {
		return err
	}

	if logTUI {
		app, err := tui.New(tui.Options{
			Runner:      ws.git,
			Root:        ws.root(),
			Repos:       ws.repos,
			Branch:      logBranch,
			Since:       since,
			Codec:       ws.codec,
			DiffOptions: ws.diffOptions(),
			Logger:      ws.logger,
		})
		if err != nil {
			return err
		}
		return app.Run()
	}

	snap, err := loadHistory(cmd.Context(), ws, logBranch, since)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), snap, logMaxCount, terminalWidth(cmd.OutOrStdout()))
	return nil
}

// parseSince interprets the --since flag. An empty value yields def.
func parseSince(value string, def, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return def, nil
	case value == "all":
		return time.Time{}, nil
	case strings.HasSuffix(value, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days < 0 {
			return time.Time{}, invalidArgs("invalid --since %q", value)
		}
		return now.AddDate(0, 0, -days), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, invalidArgs("invalid --since %q: expected YYYY-MM-DD, <n>d or a duration", value)
	}
	return now.Add(-d), nil
}

// loadHistory loads the composite history of every repository of ws.
func loadHistory(ctx context.Context, ws *workspace, branch string, since time.Time) (*composite.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop, stop := ws.startLoop(ctx)
	defer stop()

	exec := executor.New(loop, executor.Options{Logger: ws.logger})
	src := composite.NewSource(ws.git, exec, ws.root(), ws.repos, composite.Options{
		Codec:  ws.codec,
		Logger: ws.logger,
	})

	type loaded struct {
		snap *composite.Snapshot
		err  error
	}
	done := make(chan loaded, 1)
	src.Load(ctx, branch, since, composite.Handler{
		Finished: func(snap *composite.Snapshot, err error) {
			done <- loaded{snap, err}
		},
	})

	select {
	case r := <-done:
		if r.snap == nil && r.err == nil {
			return nil, errors.ErrCanceled
		}
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// printHistory writes one row per composite commit.
func printHistory(w io.Writer, snap *composite.Snapshot, limit, width int) {
	n := snap.Len()
	if limit > 0 {
		n = min(n, limit)
	}
	for i := range n {
		c, _ := snap.At(i)
		row := formatLogRow(c)
		if width > 0 {
			row = util.TruncateANSI(row, width)
		}
		fmt.Fprintln(w, row)
	}
}

func formatLogRow(c *commit.Commit) string {
	date := ""
	if !c.Author.When.IsZero() {
		date = c.Author.When.Format("2006-01-02")
	}
	row := fmt.Sprintf("%s %s %s %s",
		logSHAStyle.Render(c.ShortSHA1(10)),
		logMutedStyle.Render(date),
		c.Author.Name,
		c.Subject)
	if len(c.SubCommits) > 0 {
		repos := make([]string, 0, len(c.SubCommits))
		for _, sub := range c.SubCommits {
			repos = append(repos, sub.RepoDir)
		}
		row += logBadgeStyle.Render(" [" + strings.Join(repos, ", ") + "]")
	}
	if c.RepoDir != "." && c.RepoDir != "" {
		row += logMutedStyle.Render(" (" + c.RepoDir + ")")
	}
	return row
}
