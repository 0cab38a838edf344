package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/composite"
	"github.com/timxx/qgitc-sub000/internal/diff"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/patchview"
)

// runShow handles `qgitc <sha>`.
func runShow(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	finder, err := newCommitFinder(ctx, ws)
	if err != nil {
		return err
	}
	c, err := finder.find(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return writeCommit(ctx, ws, out, c, finder.subject(), terminalWidth(out))
}

// commitFinder looks up commits by id prefix. The composite history is
// searched first so that the same change in other repositories comes
// along; older commits are looked up in each repository directly.
type commitFinder struct {
	ws   *workspace
	snap *composite.Snapshot
}

func newCommitFinder(ctx context.Context, ws *workspace) (*commitFinder, error) {
	snap, err := loadHistory(ctx, ws, "", ws.cfg.Composite.Since(time.Now()))
	if err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		ws.logger.Debug("composite history unavailable", "error", err.Error())
	}
	return &commitFinder{ws: ws, snap: snap}, nil
}

// find returns the commit whose id starts with prefix.
func (f *commitFinder) find(ctx context.Context, prefix string) (*commit.Commit, error) {
	if f.snap != nil {
		if i := f.snap.FindCommitIndex(prefix, 0, composite.Forward); i >= 0 {
			c, _ := f.snap.At(i)
			if c.HasPrefix(prefix) {
				return c, nil
			}
			// A sub-commit matched; it stands on its own.
			for _, sub := range c.SubCommits {
				if sub.HasPrefix(prefix) {
					return sub, nil
				}
			}
			return c, nil
		}
	}

	for _, repoDir := range f.ws.repos {
		fetcher := commit.NewFetcher(f.ws.git, commit.Options{Codec: f.ws.codec, Logger: f.ws.logger})
		err := fetcher.Fetch(ctx, commit.Request{
			Dir:      f.ws.dir(repoDir),
			RepoDir:  repoDir,
			Revs:     []string{prefix},
			MaxCount: 1,
		}, commit.Callbacks{})
		if err != nil {
			f.ws.logger.Debug("commit not in repository", "repo", repoDir, "sha1", prefix)
			continue
		}
		if c := fetcher.At(0); c != nil {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("commit", prefix)
}

// subject resolves parent and child subjects from the loaded history.
func (f *commitFinder) subject() func(string) string {
	if f.snap == nil {
		return nil
	}
	return snapshotSubjects(f.snap)
}

func snapshotSubjects(snap *composite.Snapshot) func(string) string {
	return func(sha1 string) string {
		if i := snap.IndexOf(sha1); i >= 0 {
			c, _ := snap.At(i)
			return c.Subject
		}
		return ""
	}
}

// writeCommit renders the header and patch of c, followed by the patches
// of its sub-commits.
func writeCommit(ctx context.Context, ws *workspace, w io.Writer, c *commit.Commit, subject func(string) string, width int) error {
	view := patchview.NewModel(patchview.Options{})
	view.AppendLines(patchview.CommitHeader(c, patchview.HeaderOptions{
		Subject:       subject,
		ShowCommitter: true,
	}))

	fetcher := diff.NewFetcher(ws.git, diff.FetcherOptions{Codec: ws.codec, Logger: ws.logger})
	sink := func(items []diff.LineItem) { view.AppendLines(items) }
	if err := fetcher.FetchCommit(ctx, ws.dir(c.RepoDir), c.SHA1, nil, ws.diffOptions(), sink); err != nil {
		return err
	}
	for _, sub := range c.SubCommits {
		view.AppendLines([]diff.LineItem{
			diff.NewLineItem(diff.LineFile, "Repository: "+sub.RepoDir+" "+sub.ShortSHA1(10)),
		})
		if err := fetcher.FetchCommit(ctx, ws.dir(sub.RepoDir), sub.SHA1, nil, ws.diffOptions(), sink); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, view.Render(0, view.LineCount(), patchview.RenderOptions{Width: width}))
	return err
}
