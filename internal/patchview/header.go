package patchview

import (
	"strings"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/diff"
)

// DateLayout formats dates in the commit header.
const DateLayout = "2006-01-02 15:04:05 -0700"

// HeaderOptions configures CommitHeader.
type HeaderOptions struct {
	// Branches lists the branches containing the commit.
	Branches []string
	// Subject looks up the subject of a parent or child. Nil shows ids only.
	Subject func(sha1 string) string
	// ShowCommitter adds a Committer line when it differs from the author.
	ShowCommitter bool
}

// CommitHeader builds the lines shown above a commit's diff: author,
// parents, children, branches, sub-commits of other repositories and the
// message.
func CommitHeader(c *commit.Commit, opts HeaderOptions) []diff.LineItem {
	var out []diff.LineItem
	add := func(t diff.LineType, text string) {
		out = append(out, diff.NewLineItem(t, text))
	}

	add(diff.LineAuthor, "Author: "+signature(c.Author))
	if opts.ShowCommitter && c.Committer.String() != c.Author.String() {
		add(diff.LineAuthorLink, "Committer: "+signature(c.Committer))
	}
	for _, p := range c.Parents {
		add(diff.LineParent, "Parent: "+related(p, opts.Subject))
	}
	for _, ch := range c.Children {
		add(diff.LineChild, "Child: "+related(ch, opts.Subject))
	}
	if len(opts.Branches) > 0 {
		add(diff.LineBranch, "Branch: "+strings.Join(opts.Branches, ", "))
	}
	for _, sub := range c.SubCommits {
		add(diff.LineSHA1Link, "Commit: "+sub.SHA1+" ("+repoName(sub.RepoDir)+")")
	}

	add(diff.LineComments, "Comments:")
	msg := strings.TrimRight(c.Message, "\n")
	if msg == "" {
		msg = c.Subject
	}
	for line := range strings.SplitSeq(msg, "\n") {
		add(diff.LineSummary, strings.TrimRight(line, "\r"))
	}
	add(diff.LineNormal, "")
	return out
}

func signature(s commit.Signature) string {
	out := s.String()
	if !s.When.IsZero() {
		out += " " + s.When.Format(DateLayout)
	} else if s.Raw != "" {
		out += " " + s.Raw
	}
	return out
}

func related(sha1 string, subject func(string) string) string {
	if subject == nil {
		return sha1
	}
	if s := subject(sha1); s != "" {
		return sha1 + " (" + s + ")"
	}
	return sha1
}

func repoName(dir string) string {
	if dir == "" || dir == "." {
		return "main repository"
	}
	return dir
}
