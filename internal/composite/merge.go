package composite

import (
	"slices"

	"github.com/timxx/qgitc-sub000/internal/commit"
)

// groupKey identifies one logical change across repositories.
type groupKey struct {
	date    string
	subject string
	email   string
}

func keyOf(c *commit.Commit) groupKey {
	date := c.Author.Raw
	if !c.Author.When.IsZero() {
		date = c.Author.When.UTC().Format("2006-01-02T15:04:05Z")
	}
	return groupKey{date: date, subject: c.Subject, email: c.Author.Email}
}

type group struct {
	primary *commit.Commit
	repos   map[string]bool
}

// Merge groups the per-repository commit lists into one list ordered by
// descending author date. repos gives the tie-break order; commits of the
// same repository keep git's order. A group takes at most one commit per
// repository, so two matching commits in the same repository stay
// separate entries. Invalid commits are dropped. Primary commits are
// copies with Children linked; the inputs are not modified.
func Merge(repos []string, perRepo map[string][]*commit.Commit) []*commit.Commit {
	byKey := make(map[groupKey][]*group)
	var groups []*group

	for _, repo := range repos {
		for _, c := range perRepo[repo] {
			if !c.IsValid() {
				continue
			}
			k := keyOf(c)
			if g := openGroup(byKey[k], repo); g != nil {
				g.primary.SubCommits = append(g.primary.SubCommits, c)
				g.repos[repo] = true
				continue
			}
			p := *c
			p.SubCommits = nil
			g := &group{primary: &p, repos: map[string]bool{repo: true}}
			byKey[k] = append(byKey[k], g)
			groups = append(groups, g)
		}
	}

	out := make([]*commit.Commit, len(groups))
	for i, g := range groups {
		out[i] = g.primary
	}
	commit.LinkChildren(out)
	slices.SortStableFunc(out, func(a, b *commit.Commit) int {
		return b.Author.When.Compare(a.Author.When)
	})
	return out
}

func openGroup(gs []*group, repo string) *group {
	for _, g := range gs {
		if !g.repos[repo] {
			return g
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Snapshot
// ----------------------------------------------------------------------------

// Direction is the scan direction of FindCommitIndex.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Snapshot is an immutable composite list.
type Snapshot struct {
	ID      uint64
	Commits []*commit.Commit
}

// Len returns the number of commits.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Commits)
}

// At returns commit i.
func (s *Snapshot) At(i int) (*commit.Commit, bool) {
	if s == nil || i < 0 || i >= len(s.Commits) {
		return nil, false
	}
	return s.Commits[i], true
}

// FindCommitIndex returns the index of the first commit, scanning from
// start in dir, whose SHA-1 or sub-commit SHA-1 starts with prefix. The
// match is case-sensitive. It returns -1 when nothing matches.
func (s *Snapshot) FindCommitIndex(prefix string, start int, dir Direction) int {
	if s == nil || prefix == "" || len(s.Commits) == 0 {
		return -1
	}
	step := 1
	if dir == Backward {
		step = -1
	}
	for i := max(0, min(start, len(s.Commits)-1)); i >= 0 && i < len(s.Commits); i += step {
		if s.Commits[i].HasPrefix(prefix) {
			return i
		}
	}
	return -1
}

// IndexOf returns the index of the commit with exactly sha1, looking at
// sub-commits too.
func (s *Snapshot) IndexOf(sha1 string) int {
	if s == nil {
		return -1
	}
	for i, c := range s.Commits {
		if c.SHA1 == sha1 {
			return i
		}
		for _, sub := range c.SubCommits {
			if sub.SHA1 == sha1 {
				return i
			}
		}
	}
	return -1
}

// ForRepo returns the commit of group i that belongs to repoDir.
func (s *Snapshot) ForRepo(i int, repoDir string) (*commit.Commit, bool) {
	c, ok := s.At(i)
	if !ok {
		return nil, false
	}
	if c.RepoDir == repoDir {
		return c, true
	}
	for _, sub := range c.SubCommits {
		if sub.RepoDir == repoDir {
			return sub, true
		}
	}
	return nil, false
}
