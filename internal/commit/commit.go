// Package commit models commits and parses the streaming output of
// `git log -z`.
//
// A [Parser] consumes bytes as they arrive and keeps a cursor across partial
// reads, so a record split over several chunks (even inside a multi-byte
// character) is reassembled before it is decoded. A [Fetcher] runs git log
// through a git.Runner, keeps the raw records and materializes commits on
// first access.
package commit

import (
	"strings"
	"time"
)

// Sentinel SHA-1 values for the pseudo commits shown above HEAD. They are
// not hex so they can never collide with a real object id.
const (
	// LUCSHA1 represents local uncommitted changes in the work tree.
	LUCSHA1 = "LUC_SHA1"
	// LCCSHA1 represents local changes committed to the index.
	LCCSHA1 = "LCC_SHA1"
)

// FieldSep and RecordSep delimit fields and records in LogFormat output.
const (
	FieldSep  = '\x01'
	RecordSep = '\x00'
)

// LogFormat is the --pretty=format string the parser understands.
const LogFormat = "%H%x01%s%x01%B%x01%an <%ae>%x01%aI%x01%cn <%ce>%x01%cI%x01%P"

// Signature identifies an author or committer.
type Signature struct {
	Name  string
	Email string
	When  time.Time
	// Raw is the date exactly as git printed it.
	Raw string
}

// String formats the signature as "Name <email>".
func (s Signature) String() string {
	if s.Email == "" {
		return s.Name
	}
	return s.Name + " <" + s.Email + ">"
}

// Commit is one parsed log record. Commits are not modified after the
// parser returns them, except that composite grouping attaches SubCommits
// and LinkChildren fills Children.
type Commit struct {
	SHA1      string
	Subject   string
	Message   string
	Author    Signature
	Committer Signature
	Parents   []string
	Children  []string
	// RepoDir is the submodule the commit belongs to; "." is the main repo.
	RepoDir string
	// SubCommits are the same logical change in other repositories.
	SubCommits []*Commit

	fields []string
}

// IsValid reports whether the record parsed. Malformed records produce a
// commit with an empty SHA1.
func (c *Commit) IsValid() bool {
	return c != nil && c.SHA1 != ""
}

// Record re-emits the original log fields joined by FieldSep.
func (c *Commit) Record() string {
	return strings.Join(c.fields, string(FieldSep))
}

// ShortLen is the abbreviation length used when commits are displayed.
const ShortLen = 10

// ShortSHA1 returns the first n characters of the SHA-1.
func (c *Commit) ShortSHA1(n int) string {
	if len(c.SHA1) <= n || IsSentinel(c.SHA1) {
		return c.SHA1
	}
	return c.SHA1[:n]
}

// HasPrefix reports whether the commit or any sub-commit SHA-1 starts
// with prefix.
func (c *Commit) HasPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	if strings.HasPrefix(c.SHA1, prefix) {
		return true
	}
	for _, sub := range c.SubCommits {
		if strings.HasPrefix(sub.SHA1, prefix) {
			return true
		}
	}
	return false
}

// IsSentinel reports whether sha1 is LUCSHA1 or LCCSHA1.
func IsSentinel(sha1 string) bool {
	return sha1 == LUCSHA1 || sha1 == LCCSHA1
}

// IsValidSHA1 reports whether s is a 7 to 40 character lowercase hex id.
func IsValidSHA1(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// LinkChildren fills Children from the parent lists of commits.
func LinkChildren(commits []*Commit) {
	index := make(map[string]*Commit, len(commits))
	for _, c := range commits {
		if c.IsValid() {
			c.Children = nil
			index[c.SHA1] = c
		}
	}
	for _, c := range commits {
		if !c.IsValid() {
			continue
		}
		for _, p := range c.Parents {
			if parent, ok := index[p]; ok {
				parent.Children = append(parent.Children, c.SHA1)
			}
		}
	}
}

// NewLocalCommit builds a sentinel commit for local changes on top of head.
func NewLocalCommit(sha1, subject, head, repoDir string) *Commit {
	now := time.Now()
	c := &Commit{
		SHA1:      sha1,
		Subject:   subject,
		Message:   subject,
		Author:    Signature{When: now},
		Committer: Signature{When: now},
		RepoDir:   repoDir,
	}
	if head != "" {
		c.Parents = []string{head}
	}
	return c
}
