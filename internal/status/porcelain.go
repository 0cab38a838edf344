// Package status collects `git status` across the main repository and its
// submodules.
package status

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// FileStatus is one entry of `git status --porcelain=v1`.
type FileStatus struct {
	RepoDir string
	// Path is repo-relative to RepoDir; for renames it is the new path.
	Path    string
	OldPath string
	// X is the index status, Y the work tree status.
	X byte
	Y byte
}

// Code returns the two-letter status code.
func (f FileStatus) Code() string {
	return string([]byte{f.X, f.Y})
}

// IsStaged reports whether the index differs from HEAD.
func (f FileStatus) IsStaged() bool {
	return f.X != ' ' && f.X != '?' && f.X != '!'
}

// IsUnstaged reports whether the work tree differs from the index,
// including untracked and ignored files.
func (f FileStatus) IsUnstaged() bool {
	return f.Y != ' '
}

// IsUntracked reports "??" entries.
func (f FileStatus) IsUntracked() bool {
	return f.X == '?'
}

// IsIgnored reports "!!" entries.
func (f FileStatus) IsIgnored() bool {
	return f.X == '!'
}

// IsConflicted reports unmerged entries.
func (f FileStatus) IsConflicted() bool {
	switch f.Code() {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// Branch is the parsed "## ..." header.
type Branch struct {
	Name     string
	Upstream string
	Ahead    int
	Behind   int
	// Detached is set for "## HEAD (no branch)".
	Detached bool
	// Unborn is set when the branch has no commits yet.
	Unborn bool
	// Gone is set when the upstream no longer exists.
	Gone bool
}

// RepoStatus is the status of one repository.
type RepoStatus struct {
	RepoDir string
	Branch  Branch
	Files   []FileStatus
}

// ParsePorcelain parses `git status --porcelain=v1 -b` output. Malformed
// lines are skipped; the first one is reported as a ParseError alongside
// the partial result.
func ParsePorcelain(repoDir string, data []byte) (*RepoStatus, error) {
	rs := &RepoStatus{RepoDir: repoDir}

	var firstErr error
	var offset int64
	for len(data) > 0 {
		line := data
		next := len(data)
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			next = i + 1
		}
		data = data[next:]
		lineOffset := offset
		offset += int64(next)

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}

		if bytes.HasPrefix(line, []byte("## ")) {
			rs.Branch = parseBranch(string(line[3:]))
			continue
		}

		fs, ok := parseFileLine(repoDir, string(line))
		if !ok {
			if firstErr == nil {
				firstErr = errors.NewParseError("status", lineOffset, string(line))
			}
			continue
		}
		rs.Files = append(rs.Files, fs)
	}
	return rs, firstErr
}

func parseFileLine(repoDir, line string) (FileStatus, bool) {
	if len(line) < 4 || line[2] != ' ' {
		return FileStatus{}, false
	}
	fs := FileStatus{RepoDir: repoDir, X: line[0], Y: line[1]}
	rest := line[3:]

	if fs.X == 'R' || fs.X == 'C' || fs.Y == 'R' || fs.Y == 'C' {
		if from, to, ok := splitRename(rest); ok {
			fs.OldPath = unquote(from)
			fs.Path = unquote(to)
			return fs, fs.Path != ""
		}
	}
	fs.Path = unquote(rest)
	return fs, fs.Path != ""
}

// splitRename splits `orig -> new`, honoring quoted names.
func splitRename(s string) (string, string, bool) {
	if strings.HasPrefix(s, `"`) {
		if end := closingQuote(s); end > 0 {
			from := s[:end+1]
			to, ok := strings.CutPrefix(s[end+1:], " -> ")
			return from, to, ok
		}
	}
	return strings.Cut(s, " -> ")
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// unquote decodes git's C-style quoting of unusual paths.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

func parseBranch(s string) Branch {
	var b Branch

	for _, prefix := range []string{"No commits yet on ", "Initial commit on "} {
		if name, ok := strings.CutPrefix(s, prefix); ok {
			b.Name = name
			b.Unborn = true
			return b
		}
	}
	if strings.HasPrefix(s, "HEAD (no branch)") {
		b.Name = "HEAD"
		b.Detached = true
		return b
	}

	head, tracking, _ := strings.Cut(s, " [")
	tracking = strings.TrimSuffix(tracking, "]")

	b.Name, b.Upstream, _ = strings.Cut(head, "...")
	for _, part := range strings.Split(tracking, ", ") {
		switch {
		case part == "gone":
			b.Gone = true
		case strings.HasPrefix(part, "ahead "):
			b.Ahead, _ = strconv.Atoi(strings.TrimPrefix(part, "ahead "))
		case strings.HasPrefix(part, "behind "):
			b.Behind, _ = strconv.Atoi(strings.TrimPrefix(part, "behind "))
		}
	}
	return b
}
