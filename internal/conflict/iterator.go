// Package conflict walks the conflicted files of a repository and drives
// their resolution: through git mergetool, through the ours/theirs
// shortcut, or by watching the working tree until the markers are gone.
package conflict

import (
	"bytes"
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/git"
)

// UnmergedArgs lists unmerged index entries, NUL-terminated.
var UnmergedArgs = []string{"ls-files", "-u", "-z"}

// ParseUnmerged returns the distinct paths of `git ls-files -u -z` output
// in listing order. Each record is "<mode> <sha1> <stage>\t<path>".
func ParseUnmerged(data []byte) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	var offset int64
	for rec := range bytes.SplitSeq(data, []byte{0}) {
		start := offset
		offset += int64(len(rec)) + 1
		if len(rec) == 0 {
			continue
		}
		tab := bytes.IndexByte(rec, '\t')
		if tab < 0 {
			return paths, errors.NewParseError("unmerged", start, string(rec))
		}
		p := string(rec[tab+1:])
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// Iterator navigates the conflicted files of one repository. It is safe
// for concurrent use; the resolution watcher marks files from its own
// goroutine.
type Iterator struct {
	repoDir  string
	autoNext bool

	mu       sync.Mutex
	files    []string
	index    int
	resolved map[string]bool
}

// NewIterator creates an iterator over files. With autoNext, resolving the
// current file moves to the next unresolved one.
func NewIterator(repoDir string, files []string, autoNext bool) *Iterator {
	return &Iterator{
		repoDir:  repoDir,
		autoNext: autoNext,
		files:    slices.Clone(files),
		resolved: make(map[string]bool),
	}
}

// Load lists the conflicted files of the repository at dir.
func Load(ctx context.Context, runner git.Runner, dir, repoDir string, autoNext bool) (*Iterator, error) {
	res, err := runner.Run(ctx, git.Request{Dir: dir, Args: UnmergedArgs})
	if err != nil {
		return nil, err
	}
	files, err := ParseUnmerged(res.Stdout)
	if err != nil {
		return nil, err
	}
	return NewIterator(repoDir, files, autoNext), nil
}

// RepoDir returns the repository the files belong to.
func (it *Iterator) RepoDir() string {
	return it.repoDir
}

// Files returns every conflicted file, resolved or not.
func (it *Iterator) Files() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return slices.Clone(it.files)
}

// Len returns the number of files.
func (it *Iterator) Len() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.files)
}

// Current returns the file under the cursor.
func (it *Iterator) Current() (string, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.index < 0 || it.index >= len(it.files) {
		return "", false
	}
	return it.files[it.index], true
}

// Index returns the cursor position.
func (it *Iterator) Index() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.index
}

// First moves to the first file.
func (it *Iterator) First() (string, bool) {
	it.mu.Lock()
	it.index = 0
	it.mu.Unlock()
	return it.Current()
}

// Next moves forward. At the end the cursor stays put and false is
// returned.
func (it *Iterator) Next() (string, bool) {
	it.mu.Lock()
	if it.index+1 >= len(it.files) {
		it.mu.Unlock()
		return "", false
	}
	it.index++
	it.mu.Unlock()
	return it.Current()
}

// Previous moves backward. At the start the cursor stays put and false is
// returned.
func (it *Iterator) Previous() (string, bool) {
	it.mu.Lock()
	if it.index <= 0 {
		it.mu.Unlock()
		return "", false
	}
	it.index--
	it.mu.Unlock()
	return it.Current()
}

// Resolved reports whether path was marked resolved.
func (it *Iterator) Resolved(path string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.resolved[path]
}

// Remaining returns the unresolved files in order.
func (it *Iterator) Remaining() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	var out []string
	for _, f := range it.files {
		if !it.resolved[f] {
			out = append(out, f)
		}
	}
	return out
}

// Done reports whether every file is resolved.
func (it *Iterator) Done() bool {
	return len(it.Remaining()) == 0
}

// MarkResolved records path as resolved. When it is the current file and
// auto-next is on, the cursor moves to the next unresolved file after it,
// wrapping to the start. It reports whether the cursor moved.
func (it *Iterator) MarkResolved(path string) bool {
	path = filepath.ToSlash(path)
	it.mu.Lock()
	defer it.mu.Unlock()
	if !slices.Contains(it.files, path) || it.resolved[path] {
		return false
	}
	it.resolved[path] = true
	if !it.autoNext || it.index >= len(it.files) || it.files[it.index] != path {
		return false
	}
	n := len(it.files)
	for step := 1; step < n; step++ {
		i := (it.index + step) % n
		if !it.resolved[it.files[i]] {
			it.index = i
			return true
		}
	}
	return false
}
