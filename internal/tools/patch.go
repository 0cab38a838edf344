package tools

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// V4A envelope markers.
const (
	beginPatch = "*** Begin Patch"
	endPatch   = "*** End Patch"
	updateFile = "*** Update File: "
	addFile    = "*** Add File: "
	deleteFile = "*** Delete File: "
	moveTo     = "*** Move to: "
	endOfFile  = "*** End of File"
)

// Op is the action of one file section.
type Op int

const (
	OpUpdate Op = iota
	OpAdd
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	}
	return "update"
}

// Hunk is one context-and-replace block of an update.
type Hunk struct {
	// Header is the text after @@, used to locate the hunk.
	Header string
	// Old holds the context and removed lines, New the context and added
	// lines, both in file order.
	Old []string
	New []string
	// AtEOF anchors the hunk to the end of the file.
	AtEOF bool
}

// FileChange is one file section of a patch.
type FileChange struct {
	Op     Op
	Path   string
	MoveTo string
	Hunks  []Hunk
	// Content is the body of an added file.
	Content string
}

// Patch is a parsed V4A patch.
type Patch struct {
	Changes []FileChange
}

// ParsePatch parses a V4A patch envelope.
func ParsePatch(text string) (*Patch, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) || strings.TrimSpace(lines[start]) != beginPatch {
		return nil, errors.NewValidationError("patch must start with " + beginPatch).WithField("input")
	}
	if strings.TrimSpace(lines[len(lines)-1]) != endPatch {
		return nil, errors.NewValidationError("patch must end with " + endPatch).WithField("input")
	}
	lines = lines[start+1 : len(lines)-1]

	p := &Patch{}
	var cur *FileChange
	var hunk *Hunk
	flushHunk := func() {
		if cur != nil && hunk != nil && (len(hunk.Old) > 0 || len(hunk.New) > 0 || hunk.Header != "") {
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			p.Changes = append(p.Changes, *cur)
		}
		cur = nil
	}

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, updateFile):
			flushFile()
			cur = &FileChange{Op: OpUpdate, Path: strings.TrimSpace(line[len(updateFile):])}
			continue
		case strings.HasPrefix(line, addFile):
			flushFile()
			cur = &FileChange{Op: OpAdd, Path: strings.TrimSpace(line[len(addFile):])}
			continue
		case strings.HasPrefix(line, deleteFile):
			flushFile()
			cur = &FileChange{Op: OpDelete, Path: strings.TrimSpace(line[len(deleteFile):])}
			continue
		}

		if cur == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, patchSyntax(i, "expected a file section", line)
		}
		if cur.Path == "" {
			return nil, patchSyntax(i, "file section has no path", line)
		}

		switch cur.Op {
		case OpDelete:
			if strings.TrimSpace(line) != "" {
				return nil, patchSyntax(i, "delete section takes no body", line)
			}

		case OpAdd:
			if !strings.HasPrefix(line, "+") {
				return nil, patchSyntax(i, "added file lines must start with +", line)
			}
			cur.Content += line[1:] + "\n"

		case OpUpdate:
			switch {
			case strings.HasPrefix(line, moveTo):
				if hunk != nil || len(cur.Hunks) > 0 {
					return nil, patchSyntax(i, "move must precede the hunks", line)
				}
				cur.MoveTo = strings.TrimSpace(line[len(moveTo):])
			case strings.HasPrefix(line, "@@"):
				flushHunk()
				hunk = &Hunk{Header: strings.TrimSpace(strings.TrimPrefix(line, "@@"))}
			case strings.TrimSpace(line) == endOfFile:
				if hunk == nil {
					return nil, patchSyntax(i, "end of file marker outside a hunk", line)
				}
				hunk.AtEOF = true
				flushHunk()
			default:
				if hunk == nil {
					hunk = &Hunk{}
				}
				if line == "" {
					// Editors strip the lone space of empty context lines.
					line = " "
				}
				body := line[1:]
				switch line[0] {
				case ' ':
					hunk.Old = append(hunk.Old, body)
					hunk.New = append(hunk.New, body)
				case '-':
					hunk.Old = append(hunk.Old, body)
				case '+':
					hunk.New = append(hunk.New, body)
				default:
					return nil, patchSyntax(i, "hunk lines must start with space, - or +", line)
				}
			}
		}
	}
	flushFile()

	if len(p.Changes) == 0 {
		return nil, errors.NewValidationError("patch has no file sections").WithField("input")
	}
	for _, c := range p.Changes {
		if c.Op == OpUpdate && len(c.Hunks) == 0 && c.MoveTo == "" {
			return nil, errors.NewValidationError("update has no hunks").WithField("input").WithValue(c.Path)
		}
	}
	return p, nil
}

func patchSyntax(i int, reason, line string) error {
	return errors.NewValidationError(fmt.Sprintf("line %d: %s", i+2, reason)).WithField("input").WithValue(line)
}

// FileSummary reports the effect of a patch on one file.
type FileSummary struct {
	Op      Op
	Path    string
	MovedTo string
	Added   int
	Removed int
}

func (s FileSummary) String() string {
	name := s.Path
	if s.MovedTo != "" {
		name += " -> " + s.MovedTo
	}
	var tag string
	switch s.Op {
	case OpAdd:
		tag = "A"
	case OpDelete:
		tag = "D"
	default:
		tag = "M"
	}
	return fmt.Sprintf("%s %s (+%d -%d)", tag, name, s.Added, s.Removed)
}

// ApplyResult lists the files a patch touched, in patch order.
type ApplyResult struct {
	Files []FileSummary
}

func (r ApplyResult) String() string {
	var sb strings.Builder
	sb.WriteString("Done!")
	for _, f := range r.Files {
		sb.WriteString("\n")
		sb.WriteString(f.String())
	}
	return sb.String()
}

// pendingWrite is a computed file state, written only after every section
// of the patch applied cleanly.
type pendingWrite struct {
	path    string
	data    string
	mode    os.FileMode
	remove  bool
	summary *FileSummary
}

// ApplyPatch applies p to fs. root is the directory the root of fs
// stands for, fs.Root() when empty. Relative paths are relative to it and
// absolute paths must lie under it. The patch is applied in memory first,
// so a failing section leaves every file untouched.
func ApplyPatch(fs billy.Filesystem, root string, p *Patch) (ApplyResult, error) {
	if root == "" {
		root = fs.Root()
	}
	var writes []pendingWrite
	var res ApplyResult
	// Later sections see the results of earlier ones.
	staged := make(map[string]*string)

	read := func(name string) (string, os.FileMode, bool, error) {
		if s, ok := staged[name]; ok {
			if s == nil {
				return "", 0, false, nil
			}
			return *s, 0o644, true, nil
		}
		fi, err := fs.Stat(name)
		if err != nil {
			if os.IsNotExist(err) {
				return "", 0, false, nil
			}
			return "", 0, false, err
		}
		if fi.IsDir() {
			return "", 0, false, errors.NewValidationError("path is a directory").WithField("path").WithValue(name)
		}
		data, err := util.ReadFile(fs, name)
		if err != nil {
			return "", 0, false, err
		}
		return string(data), fi.Mode().Perm(), true, nil
	}

	for _, c := range p.Changes {
		name, err := cleanPath(root, c.Path)
		if err != nil {
			return ApplyResult{}, err
		}
		old, mode, exists, err := read(name)
		if err != nil {
			return ApplyResult{}, err
		}
		sum := FileSummary{Op: c.Op, Path: name}

		switch c.Op {
		case OpAdd:
			if exists {
				return ApplyResult{}, errors.NewValidationError("file to add already exists").WithField("path").WithValue(name)
			}
			sum.Added, sum.Removed = lineDelta("", c.Content)
			writes = append(writes, pendingWrite{path: name, data: c.Content, mode: 0o644})
			staged[name] = &c.Content

		case OpDelete:
			if !exists {
				return ApplyResult{}, errors.NewNotFoundError("file", name)
			}
			sum.Added, sum.Removed = lineDelta(old, "")
			writes = append(writes, pendingWrite{path: name, remove: true})
			staged[name] = nil

		case OpUpdate:
			if !exists {
				return ApplyResult{}, errors.NewNotFoundError("file", name)
			}
			updated, err := applyHunks(name, old, c.Hunks)
			if err != nil {
				return ApplyResult{}, err
			}
			sum.Added, sum.Removed = lineDelta(old, updated)
			target := name
			if c.MoveTo != "" {
				if target, err = cleanPath(root, c.MoveTo); err != nil {
					return ApplyResult{}, err
				}
				if _, _, taken, err := read(target); err != nil {
					return ApplyResult{}, err
				} else if taken && target != name {
					return ApplyResult{}, errors.NewValidationError("move target already exists").WithField("path").WithValue(target)
				}
				sum.MovedTo = target
			}
			writes = append(writes, pendingWrite{path: target, data: updated, mode: mode})
			staged[target] = &updated
			if target != name {
				writes = append(writes, pendingWrite{path: name, remove: true})
				staged[name] = nil
			}
		}
		res.Files = append(res.Files, sum)
	}

	for _, w := range writes {
		if w.remove {
			if err := fs.Remove(w.path); err != nil && !os.IsNotExist(err) {
				return res, err
			}
			continue
		}
		if dir := path.Dir(w.path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return res, err
			}
		}
		if err := util.WriteFile(fs, w.path, []byte(w.data), w.mode); err != nil {
			return res, err
		}
	}
	return res, nil
}

// cleanPath turns a patch path into a slash path relative to root.
// Absolute paths are resolved against root. Paths escaping root are
// refused.
func cleanPath(root, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.NewValidationError("empty path").WithField("path")
	}
	if filepath.IsAbs(p) || path.IsAbs(filepath.ToSlash(p)) {
		rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
		if err != nil {
			return "", errors.NewValidationError("path is outside the repository").WithField("path").WithValue(p)
		}
		p = rel
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.NewValidationError("path escapes the repository").WithField("path").WithValue(p)
	}
	return p, nil
}

// applyHunks applies hunks in order to content. Each hunk is searched for
// after the previous one.
func applyHunks(name, content string, hunks []Hunk) (string, error) {
	lines, trailingNL := splitLines(content)
	out := make([]string, 0, len(lines))
	cursor := 0

	for i, h := range hunks {
		if h.Header != "" {
			at := -1
			for j := cursor; j < len(lines); j++ {
				if strings.Contains(lines[j], h.Header) {
					at = j
					break
				}
			}
			if at < 0 {
				return "", errors.NewPatchConflictError(name, i, h.Header)
			}
			if len(h.Old) > 0 && matchAt(lines, at, h.Old) {
				// The header is the first context line itself.
				at--
			}
			out = append(out, lines[cursor:at+1]...)
			cursor = at + 1
		}

		if len(h.Old) == 0 {
			if h.Header == "" || h.AtEOF {
				out = append(out, lines[cursor:]...)
				cursor = len(lines)
			}
			out = append(out, h.New...)
			continue
		}

		pos := -1
		if h.AtEOF {
			if at := len(lines) - len(h.Old); at >= cursor && matchAt(lines, at, h.Old) {
				pos = at
			}
		} else {
			for j := cursor; j+len(h.Old) <= len(lines); j++ {
				if matchAt(lines, j, h.Old) {
					pos = j
					break
				}
			}
		}
		if pos < 0 {
			return "", errors.NewPatchConflictError(name, i, firstMismatch(lines, cursor, h.Old))
		}
		out = append(out, lines[cursor:pos]...)
		out = append(out, h.New...)
		cursor = pos + len(h.Old)
	}
	out = append(out, lines[cursor:]...)

	result := strings.Join(out, "\n")
	if len(out) > 0 && (trailingNL || content == "") {
		result += "\n"
	}
	return result, nil
}

func matchAt(lines []string, at int, want []string) bool {
	if at < 0 || at+len(want) > len(lines) {
		return false
	}
	for k, w := range want {
		if lines[at+k] != w {
			return false
		}
	}
	return true
}

// firstMismatch returns the first line of want that fails to match at the
// position where the longest prefix of want does match.
func firstMismatch(lines []string, from int, want []string) string {
	best := 0
	for j := from; j < len(lines); j++ {
		n := 0
		for n < len(want) && j+n < len(lines) && lines[j+n] == want[n] {
			n++
		}
		if n > best {
			best = n
		}
	}
	if best >= len(want) {
		best = len(want) - 1
	}
	return want[best]
}

func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n"), trailing
}

// lineDelta counts added and removed lines between a and b.
func lineDelta(a, b string) (added, removed int) {
	dmp := diffmatchpatch.New()
	ca, cb, lineArray := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lineArray)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
