package diff

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

var (
	reDiffHeader = regexp.MustCompile(`^diff --(git a/(.*) b/(.*)|cc (.*)|combined (.*))$`)
	reHunk       = regexp.MustCompile(`^(@{2,}) -\d+(?:,\d+)?`)
	reIndex      = regexp.MustCompile(`^index [0-9a-f]+(?:,[0-9a-f]+)*\.\.[0-9a-f]+`)
	reFileMode   = regexp.MustCompile(`^(new|deleted) file mode [0-7]+`)
	reRename     = regexp.MustCompile(`^rename (from|to) (.*)$`)
	reBinary     = regexp.MustCompile(`^Binary files .* and .* differ`)
	reSubmodule  = regexp.MustCompile(`^Submodule (\S+) (?:([0-9a-f]+)\.\.\.?([0-9a-f]+)|contains)?`)
)

// headerInfoPrefixes are extended header lines kept as Info lines.
var headerInfoPrefixes = []string{
	"index ",
	"new file mode ",
	"deleted file mode ",
	"old mode ",
	"new mode ",
	"similarity index ",
	"dissimilarity index ",
	"rename from ",
	"rename to ",
	"copy from ",
	"copy to ",
}

const noNewlineMarker = `\ No newline at end of file`

type classifierState int

const (
	stateNone classifierState = iota
	stateHeader
	stateHunk
	stateSubmodule
)

// Classifier turns diff bytes into LineItems. Header lines of a file
// section are held back until the section's first hunk (or the next
// section) so that the FileInfo line is emitted with its final state.
// It is not safe for concurrent use.
type Classifier struct {
	sticky *textcodec.Sticky

	buf []byte
	row int

	state    classifierState
	file     *FileInfo
	held     []LineItem
	modified bool
}

// NewClassifier creates a Classifier. A nil codec decodes UTF-8 with lossy
// replacement.
func NewClassifier(codec *textcodec.Codec) *Classifier {
	return &Classifier{sticky: textcodec.NewSticky(codec)}
}

// ResetRow sets the absolute row assigned to the next emitted line.
func (c *Classifier) ResetRow(n int) {
	c.row = n
}

// Row returns the absolute row of the next emitted line.
func (c *Classifier) Row() int {
	return c.row
}

// Feed consumes chunk and returns the lines it completes.
func (c *Classifier) Feed(chunk []byte) []LineItem {
	c.buf = append(c.buf, chunk...)

	var out []LineItem
	start := 0
	for {
		i := bytes.IndexByte(c.buf[start:], '\n')
		if i < 0 {
			break
		}
		out = c.classify(c.buf[start:start+i], out)
		start += i + 1
	}
	if start > 0 {
		n := copy(c.buf, c.buf[start:])
		c.buf = c.buf[:n]
	}
	return out
}

// Flush classifies an unterminated last line and releases held header
// lines. The classifier is ready for a new stream afterwards; the row
// counter is kept.
func (c *Classifier) Flush() []LineItem {
	var out []LineItem
	if len(c.buf) > 0 {
		out = c.classify(c.buf, out)
		c.buf = c.buf[:0]
	}
	out = c.endHeader(out)
	c.state = stateNone
	c.file = nil
	return out
}

// Discard drops buffered bytes and any held header.
func (c *Classifier) Discard() {
	c.buf = c.buf[:0]
	c.held = nil
	c.file = nil
	c.state = stateNone
}

func (c *Classifier) classify(raw []byte, out []LineItem) []LineItem {
	line := bytes.Clone(raw)

	if bytes.HasPrefix(line, []byte("diff --")) {
		if m := reDiffHeader.FindSubmatch(line); m != nil {
			out = c.endHeader(out)
			c.beginFile(m)
			return out
		}
	}

	switch c.state {
	case stateHeader:
		return c.classifyHeader(line, out)
	case stateHunk:
		if reHunk.Match(line) {
			return c.emitHunk(line, out)
		}
		if isBodyLine(line, c.file) {
			return c.emitBody(line, out)
		}
	case stateSubmodule:
		if len(line) > 2 && line[0] == ' ' && line[1] == ' ' {
			return c.emit(LineItem{Type: LineDiff, Raw: line}, out)
		}
	}

	if m := reSubmodule.FindSubmatch(line); m != nil {
		out = c.endHeader(out)
		return c.beginSubmodule(line, m, out)
	}
	if reHunk.Match(line) && c.file != nil {
		return c.emitHunk(line, out)
	}
	return c.emit(LineItem{Type: LineNormal, Raw: line}, out)
}

func (c *Classifier) beginFile(m [][]byte) {
	c.sticky.Reset()
	f := &FileInfo{State: StateNormal}
	switch {
	case m[4] != nil:
		f.Path = c.sticky.String(m[4])
		f.Combined = true
		f.Parents = 2
	case m[5] != nil:
		f.Path = c.sticky.String(m[5])
		f.Combined = true
		f.Parents = 2
	default:
		oldPath := c.sticky.String(m[2])
		f.Path = c.sticky.String(m[3])
		if oldPath != f.Path {
			f.OldPath = oldPath
		}
	}
	c.file = f
	c.held = nil
	c.modified = false
	c.state = stateHeader
}

func (c *Classifier) classifyHeader(line []byte, out []LineItem) []LineItem {
	text := string(line)

	switch {
	case reHunk.Match(line):
		return c.emitHunk(line, out)
	case reBinary.Match(line):
		c.file.Binary = true
		c.modified = true
		out = c.endHeader(out)
		c.state = stateNone
		return c.emit(LineItem{Type: LineInfo, Raw: line}, out)
	case strings.HasPrefix(text, "--- ") || strings.HasPrefix(text, "+++ "):
		return out
	}

	if m := reFileMode.FindStringSubmatch(text); m != nil {
		if m[1] == "new" {
			c.file.State = StateAdded
		} else {
			c.file.State = StateDeleted
		}
	} else if m := reRename.FindSubmatch(line); m != nil {
		if c.file.State == StateNormal || c.file.State == StateModified {
			c.file.State = StateRenamed
		}
		if string(m[1]) == "from" {
			c.file.OldPath = c.sticky.String(m[2])
		} else {
			c.file.Path = c.sticky.String(m[2])
		}
	} else if reIndex.Match(line) {
		c.modified = true
	} else if strings.HasPrefix(text, "dissimilarity index ") {
		c.modified = true
	} else if strings.HasPrefix(text, "similarity index ") && !strings.HasSuffix(text, " 100%") {
		c.modified = true
	} else if !hasAnyPrefix(text, headerInfoPrefixes) {
		// Not an extended header: the header ended without a hunk.
		out = c.endHeader(out)
		c.state = stateNone
		return c.emit(LineItem{Type: LineNormal, Raw: line}, out)
	}

	c.held = append(c.held, LineItem{Type: LineInfo, Raw: line, text: c.sticky.String(line)})
	return out
}

func (c *Classifier) beginSubmodule(line []byte, m [][]byte, out []LineItem) []LineItem {
	c.sticky.Reset()
	text := string(line)
	f := &FileInfo{Path: string(m[1]), State: StateModified, Submodule: true}
	switch {
	case strings.HasSuffix(text, "(new submodule)"):
		f.State = StateAdded
	case strings.HasSuffix(text, "(submodule deleted)"):
		f.State = StateDeleted
	}
	c.file = f
	c.state = stateSubmodule
	out = c.emitFile(out)
	return c.emit(LineItem{Type: LineInfo, Raw: line}, out)
}

// endHeader emits the held FileInfo and header lines, if any.
func (c *Classifier) endHeader(out []LineItem) []LineItem {
	if c.state != stateHeader || c.file == nil {
		return out
	}
	if c.modified {
		switch c.file.State {
		case StateNormal:
			c.file.State = StateModified
		case StateRenamed:
			c.file.State = StateRenamedModified
		}
	}
	out = c.emitFile(out)
	for _, item := range c.held {
		out = c.emit(item, out)
	}
	c.held = nil
	c.state = stateNone
	return out
}

func (c *Classifier) emitFile(out []LineItem) []LineItem {
	c.file.Row = c.row
	return c.emit(LineItem{Type: LineFileInfo, Raw: []byte(c.file.Path), text: c.file.Path, File: c.file}, out)
}

func (c *Classifier) emitHunk(line []byte, out []LineItem) []LineItem {
	if c.state == stateHeader {
		c.modified = true
		out = c.endHeader(out)
	}
	parents := 0
	if m := reHunk.FindSubmatch(line); m != nil && len(m[1]) > 2 {
		parents = len(m[1]) - 1
		if c.file != nil {
			c.file.Parents = parents
		}
	}
	c.state = stateHunk
	return c.emit(LineItem{Type: LineHunk, Raw: line, Parents: parents}, out)
}

func (c *Classifier) emitBody(line []byte, out []LineItem) []LineItem {
	item := LineItem{Type: LineDiff, Raw: line}
	if string(line) == noNewlineMarker {
		item.NoNewline = true
	} else if c.file != nil && c.file.Combined {
		item.Parents = c.file.Parents
	}
	return c.emit(item, out)
}

func (c *Classifier) emit(item LineItem, out []LineItem) []LineItem {
	if item.text == "" && len(item.Raw) > 0 {
		item.text = c.sticky.String(item.Raw)
	}
	c.row++
	return append(out, item)
}

// isBodyLine reports whether line belongs to a hunk: it starts with one
// change marker per parent, or is the no-newline marker.
func isBodyLine(line []byte, f *FileInfo) bool {
	if len(line) == 0 {
		return false
	}
	if line[0] == '\\' {
		return true
	}
	n := 1
	if f != nil && f.Combined {
		n = max(f.Parents, 1)
	}
	if len(line) < n {
		return false
	}
	for _, b := range line[:n] {
		if b != '+' && b != '-' && b != ' ' {
			return false
		}
	}
	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
