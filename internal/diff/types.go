// Package diff classifies streaming unified diff output into typed lines.
package diff

// LineType tags a line of the patch view.
type LineType int

const (
	LineAuthor LineType = iota
	LineParent
	LineChild
	LineBranch
	LineComments
	LineInfo
	LineFile
	LineFileInfo
	LineDiff
	LineNormal
	LineSummary
	LineSHA1Link
	LineAuthorLink
	// LineHunk is an "@@ ... @@" header.
	LineHunk
)

var lineTypeNames = [...]string{
	LineAuthor:     "Author",
	LineParent:     "Parent",
	LineChild:      "Child",
	LineBranch:     "Branch",
	LineComments:   "Comments",
	LineInfo:       "Info",
	LineFile:       "File",
	LineFileInfo:   "FileInfo",
	LineDiff:       "Diff",
	LineNormal:     "Normal",
	LineSummary:    "Summary",
	LineSHA1Link:   "SHA1Link",
	LineAuthorLink: "AuthorLink",
	LineHunk:       "Hunk",
}

func (t LineType) String() string {
	if t >= 0 && int(t) < len(lineTypeNames) {
		return lineTypeNames[t]
	}
	return "Unknown"
}

// FileState is how a file changed.
type FileState int

const (
	StateNormal FileState = iota
	StateAdded
	StateModified
	StateDeleted
	StateRenamed
	StateRenamedModified
)

func (s FileState) String() string {
	switch s {
	case StateAdded:
		return "Added"
	case StateModified:
		return "Modified"
	case StateDeleted:
		return "Deleted"
	case StateRenamed:
		return "Renamed"
	case StateRenamedModified:
		return "RenamedModified"
	default:
		return "Normal"
	}
}

// FileInfo describes one file section of a diff.
type FileInfo struct {
	Path    string
	OldPath string
	State   FileState
	// Row is the absolute patch-view row where the section begins.
	Row int
	// Combined is set for "diff --cc" sections.
	Combined bool
	// Parents is the number of parents of a combined diff.
	Parents int
	// Binary is set when git reported the contents as binary.
	Binary bool
	// Submodule is set for --submodule summaries.
	Submodule bool
}

// LineItem is one classified line. Raw holds the bytes as git produced
// them without the line terminator; Text is the decoded form.
type LineItem struct {
	Type LineType
	Raw  []byte
	text string
	// File is set on LineFileInfo items.
	File *FileInfo
	// Parents is the combined-diff parent count for LineDiff and LineHunk
	// items; zero for a regular two-way diff.
	Parents int
	// NoNewline marks "\ No newline at end of file".
	NoNewline bool
}

// NewLineItem creates an item from already decoded text.
func NewLineItem(t LineType, text string) LineItem {
	return LineItem{Type: t, Raw: []byte(text), text: text}
}

// Text returns the decoded line.
func (l *LineItem) Text() string {
	if l.text == "" && len(l.Raw) > 0 {
		l.text = string(l.Raw)
	}
	return l.text
}

// Prefix returns the leading change markers of a LineDiff item: one
// character per parent, or one for a two-way diff.
func (l *LineItem) Prefix() string {
	if l.Type != LineDiff || l.NoNewline {
		return ""
	}
	n := max(l.Parents, 1)
	t := l.Text()
	if len(t) < n {
		return t
	}
	return t[:n]
}
