// Package patchview holds the lines shown in the patch view of a commit
// and derives what the UI needs to draw them: find highlights, link
// ranges, diff colours, and the mapping between screen columns and text
// positions.
//
// A [Model] is owned by the UI context. It is not safe for concurrent use;
// fetchers post their batches to the UI context, which calls AppendLines.
package patchview

import (
	"cmp"
	"slices"

	"github.com/timxx/qgitc-sub000/internal/diff"
)

// DefaultTabWidth is used when Options.TabWidth is not set.
const DefaultTabWidth = 4

// Range is a span of columns [Start, End) on one line. Columns count runes
// of the line text.
type Range struct {
	Line  int
	Start int
	End   int
}

// Options configures a Model.
type Options struct {
	TabWidth int
}

// Model is an append-only list of patch lines with find state.
type Model struct {
	lines    []diff.LineItem
	find     []Range
	tabWidth int
}

// NewModel creates an empty Model.
func NewModel(opts Options) *Model {
	tw := opts.TabWidth
	if tw <= 0 {
		tw = DefaultTabWidth
	}
	return &Model{tabWidth: tw}
}

// LineCount returns the number of lines.
func (m *Model) LineCount() int {
	return len(m.lines)
}

// LineAt returns line i. ok is false when i is out of range.
func (m *Model) LineAt(i int) (item diff.LineItem, ok bool) {
	if i < 0 || i >= len(m.lines) {
		return diff.LineItem{}, false
	}
	return m.lines[i], true
}

// AppendLines adds items at the end.
func (m *Model) AppendLines(items []diff.LineItem) {
	m.lines = append(m.lines, items...)
}

// Reset drops all lines and find results.
func (m *Model) Reset() {
	clear(m.lines)
	m.lines = m.lines[:0]
	m.find = nil
}

// TabWidth returns the tab stop width.
func (m *Model) TabWidth() int {
	return m.tabWidth
}

// SetFindResults replaces the find highlights. Ranges outside the model
// or empty ones are dropped, and overlapping or touching ranges on the
// same line are merged.
func (m *Model) SetFindResults(ranges []Range) {
	m.find = coalesce(ranges, len(m.lines))
}

// FindResults returns the find highlights ordered by line and column.
func (m *Model) FindResults() []Range {
	return slices.Clone(m.find)
}

// FindResultsAt returns the highlights on line.
func (m *Model) FindResultsAt(line int) []Range {
	i, _ := slices.BinarySearchFunc(m.find, line, func(r Range, l int) int { return cmp.Compare(r.Line, l) })
	j := i
	for j < len(m.find) && m.find[j].Line == line {
		j++
	}
	return m.find[i:j]
}

// NextFindResult returns the first highlight starting after c, wrapping
// around to the first one.
func (m *Model) NextFindResult(c Cursor) (Range, bool) {
	if len(m.find) == 0 {
		return Range{}, false
	}
	for _, r := range m.find {
		if r.Line > c.Line || (r.Line == c.Line && r.Start > c.Column) {
			return r, true
		}
	}
	return m.find[0], true
}

func coalesce(ranges []Range, lines int) []Range {
	var out []Range
	for _, r := range ranges {
		if r.Line < 0 || r.Line >= lines || r.End <= r.Start {
			continue
		}
		r.Start = max(r.Start, 0)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Range) int {
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && merged[n-1].Line == r.Line && r.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
