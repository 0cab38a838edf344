package patchview

import (
	"cmp"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/timxx/qgitc-sub000/internal/diff"
)

// Kind is what a format range does to the text under it.
type Kind int

const (
	KindAdded Kind = iota
	KindRemoved
	KindHunk
	KindFile
	KindInfo
	KindLabel
	KindLink
	KindFind
	KindNoNewline
)

var kindNames = [...]string{
	KindAdded:     "added",
	KindRemoved:   "removed",
	KindHunk:      "hunk",
	KindFile:      "file",
	KindInfo:      "info",
	KindLabel:     "label",
	KindLink:      "link",
	KindFind:      "find",
	KindNoNewline: "no-newline",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Format applies Kind to runes [Start, End) of a line's text. Link
// formats carry the scheme and target to open. Block formats cover the
// whole row, background and border included.
type Format struct {
	Start  int
	End    int
	Kind   Kind
	Block  bool
	Scheme string
	Target string
}

// Link schemes.
const (
	SchemeSHA1  = "sha1"
	SchemeEmail = "mailto"
)

var (
	sha1Token  = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
	emailToken = regexp.MustCompile(`<([^<>\s@]+@[^<>\s]+)>`)
	urlToken   = regexp.MustCompile(`\b(?:https?|ftp)://[^\s<>"']+[^\s<>"'.,;:!?)\]]`)
	labelToken = regexp.MustCompile(`^[A-Z][A-Za-z-]*: ?`)
)

// Formats derives the formats of line i, find highlights last.
func (m *Model) Formats(i int) []Format {
	item, ok := m.LineAt(i)
	if !ok {
		return nil
	}
	out := LineFormats(&item)
	for _, r := range m.FindResultsAt(i) {
		out = append(out, Format{Start: r.Start, End: r.End, Kind: KindFind})
	}
	return out
}

// LineFormats derives the formats of one line from its type and text.
func LineFormats(item *diff.LineItem) []Format {
	text := item.Text()
	n := utf8.RuneCountInString(text)
	switch item.Type {
	case diff.LineDiff:
		return diffFormats(item, n)
	case diff.LineHunk:
		return []Format{{End: n, Kind: KindHunk}}
	case diff.LineFile, diff.LineFileInfo:
		return []Format{{End: n, Kind: KindFile}}
	case diff.LineInfo:
		return []Format{{End: n, Kind: KindInfo, Block: true}}
	case diff.LineAuthor, diff.LineAuthorLink:
		return append(labelFormat(text), linkFormats(text, false)...)
	case diff.LineParent, diff.LineChild, diff.LineSHA1Link:
		return append(labelFormat(text), linkFormats(text, true)...)
	case diff.LineBranch, diff.LineComments:
		return labelFormat(text)
	case diff.LineSummary, diff.LineNormal:
		return linkFormats(text, false)
	}
	return nil
}

// diffFormats colours each change marker by itself and the rest of the
// line by the strongest marker: removal over addition.
func diffFormats(item *diff.LineItem, n int) []Format {
	if item.NoNewline {
		return []Format{{End: n, Kind: KindNoNewline}}
	}
	prefix := item.Prefix()
	var out []Format
	body := -1
	for i, c := range prefix {
		switch c {
		case '-':
			out = append(out, Format{Start: i, End: i + 1, Kind: KindRemoved})
			body = int(KindRemoved)
		case '+':
			out = append(out, Format{Start: i, End: i + 1, Kind: KindAdded})
			if body < 0 {
				body = int(KindAdded)
			}
		}
	}
	if body >= 0 && len(prefix) < n {
		out = append(out, Format{Start: len(prefix), End: n, Kind: Kind(body)})
	}
	return out
}

func labelFormat(text string) []Format {
	loc := labelToken.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	return []Format{{End: utf8.RuneCountInString(strings.TrimRight(text[:loc[1]], " ")), Kind: KindLabel}}
}

// linkFormats finds e-mail addresses and URLs, plus abbreviated or full
// SHA-1s when withSHA1 is set.
func linkFormats(text string, withSHA1 bool) []Format {
	var out []Format
	add := func(start, end int, scheme, target string) {
		for _, f := range out {
			if start < f.End && f.Start < end {
				return
			}
		}
		out = append(out, Format{Start: start, End: end, Kind: KindLink, Scheme: scheme, Target: target})
	}
	runeIndex := func(b int) int { return utf8.RuneCountInString(text[:b]) }

	for _, loc := range urlToken.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		if u, err := url.Parse(raw); err == nil {
			add(runeIndex(loc[0]), runeIndex(loc[1]), u.Scheme, raw)
		}
	}
	for _, loc := range emailToken.FindAllStringSubmatchIndex(text, -1) {
		add(runeIndex(loc[2]), runeIndex(loc[3]), SchemeEmail, text[loc[2]:loc[3]])
	}
	if withSHA1 {
		for _, loc := range sha1Token.FindAllStringIndex(text, -1) {
			add(runeIndex(loc[0]), runeIndex(loc[1]), SchemeSHA1, text[loc[0]:loc[1]])
		}
	}
	slices.SortFunc(out, func(a, b Format) int { return cmp.Compare(a.Start, b.Start) })
	return out
}

// LinkAt returns the link under a cursor.
func (m *Model) LinkAt(c Cursor) (Format, bool) {
	for _, f := range m.Formats(c.Line) {
		if f.Kind == KindLink && c.Column >= f.Start && c.Column < f.End {
			return f, true
		}
	}
	return Format{}, false
}
