package patchview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/timxx/qgitc-sub000/internal/util"
)

// Theme holds the terminal styles of the patch view.
type Theme struct {
	Added     lipgloss.Style
	Removed   lipgloss.Style
	Hunk      lipgloss.Style
	File      lipgloss.Style
	Label     lipgloss.Style
	NoNewline lipgloss.Style
	// Info is applied to the whole row of block lines.
	Info           lipgloss.Style
	Link           lipgloss.TerminalColor
	FindBackground lipgloss.TerminalColor
}

// DefaultTheme returns the styles used by the CLI.
func DefaultTheme() Theme {
	return Theme{
		Added:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Removed:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Hunk:      lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		File:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		Label:     lipgloss.NewStyle().Bold(true),
		NoNewline: lipgloss.NewStyle().Faint(true),
		Info: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("240")),
		Link:           lipgloss.Color("4"),
		FindBackground: lipgloss.Color("11"),
	}
}

func (t Theme) base(k Kind) lipgloss.Style {
	switch k {
	case KindAdded:
		return t.Added
	case KindRemoved:
		return t.Removed
	case KindHunk:
		return t.Hunk
	case KindFile:
		return t.File
	case KindLabel:
		return t.Label
	case KindNoNewline:
		return t.NoNewline
	}
	return lipgloss.NewStyle()
}

// RenderOptions configures Render.
type RenderOptions struct {
	// Width truncates rows; zero leaves them as they are.
	Width int
	Theme *Theme
}

// styleKey is the combination of formats covering one rune.
type styleKey struct {
	base Kind
	has  bool
	link bool
	find bool
}

// Render draws lines [from, to) for the terminal, one row per line.
func (m *Model) Render(from, to int, opts RenderOptions) string {
	theme := DefaultTheme()
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	from = max(from, 0)
	to = min(to, len(m.lines))
	rows := make([]string, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		rows = append(rows, m.RenderLine(i, theme, opts.Width))
	}
	return strings.Join(rows, "\n")
}

// RenderLine draws line i with theme.
func (m *Model) RenderLine(i int, theme Theme, width int) string {
	item, ok := m.LineAt(i)
	if !ok {
		return ""
	}
	formats := m.Formats(i)
	runes := []rune(item.Text())
	keys := make([]styleKey, len(runes))
	block := false
	for _, f := range formats {
		if f.Block {
			block = true
			continue
		}
		for k := max(f.Start, 0); k < min(f.End, len(runes)); k++ {
			switch f.Kind {
			case KindLink:
				keys[k].link = true
			case KindFind:
				keys[k].find = true
			default:
				keys[k].base, keys[k].has = f.Kind, true
			}
		}
	}

	var sb strings.Builder
	pad := m.indent(item.Type)
	sb.WriteString(strings.Repeat(" ", pad))
	x := pad
	var seg strings.Builder
	flush := func(k styleKey) {
		if seg.Len() == 0 {
			return
		}
		sb.WriteString(theme.style(k).Render(seg.String()))
		seg.Reset()
	}
	for k, r := range runes {
		if k > 0 && keys[k] != keys[k-1] {
			flush(keys[k-1])
		}
		if r == '\t' {
			n := m.tabWidth - x%m.tabWidth
			seg.WriteString(strings.Repeat(" ", n))
			x += n
			continue
		}
		seg.WriteRune(r)
		x += util.RuneWidth(r)
	}
	if len(runes) > 0 {
		flush(keys[len(runes)-1])
	}

	row := sb.String()
	if block {
		s := theme.Info
		if width > 0 {
			s = s.Width(max(width-s.GetHorizontalFrameSize(), 1))
		}
		return s.Render(row)
	}
	if width > 0 {
		row = util.TruncateANSI(row, width)
	}
	return row
}

func (t Theme) style(k styleKey) lipgloss.Style {
	s := lipgloss.NewStyle()
	if k.has {
		s = t.base(k.base)
	}
	if k.link {
		s = s.Underline(true).Foreground(t.Link)
	}
	if k.find {
		s = s.Background(t.FindBackground)
	}
	return s
}
