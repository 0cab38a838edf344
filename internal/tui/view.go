package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/find"
	"github.com/timxx/qgitc-sub000/internal/patchview"
	"github.com/timxx/qgitc-sub000/internal/util"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	shaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	badgeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dividerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// chromeLines counts the header, divider and footer rows.
const chromeLines = 3

// paneHeights splits the body between the log list and the patch.
func (m *Model) paneHeights() (list, patch int) {
	body := max(m.height-chromeLines, 2)
	list = max(body/3, 1)
	return list, max(body-list, 1)
}

// View renders the browser.
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	listH, patchH := m.paneHeights()
	return strings.Join([]string{
		m.renderHeader(),
		m.renderList(listH),
		dividerStyle.Render(strings.Repeat("─", m.width)),
		m.renderPatch(patchH),
		m.renderFooter(),
	}, "\n")
}

func (m *Model) renderHeader() string {
	title := titleStyle.Render("qgitc") + " " + m.opts.Root
	if m.opts.Branch != "" {
		title += " " + mutedStyle.Render("["+m.opts.Branch+"]")
	}
	if n := len(m.opts.Repos); n > 1 {
		title += mutedStyle.Render(fmt.Sprintf(" %d repositories", n))
	}
	return util.TruncateANSI(title, m.width)
}

func (m *Model) renderList(height int) string {
	rows := make([]string, 0, height)
	if m.snap != nil {
		for i := m.top; i < m.snap.Len() && len(rows) < height; i++ {
			c, _ := m.snap.At(i)
			rows = append(rows, m.renderCommit(c, i == m.cursor))
		}
	}
	if len(rows) == 0 && m.loadErr != nil {
		rows = append(rows, errorStyle.Render(m.loadErr.Error()))
	}
	for len(rows) < height {
		rows = append(rows, "")
	}
	return strings.Join(rows, "\n")
}

// renderCommit formats one log row: id, date, author, subject and the
// number of repositories sharing the change.
func (m *Model) renderCommit(c *commit.Commit, selected bool) string {
	date := ""
	if !c.Author.When.IsZero() {
		date = c.Author.When.Format("2006-01-02")
	}
	author := util.TruncateString(c.Author.Name, 14)
	if selected {
		row := fmt.Sprintf("%-10s %-10s %-14s %s", c.ShortSHA1(10), date, author, c.Subject)
		if n := len(c.SubCommits); n > 0 {
			row += fmt.Sprintf(" [+%d]", n)
		}
		row = util.TruncateString(row, m.width)
		if m.focus == paneLog {
			return selectedStyle.Render(row)
		}
		return lipgloss.NewStyle().Bold(true).Render(row)
	}
	row := fmt.Sprintf("%s %s %s %s",
		shaStyle.Render(fmt.Sprintf("%-10s", c.ShortSHA1(10))),
		mutedStyle.Render(fmt.Sprintf("%-10s", date)),
		fmt.Sprintf("%-14s", author),
		c.Subject)
	if n := len(c.SubCommits); n > 0 {
		row += badgeStyle.Render(fmt.Sprintf(" [+%d]", n))
	}
	return util.TruncateANSI(row, m.width)
}

func (m *Model) renderPatch(height int) string {
	out := m.patch.Render(m.patchTop, m.patchTop+height, patchview.RenderOptions{Width: m.width})
	n := 0
	if out != "" {
		n = strings.Count(out, "\n") + 1
	}
	if pad := height - n; pad > 0 {
		if out != "" {
			out += "\n"
		}
		out += strings.Repeat("\n", pad-1)
	}
	return out
}

func (m *Model) renderFooter() string {
	if m.mode == ModeFind {
		return m.input.View()
	}
	status := m.status
	if m.findState == find.Running && m.field != find.Comments {
		status = fmt.Sprintf("%s %d%%", status, m.findProgress)
	}
	hints := mutedStyle.Render(fmt.Sprintf("[%s] / find  n/N next  f field  tab pane  q quit", m.field))
	if m.diffErr != nil || m.loadErr != nil {
		status = errorStyle.Render(status)
	}
	gap := m.width - lipgloss.Width(status) - lipgloss.Width(hints)
	if gap < 1 {
		return util.TruncateANSI(status, m.width)
	}
	return status + strings.Repeat(" ", gap) + hints
}
