package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/composite"
	"github.com/timxx/qgitc-sub000/internal/diff"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/find"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/patchview"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// selectDelay is how long the cursor must rest on a commit before its
// patch is fetched.
const selectDelay = 80 * time.Millisecond

// Options configures the log browser.
type Options struct {
	Runner git.Runner
	// Root is the top-level work tree. Repos are relative to it, the main
	// repository "." first.
	Root   string
	Repos  []string
	Branch string
	// Since drops older commits when non-zero.
	Since       time.Time
	Codec       *textcodec.Codec
	DiffOptions diff.Options
	TabWidth    int
	// Dispatcher delivers component callbacks into Update. Required.
	Dispatcher event.Dispatcher
	Logger     *logging.Logger
}

type pane int

const (
	paneLog pane = iota
	panePatch
)

// callMsg runs a component callback in the update loop.
type callMsg func()

type selectMsg struct{ gen int }

type diffDoneMsg struct {
	gen int
	err error
}

// Model is the bubbletea model of the log browser. Every field is owned
// by the update loop; component callbacks reach it as callMsg.
type Model struct {
	opts     Options
	keymap   Keymap
	logger   *logging.Logger
	exec     *executor.Executor
	source   *composite.Source
	searcher *find.Searcher

	width  int
	height int
	mode   Mode
	focus  pane
	cmds   []tea.Cmd

	snap    *composite.Snapshot
	batch   *executor.Batch
	loading bool
	loadErr error

	cursor int
	top    int
	selGen int

	patch      *patchview.Model
	patchTop   int
	shown      string
	diffGen    int
	diffCancel context.CancelFunc
	diffErr    error

	input        textinput.Model
	pattern      string
	field        find.Field
	findGen      int
	findState    find.State
	findProgress int

	status string
}

// NewModel creates the browser. Nothing is loaded until Init.
func NewModel(opts Options) (*Model, error) {
	if opts.Dispatcher == nil {
		return nil, errors.NewValidationError("dispatcher is required").WithField("Dispatcher")
	}
	if opts.Runner == nil {
		return nil, errors.NewValidationError("git runner is required").WithField("Runner")
	}
	if len(opts.Repos) == 0 {
		opts.Repos = []string{"."}
	}
	if opts.DiffOptions.IsZero() {
		opts.DiffOptions = diff.DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("tui")

	exec := executor.New(opts.Dispatcher, executor.Options{Logger: logger})
	input := textinput.New()
	input.Prompt = "/"
	input.Placeholder = "pattern"

	return &Model{
		opts:   opts,
		keymap: DefaultKeymap(),
		logger: logger,
		exec:   exec,
		source: composite.NewSource(opts.Runner, exec, opts.Root, opts.Repos, composite.Options{
			Codec:  opts.Codec,
			Logger: logger,
		}),
		searcher: find.NewSearcher(opts.Runner, opts.Root, find.Options{
			Codec:      opts.Codec,
			Dispatcher: opts.Dispatcher,
			DiffOpts:   opts.DiffOptions,
			Logger:     logger,
		}),
		mode:  ModeNormal,
		patch: patchview.NewModel(patchview.Options{TabWidth: opts.TabWidth}),
		input: input,
	}, nil
}

// Init starts loading the composite history.
func (m *Model) Init() tea.Cmd {
	m.reload()
	return m.takeCmds()
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.clampList()
		m.clampPatch()

	case callMsg:
		msg()

	case selectMsg:
		if msg.gen == m.selGen {
			m.queue(m.loadPatch())
		}

	case diffDoneMsg:
		if msg.gen == m.diffGen && msg.err != nil && !errors.IsCanceled(msg.err) {
			m.diffErr = msg.err
			m.status = "diff failed: " + msg.err.Error()
		}

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, m.takeCmds()
}

// queue schedules cmd to be returned from the current Update.
func (m *Model) queue(cmd tea.Cmd) {
	if cmd != nil {
		m.cmds = append(m.cmds, cmd)
	}
}

func (m *Model) takeCmds() tea.Cmd {
	if len(m.cmds) == 0 {
		return nil
	}
	cmds := m.cmds
	m.cmds = nil
	return tea.Batch(cmds...)
}

// ----------------------------------------------------------------------------
// Keys
// ----------------------------------------------------------------------------

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	command, ok := m.keymap.Lookup(m.mode, msg)
	if !ok {
		return nil
	}

	switch command {
	case CmdQuit:
		m.shutdown()
		return tea.Quit
	case CmdDown:
		m.move(1)
	case CmdUp:
		m.move(-1)
	case CmdPageDown:
		m.move(m.pageSize())
	case CmdPageUp:
		m.move(-m.pageSize())
	case CmdTop:
		m.move(-1 << 30)
	case CmdBottom:
		m.move(1 << 30)
	case CmdSwitchPane:
		if m.focus == paneLog {
			m.focus = panePatch
		} else {
			m.focus = paneLog
		}
	case CmdOpenPatch:
		m.focus = panePatch
	case CmdCancel:
		if m.findState == find.Running {
			m.searcher.Cancel()
		} else {
			m.focus = paneLog
		}
	case CmdReload:
		m.reload()
	case CmdCycleField:
		m.field = (m.field + 1) % 3
		m.status = "find in " + m.field.String()
	case CmdEnterFind:
		m.mode = ModeFind
		m.input.SetValue(m.pattern)
		m.input.CursorEnd()
		m.queue(m.input.Focus())
	case CmdCancelFind:
		m.mode = ModeNormal
		m.input.Blur()
	case CmdExecuteFind:
		m.mode = ModeNormal
		m.input.Blur()
		m.pattern = m.input.Value()
		m.highlightPatch()
		if m.pattern != "" && m.snap != nil {
			m.startFind(m.cursor, m.snap.Len()-1)
		}
	case CmdFindNext:
		if m.pattern != "" && m.snap != nil {
			m.startFind(m.cursor+1, m.snap.Len()-1)
		}
	case CmdFindPrev:
		if m.pattern != "" && m.snap != nil {
			m.startFind(m.cursor-1, 0)
		}
	case CmdForwardInput:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.queue(cmd)
	}
	return m.takeCmds()
}

// move scrolls the focused pane by delta lines.
func (m *Model) move(delta int) {
	if m.focus == panePatch {
		m.patchTop += delta
		m.clampPatch()
		return
	}
	if m.snap == nil || m.snap.Len() == 0 {
		return
	}
	m.selectRow(min(max(m.cursor+delta, 0), m.snap.Len()-1))
}

// selectRow moves the cursor and schedules the patch of the new row.
func (m *Model) selectRow(row int) {
	if row == m.cursor && m.shown != "" {
		return
	}
	m.cursor = row
	m.clampList()
	m.selGen++
	gen := m.selGen
	m.queue(tea.Tick(selectDelay, func(time.Time) tea.Msg { return selectMsg{gen: gen} }))
}

func (m *Model) pageSize() int {
	list, patch := m.paneHeights()
	if m.focus == panePatch {
		return max(patch-1, 1)
	}
	return max(list-1, 1)
}

func (m *Model) clampList() {
	h, _ := m.paneHeights()
	if m.cursor < m.top {
		m.top = m.cursor
	} else if m.cursor >= m.top+h {
		m.top = m.cursor - h + 1
	}
	m.top = max(m.top, 0)
}

func (m *Model) clampPatch() {
	_, h := m.paneHeights()
	m.patchTop = min(m.patchTop, m.patch.LineCount()-h)
	m.patchTop = max(m.patchTop, 0)
}

// ----------------------------------------------------------------------------
// History
// ----------------------------------------------------------------------------

func (m *Model) reload() {
	if m.batch != nil {
		m.batch.Cancel(false)
	}
	m.loading = true
	m.loadErr = nil
	m.status = "Loading history..."
	m.batch = m.source.Load(context.Background(), m.opts.Branch, m.opts.Since, composite.Handler{
		Repo: func(repoDir string, count int) {
			m.status = fmt.Sprintf("Loaded %s (%d commits)", repoDir, count)
		},
		Finished: m.loaded,
	})
}

func (m *Model) loaded(snap *composite.Snapshot, err error) {
	m.loading = false
	if err != nil {
		m.loadErr = err
		m.status = "Error: " + err.Error()
		return
	}
	if snap == nil {
		return
	}

	var prev string
	if c, ok := m.selected(); ok {
		prev = c.SHA1
	}
	m.snap = snap
	m.cursor = 0
	if prev != "" {
		if i := snap.IndexOf(prev); i >= 0 {
			m.cursor = i
		}
	}
	m.shown = ""
	m.clampList()
	m.status = fmt.Sprintf("%d commits", snap.Len())
	m.queue(m.loadPatch())
}

func (m *Model) selected() (*commit.Commit, bool) {
	if m.snap == nil {
		return nil, false
	}
	return m.snap.At(m.cursor)
}

func (m *Model) subjectOf(sha1 string) string {
	if m.snap == nil {
		return ""
	}
	if c, ok := m.snap.At(m.snap.IndexOf(sha1)); ok {
		return c.Subject
	}
	return ""
}

// ----------------------------------------------------------------------------
// Patch
// ----------------------------------------------------------------------------

// loadPatch shows the selected commit: its header at once, then its diff
// and the diffs of its sub-commits as they stream in.
func (m *Model) loadPatch() tea.Cmd {
	c, ok := m.selected()
	if !ok {
		m.patch.Reset()
		m.shown = ""
		return nil
	}
	if c.SHA1 == m.shown {
		return nil
	}
	if m.diffCancel != nil {
		m.diffCancel()
	}
	m.shown = c.SHA1
	m.diffGen++
	m.diffErr = nil
	gen := m.diffGen

	m.patch.Reset()
	m.patchTop = 0
	m.patch.AppendLines(patchview.CommitHeader(c, patchview.HeaderOptions{
		Subject:       m.subjectOf,
		ShowCommitter: true,
	}))
	m.highlightPatch()

	ctx, cancel := context.WithCancel(context.Background())
	m.diffCancel = cancel

	fetcher := diff.NewFetcher(m.opts.Runner, diff.FetcherOptions{
		Codec:      m.opts.Codec,
		Dispatcher: m.opts.Dispatcher,
		Logger:     m.logger,
	})
	appendLines := func(items []diff.LineItem) {
		if gen != m.diffGen {
			return
		}
		from := m.patch.LineCount()
		m.patch.AppendLines(items)
		m.highlightFrom(from)
	}
	root, opts, dispatcher := m.opts.Root, m.opts.DiffOptions, m.opts.Dispatcher

	return func() tea.Msg {
		dir := filepath.Join(root, filepath.FromSlash(c.RepoDir))
		err := fetcher.FetchCommit(ctx, dir, c.SHA1, nil, opts, appendLines)
		for _, sub := range c.SubCommits {
			if err != nil {
				break
			}
			banner := []diff.LineItem{diff.NewLineItem(diff.LineFile, "Repository: "+sub.RepoDir+" "+sub.ShortSHA1(10))}
			dispatcher.Post(func() { appendLines(banner) })
			dir := filepath.Join(root, filepath.FromSlash(sub.RepoDir))
			err = fetcher.FetchCommit(ctx, dir, sub.SHA1, nil, opts, appendLines)
		}
		return diffDoneMsg{gen: gen, err: err}
	}
}

// highlightPatch recomputes the find ranges of the whole patch.
func (m *Model) highlightPatch() {
	m.patch.SetFindResults(nil)
	m.highlightFrom(0)
}

// highlightFrom adds the find ranges of lines from the given line on.
func (m *Model) highlightFrom(from int) {
	if m.pattern == "" {
		return
	}
	re, err := find.Compile(m.pattern, find.IgnoreCase)
	if err != nil {
		return
	}
	ranges := m.patch.FindResults()
	for i := from; i < m.patch.LineCount(); i++ {
		item, _ := m.patch.LineAt(i)
		text := item.Text()
		for _, loc := range re.FindAllStringIndex(text, -1) {
			ranges = append(ranges, patchview.Range{
				Line:  i,
				Start: utf8.RuneCountInString(text[:loc[0]]),
				End:   utf8.RuneCountInString(text[:loc[1]]),
			})
		}
	}
	m.patch.SetFindResults(ranges)
}

// ----------------------------------------------------------------------------
// Find
// ----------------------------------------------------------------------------

// startFind searches rows from through to for the current pattern.
func (m *Model) startFind(from, to int) {
	if from < 0 || from >= m.snap.Len() {
		m.findState = find.NotFound
		m.status = fmt.Sprintf("%q not found", m.pattern)
		return
	}
	m.findGen++
	gen := m.findGen
	m.findState = find.Running
	m.findProgress = 0
	m.status = "Searching " + m.field.String() + "..."

	err := m.searcher.Find(m.snap, find.Param{
		From:    from,
		To:      to,
		Pattern: m.pattern,
		Field:   m.field,
		Flag:    find.IgnoreCase,
	}, find.Handler{
		Progress: func(percent int) {
			if gen == m.findGen {
				m.findProgress = percent
			}
		},
		Found: func(row int) {
			if gen == m.findGen {
				m.focus = paneLog
				m.selectRow(row)
			}
		},
		Finished: func(st find.State) {
			if gen != m.findGen {
				return
			}
			m.findState = st
			switch st {
			case find.Found:
				m.status = fmt.Sprintf("found %q", m.pattern)
			case find.NotFound:
				m.status = fmt.Sprintf("%q not found", m.pattern)
			case find.Canceled:
				m.status = "search canceled"
			}
		},
	})
	if err != nil {
		m.findState = find.Idle
		m.status = err.Error()
	}
}

func (m *Model) shutdown() {
	m.searcher.Cancel()
	if m.diffCancel != nil {
		m.diffCancel()
	}
	if m.batch != nil {
		m.batch.Cancel(true)
	}
}
