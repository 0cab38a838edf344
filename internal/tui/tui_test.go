package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/find"
	"github.com/timxx/qgitc-sub000/internal/testutil"
)

var (
	shaA = strings.Repeat("a", 40)
	shaB = strings.Repeat("b", 40)
	shaC = strings.Repeat("c", 40)
)

func logRecord(sha, subject, date, parents string) string {
	return strings.Join([]string{
		sha, subject, subject + "\n",
		"Dev <dev@example.com>", date,
		"Dev <dev@example.com>", date,
		parents,
	}, "\x01") + "\x00"
}

const mainDiff = "diff --git a/f.go b/f.go\n" +
	"index 1111111..2222222 100644\n" +
	"--- a/f.go\n" +
	"+++ b/f.go\n" +
	"@@ -1 +1 @@\n" +
	"-old\n" +
	"+new parser\n"

const libDiff = "diff --git a/lib.go b/lib.go\n" +
	"index 3333333..4444444 100644\n" +
	"--- a/lib.go\n" +
	"+++ b/lib.go\n" +
	"@@ -0,0 +1 @@\n" +
	"+lib change\n"

func historyRunner() *testutil.FakeRunner {
	return testutil.NewFakeRunner().
		Add(testutil.FakeResponse{Dir: "/w", Args: []string{"log"}, ChunkSize: 11,
			Stdout: logRecord(shaA, "fix parser", "2024-05-02T10:00:00Z", shaB) +
				logRecord(shaB, "init", "2024-05-01T10:00:00Z", "")}).
		Add(testutil.FakeResponse{Dir: "/w/lib", Args: []string{"log"},
			Stdout: logRecord(shaC, "fix parser", "2024-05-02T10:00:00Z", "")}).
		Add(testutil.FakeResponse{Dir: "/w", Args: find.PathArgs(shaB), Stdout: "docs/readme.md\n"}).
		Add(testutil.FakeResponse{Dir: "/w", Args: []string{"diff-tree", "-r", "-p"}, Stdout: mainDiff}).
		Add(testutil.FakeResponse{Dir: "/w/lib", Args: []string{"diff-tree", "-r", "-p"}, Stdout: libDiff})
}

type fixture struct {
	t      *testing.T
	runner *testutil.FakeRunner
	loop   *event.Loop
	m      *Model
}

func newFixture(t *testing.T, runner *testutil.FakeRunner, opts Options) *fixture {
	t.Helper()
	loop := event.NewLoop(nil)
	opts.Runner = runner
	opts.Root = "/w"
	opts.Dispatcher = loop
	m, err := NewModel(opts)
	require.NoError(t, err)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return &fixture{t: t, runner: runner, loop: loop, m: m}
}

// settle runs cmds and the messages they produce until nothing is left.
func (f *fixture) settle(cmds ...tea.Cmd) {
	for len(cmds) > 0 {
		cmd := cmds[0]
		cmds = cmds[1:]
		if cmd == nil {
			continue
		}
		msg := cmd()
		f.loop.Drain()
		switch msg := msg.(type) {
		case nil:
		case tea.BatchMsg:
			cmds = append(cmds, msg...)
		default:
			_, next := f.m.Update(msg)
			cmds = append(cmds, next)
		}
		f.loop.Drain()
		cmds = append(cmds, f.m.takeCmds())
	}
}

func (f *fixture) load() {
	cmd := f.m.Init()
	f.m.batch.Wait()
	f.loop.Drain()
	f.settle(cmd, f.m.takeCmds())
}

func (f *fixture) key(msg tea.KeyMsg) tea.Cmd {
	_, cmd := f.m.Update(msg)
	return cmd
}

func (f *fixture) press(r rune) tea.Cmd {
	return f.key(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
}

// waitFind pumps the UI context until the running search finishes.
func (f *fixture) waitFind() {
	deadline := time.Now().Add(5 * time.Second)
	for f.m.findState == find.Running {
		require.True(f.t, time.Now().Before(deadline), "search did not finish")
		f.loop.Drain()
		time.Sleep(time.Millisecond)
	}
	f.settle(f.m.takeCmds())
}

func (f *fixture) patchText() []string {
	var out []string
	for i := range f.m.patch.LineCount() {
		item, _ := f.m.patch.LineAt(i)
		out = append(out, item.Text())
	}
	return out
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(Options{Runner: testutil.NewFakeRunner()})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = NewModel(Options{Dispatcher: event.NewLoop(nil)})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestModel_LoadsCompositeHistory(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{Repos: []string{".", "lib"}})
	f.load()

	require.NotNil(t, f.m.snap)
	require.Equal(t, 2, f.m.snap.Len())
	assert.Equal(t, "2 commits", f.m.status)
	first, _ := f.m.snap.At(0)
	assert.Equal(t, shaA, first.SHA1)
	require.Len(t, first.SubCommits, 1)

	lines := f.patchText()
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "Author: Dev <dev@example.com>"), lines[0])
	assert.Contains(t, lines, "Parent: "+shaB+" (init)")
	assert.Contains(t, lines, "Commit: "+shaC+" (lib)")
	assert.Contains(t, lines, "+new parser")
	assert.Contains(t, lines, "Repository: lib cccccccccc")
	assert.Contains(t, lines, "+lib change")
	assert.Less(t, indexOf(lines, "+new parser"), indexOf(lines, "Repository: lib cccccccccc"))
	assert.Less(t, indexOf(lines, "Repository: lib cccccccccc"), indexOf(lines, "+lib change"))

	view := ansi.Strip(f.m.View())
	assert.Equal(t, 30, strings.Count(view, "\n")+1)
	assert.Contains(t, view, "fix parser [+1]")
	assert.Contains(t, view, "init")
}

func indexOf(lines []string, s string) int {
	for i, l := range lines {
		if l == s {
			return i
		}
	}
	return -1
}

func TestModel_Navigation(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{Repos: []string{".", "lib"}})
	f.load()

	f.settle(f.press('j'))
	assert.Equal(t, 1, f.m.cursor)
	assert.Equal(t, shaB, f.m.shown)
	assert.Contains(t, f.patchText(), "Child: "+shaA+" (fix parser)")

	f.settle(f.press('j'))
	assert.Equal(t, 1, f.m.cursor, "stays on the last row")

	f.settle(f.press('g'))
	assert.Equal(t, 0, f.m.cursor)
	f.settle(f.press('k'))
	assert.Equal(t, 0, f.m.cursor)
	f.settle(f.press('G'))
	assert.Equal(t, 1, f.m.cursor)

	f.key(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, panePatch, f.m.focus)
	f.settle(f.press('j'))
	assert.Equal(t, 1, f.m.cursor, "keys scroll the patch pane")
	assert.Zero(t, f.m.patchTop, "short patches do not scroll")

	f.key(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, paneLog, f.m.focus)
}

func typeFind(f *fixture, pattern string) {
	f.press('/')
	require.Equal(f.t, ModeFind, f.m.mode)
	f.m.input.SetValue("")
	if pattern != "" {
		f.key(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(pattern)})
	}
	f.settle(f.key(tea.KeyMsg{Type: tea.KeyEnter}))
	require.Equal(f.t, ModeNormal, f.m.mode)
}

func TestModel_FindComments(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{Repos: []string{".", "lib"}})
	f.load()

	typeFind(f, "init")
	assert.Equal(t, find.Found, f.m.findState)
	assert.Equal(t, 1, f.m.cursor)
	assert.Equal(t, shaB, f.m.shown)
	assert.Equal(t, `found "init"`, f.m.status)

	f.settle(f.press('n'))
	assert.Equal(t, find.NotFound, f.m.findState)
	assert.Equal(t, 1, f.m.cursor)

	f.settle(f.press('N'))
	assert.Equal(t, find.NotFound, f.m.findState, "the first row does not match")
}

func TestModel_FindPathsRunsInBackground(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{Repos: []string{".", "lib"}})
	f.load()

	f.press('f')
	assert.Equal(t, find.Paths, f.m.field)

	typeFind(f, "readme")
	f.waitFind()
	assert.Equal(t, find.Found, f.m.findState)
	assert.Equal(t, 1, f.m.cursor)
	assert.True(t, f.runner.Called(find.PathArgs(shaC)...), "sub-commits are searched too")
}

func TestModel_FindHighlightsPatch(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{Repos: []string{".", "lib"}})
	f.load()

	typeFind(f, "PARSER")
	results := f.m.patch.FindResults()
	require.NotEmpty(t, results)

	lines := f.patchText()
	hit := map[string]bool{}
	for _, r := range results {
		hit[lines[r.Line]] = true
	}
	assert.True(t, hit["+new parser"])
	assert.True(t, hit["fix parser"])

	typeFind(f, "")
	assert.Empty(t, f.m.patch.FindResults())
}

func TestModel_LoadError(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Add(testutil.FakeResponse{Dir: "/w", Args: []string{"log"}, ExitCode: 128, Stderr: "fatal: bad revision 'nope'"})
	f := newFixture(t, runner, Options{Branch: "nope"})
	f.load()

	require.Error(t, f.m.loadErr)
	assert.Nil(t, f.m.snap)
	assert.True(t, strings.HasPrefix(f.m.status, "Error: "), f.m.status)
	assert.Contains(t, ansi.Strip(f.m.View()), "[nope]")
}

func TestModel_Quit(t *testing.T) {
	f := newFixture(t, historyRunner(), Options{})
	cmd := f.press('q')
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestKeymap_Lookup(t *testing.T) {
	km := DefaultKeymap()
	tests := []struct {
		name   string
		mode   Mode
		msg    tea.KeyMsg
		want   Command
		wantOK bool
	}{
		{"j moves down", ModeNormal, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}, CmdDown, true},
		{"arrow moves up", ModeNormal, tea.KeyMsg{Type: tea.KeyUp}, CmdUp, true},
		{"slash opens find", ModeNormal, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}}, CmdEnterFind, true},
		{"unbound rune", ModeNormal, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'z'}}, "", false},
		{"pasted runes are not j", ModeNormal, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("jj")}, "", false},
		{"enter submits find", ModeFind, tea.KeyMsg{Type: tea.KeyEnter}, CmdExecuteFind, true},
		{"typing goes to the input", ModeFind, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}, CmdForwardInput, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := km.Lookup(tt.mode, tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
