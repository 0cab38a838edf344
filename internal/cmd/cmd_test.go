package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/find"
	"github.com/timxx/qgitc-sub000/internal/testutil"
)

// executeCommand runs the root command with args and returns the output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Cleanup(resetFlags)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores the package-level flag values between runs.
func resetFlags() {
	repoPath = ""
	logTUI, logBranch, logSince, logMaxCount, logRefresh = false, "", "", 0, false
	blameRev, blameLine, blameContext = "", 0, 10
	findField, findRegex, findExact, findBranch, findSince, findLimit = "comments", false, false, "", "", 0
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"log", "blame", "commit", "resolve", "pick", "find", "chat", "logs", "config"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"canceled", errors.ErrCanceled, ExitOK},
		{"invalid args", invalidArgs("bad %s", "flag"), ExitInvalidArgs},
		{"config", config.ValidationErrors{{Field: "diff.context_lines", Message: "must be non-negative"}}, ExitInvalidArgs},
		{"repo not found", fmt.Errorf("open: %w", errors.ErrRepoNotFound), ExitRepoNotFound},
		{"other", errors.New("boom"), ExitRepoNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRootArgs(t *testing.T) {
	assert.NoError(t, rootArgs(rootCmd, nil))
	assert.NoError(t, rootArgs(rootCmd, []string{"1a2b3c4"}))

	err := rootArgs(rootCmd, []string{"nonsense"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	assert.Error(t, rootArgs(rootCmd, []string{"1a2b3c4", "5d6e7f8"}))
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)
	def := now.AddDate(0, 0, -90)

	got, err := parseSince("", def, now)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = parseSince("all", def, now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("7d", def, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), got)

	got, err = parseSince("2024-01-02", def, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local), got)

	got, err = parseSince("36h", def, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-36*time.Hour), got)

	for _, bad := range []string{"xd", "-3d", "yesterday", "-1h"} {
		_, err := parseSince(bad, def, now)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput), bad)
	}
}

var sampleBlame = strings.Join([]string{
	"1111111111111111111111111111111111111111 1 1 2",
	"author Alice",
	"author-mail <alice@example.com>",
	"author-time 1700000000",
	"author-tz +0000",
	"summary Add parser",
	"filename main.go",
	"\tpackage main",
	"1111111111111111111111111111111111111111 2 2",
	"\t",
	"2222222222222222222222222222222222222222 3 3 1",
	"author Bob",
	"author-time 1710000000",
	"summary Fix parser",
	"previous 1111111111111111111111111111111111111111 main.go",
	"filename main.go",
	"\tfunc main() {}",
}, "\n") + "\n"

func TestParseBlame(t *testing.T) {
	lines, err := parseBlame([]byte(sampleBlame), nil)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, "Alice", lines[0].Author)
	assert.Equal(t, "Add parser", lines[0].Summary)
	assert.Equal(t, "package main", lines[0].Text)
	assert.Equal(t, time.Unix(1700000000, 0), lines[0].When)

	// Headers are printed once per commit.
	assert.Equal(t, "Alice", lines[1].Author)
	assert.Equal(t, 2, lines[1].Line)
	assert.Equal(t, "", lines[1].Text)

	assert.Equal(t, "Bob", lines[2].Author)
	assert.Equal(t, "Fix parser", lines[2].Summary)
	assert.Equal(t, 3, lines[2].Line)
}

func TestParseBlame_Malformed(t *testing.T) {
	_, err := parseBlame([]byte("not a header\n"), nil)
	assert.Error(t, err)

	_, err = parseBlame([]byte("\tcontent first\n"), nil)
	assert.Error(t, err)
}

func TestBlameArgs(t *testing.T) {
	assert.Equal(t, []string{"blame", "--porcelain", "--", "a.go"}, blameArgs("", "a.go"))
	assert.Equal(t, []string{"blame", "--porcelain", "v1", "--", "a.go"}, blameArgs("v1", "a.go"))
}

func TestOwnerRepo(t *testing.T) {
	repos := []string{".", "libs", "libs/core"}

	repo, path := ownerRepo(repos, "src/main.c")
	assert.Equal(t, ".", repo)
	assert.Equal(t, "src/main.c", path)

	repo, path = ownerRepo(repos, "libs/core/x.c")
	assert.Equal(t, "libs/core", repo)
	assert.Equal(t, "x.c", path)

	repo, path = ownerRepo(repos, "libs/y.c")
	assert.Equal(t, "libs", repo)
	assert.Equal(t, "y.c", path)

	repo, _ = ownerRepo(repos, "libsx/z.c")
	assert.Equal(t, ".", repo)
}

func TestWriteBlame_Context(t *testing.T) {
	var lines []blameLineInfo
	for i := 1; i <= 30; i++ {
		lines = append(lines, blameLineInfo{
			SHA1: strings.Repeat("a", 40),
			Line: i,
			Text: fmt.Sprintf("line %d", i),
		})
	}
	var buf bytes.Buffer
	writeBlame(&buf, lines, 15, 2, 0)
	out := buf.String()
	assert.Equal(t, 5, strings.Count(out, "\n"))
	assert.Contains(t, out, "line 13")
	assert.Contains(t, out, "line 17")
	assert.NotContains(t, out, "line 12\n")
}

func TestFormatLogRow(t *testing.T) {
	c := &commit.Commit{
		SHA1:    "0123456789abcdef0123456789abcdef01234567",
		Subject: "Fix parser",
		RepoDir: "libs/core",
	}
	c.Author.Name = "Alice"
	c.Author.When = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	c.SubCommits = []*commit.Commit{{RepoDir: "app"}}

	row := formatLogRow(c)
	assert.Contains(t, row, "0123456789")
	assert.Contains(t, row, "2024-03-01")
	assert.Contains(t, row, "Alice")
	assert.Contains(t, row, "Fix parser")
	assert.Contains(t, row, "[app]")
	assert.Contains(t, row, "(libs/core)")
}

func TestFilterPaths(t *testing.T) {
	files := []string{"a.c", "b.c"}
	assert.Equal(t, []string{"b.c"}, filterPaths(files, ".", []string{"b.c"}))
	assert.Equal(t, []string{"a.c"}, filterPaths(files, "lib", []string{"lib/a.c", "b.c"}))
	assert.Empty(t, filterPaths(files, "lib", []string{"other/a.c"}))
}

func TestDisplayPath(t *testing.T) {
	assert.Equal(t, "a.c", displayPath(".", "a.c"))
	assert.Equal(t, "a.c", displayPath("", "a.c"))
	assert.Equal(t, "lib/a.c", displayPath("lib", "a.c"))
	assert.Equal(t, "main repository", displayRepo("."))
	assert.Equal(t, "lib", displayRepo("lib"))
}

func TestSortNewestFirst(t *testing.T) {
	a := &commit.Commit{SHA1: "a"}
	b := &commit.Commit{SHA1: "b"}
	c := &commit.Commit{SHA1: "c"}
	x := &commit.Commit{SHA1: "x"}
	y := &commit.Commit{SHA1: "y"}
	order := map[string]int{"a": 2, "b": 0, "c": 1}
	indexOf := func(sha1 string) int {
		if i, ok := order[sha1]; ok {
			return i
		}
		return -1
	}

	commits := []*commit.Commit{x, a, y, b, c}
	sortNewestFirst(commits, indexOf)
	assert.Equal(t, []*commit.Commit{b, c, a, x, y}, commits, "commits missing from the log keep their order")
}

func TestParseField(t *testing.T) {
	for _, f := range []find.Field{find.Comments, find.Paths, find.Diff} {
		got, err := parseField(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := parseField("body")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	assert.Equal(t, find.IgnoreCase, searchFlag(false, false))
	assert.Equal(t, find.Regex, searchFlag(true, false))
	assert.Equal(t, find.Exact, searchFlag(false, true))
}

func TestLevelPriority(t *testing.T) {
	assert.Equal(t, 0, levelPriority("debug"))
	assert.Equal(t, 1, levelPriority("INFO"))
	assert.Equal(t, 2, levelPriority("warn"))
	assert.Equal(t, 3, levelPriority("ERROR"))
	assert.Equal(t, -1, levelPriority("trace"))
}

func TestLogFilter(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	f, err := newLogFilter("warn", "1h", "libs/.*", now)
	require.NoError(t, err)

	entry := &logEntry{Time: now.Add(-10 * time.Minute), Level: "WARN", Msg: "git failed", Repo: "libs/core"}
	assert.True(t, f.passes(entry))

	entry.Level = "INFO"
	assert.False(t, f.passes(entry))

	entry.Level = "ERROR"
	entry.Time = now.Add(-2 * time.Hour)
	assert.False(t, f.passes(entry))

	entry.Time = now
	entry.Repo = "."
	assert.False(t, f.passes(entry))

	_, err = newLogFilter("", "soon", "", now)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = newLogFilter("", "", "(", now)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestLogFilter_FormatLine(t *testing.T) {
	f, err := newLogFilter("", "", "", time.Now())
	require.NoError(t, err)

	s, ok := f.formatLine(`{"time":"2024-05-10T12:00:00Z","level":"INFO","msg":"loaded","component":"composite","commits":12}`)
	require.True(t, ok)
	assert.Contains(t, s, "[INFO]")
	assert.Contains(t, s, "loaded")
	assert.Contains(t, s, "composite")
	assert.Contains(t, s, "commits=")

	s, ok = f.formatLine("plain text")
	assert.True(t, ok)
	assert.Equal(t, "plain text", s)

	_, ok = f.formatLine("   ")
	assert.False(t, ok)
}

func TestParseConfigValue(t *testing.T) {
	v, err := parseConfigValue("diff.context_lines", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = parseConfigValue("status.show_ignored", "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = parseConfigValue("diff.ignore_whitespace", "all")
	require.NoError(t, err)
	assert.Equal(t, "all", v)

	for _, tc := range [][2]string{
		{"no.such_key", "1"},
		{"diff.context_lines", "many"},
		{"diff.context_lines", "-1"},
		{"status.show_ignored", "maybe"},
		{"diff.ignore_whitespace", "some"},
	} {
		_, err := parseConfigValue(tc[0], tc[1])
		assert.True(t, errors.Is(err, errors.ErrInvalidInput), "%s=%s", tc[0], tc[1])
	}
}

func TestConfigKeysAreDefaults(t *testing.T) {
	config.SetDefaults()
	for k := range configKeys {
		assert.True(t, viper.IsSet(k), "config key %q has no default", k)
	}
}

func TestLogCommand_RealRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	dir := testutil.SetupTestRepoWithContent(t, map[string]string{"main.go": "package main\n"})

	out, err := executeCommand(t, "log", "--repo", dir, "--since", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "Add test files")
	assert.Contains(t, out, "Initial commit")

	out, err = executeCommand(t, "log", "--repo", dir, "--since", "all", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Add test files")
	assert.NotContains(t, out, "Initial commit")
}

func TestBlameCommand_RealRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	dir := testutil.SetupTestRepoWithContent(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})

	out, err := executeCommand(t, "blame", "--repo", dir, filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, out, "func main() {}")
	assert.Contains(t, out, testutil.TestAuthorName[:5])
}

func TestCommand_OutsideRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	_, err := executeCommand(t, "log", "--repo", filepath.Join(dir, "empty"))
	require.Error(t, err)
	assert.Equal(t, ExitRepoNotFound, exitCode(err))
}

func TestCommand_InvalidFlag(t *testing.T) {
	_, err := executeCommand(t, "log", "--since", "yesterday", "--repo", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitInvalidArgs, exitCode(err))

	_, err = executeCommand(t, "log", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, ExitInvalidArgs, exitCode(err))
}
