package tools

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/testutil"
)

// -----------------------------------------------------------------------------
// Schema
// -----------------------------------------------------------------------------

func TestValidate_Coercion(t *testing.T) {
	tests := []struct {
		name  string
		param Param
		in    any
		want  any
	}{
		{"int from string", Param{Name: "n", Kind: Integer}, "42", 42},
		{"int from float", Param{Name: "n", Kind: Integer}, 7.0, 7},
		{"int from float string", Param{Name: "n", Kind: Integer}, "3.0", 3},
		{"bool from string", Param{Name: "b", Kind: Boolean}, "true", true},
		{"bool from yes", Param{Name: "b", Kind: Boolean}, "YES", true},
		{"bool from zero", Param{Name: "b", Kind: Boolean}, 0.0, false},
		{"string from number", Param{Name: "s", Kind: String}, 12.5, "12.5"},
		{"list from json string", Param{Name: "l", Kind: Array}, `["a", "b"]`, []string{"a", "b"}},
		{"list from single string", Param{Name: "l", Kind: Array}, "a.go", []string{"a.go"}},
		{"list of mixed", Param{Name: "l", Kind: Array}, []any{"a", 1.0}, []string{"a", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Schema{Params: []Param{tt.param}}
			got, err := s.Validate(map[string]any{tt.param.Name: tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got[tt.param.Name])
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		param Param
		in    any
	}{
		{"fractional int", Param{Name: "n", Kind: Integer}, "2.5"},
		{"word as int", Param{Name: "n", Kind: Integer}, "two"},
		{"below min", Param{Name: "n", Kind: Integer, Min: Bound(1)}, 0.0},
		{"above max", Param{Name: "n", Kind: Integer, Max: Bound(10)}, "11"},
		{"bad bool", Param{Name: "b", Kind: Boolean}, "maybe"},
		{"bool from two", Param{Name: "b", Kind: Boolean}, 2.0},
		{"bad choice", Param{Name: "s", Kind: String, Choices: []string{"a", "b"}}, "c"},
		{"too few items", Param{Name: "l", Kind: Array, MinItems: 2}, []any{"a"}},
		{"too many items", Param{Name: "l", Kind: Array, MaxItems: 1}, []any{"a", "b"}},
		{"object as string", Param{Name: "s", Kind: String}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Schema{Params: []Param{tt.param}}
			_, err := s.Validate(map[string]any{tt.param.Name: tt.in})
			require.Error(t, err)

			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.param.Name, ve.Field)
			assert.NotEmpty(t, ve.Reason())
		})
	}
}

func TestSchema_ParseDefaultsAndRequired(t *testing.T) {
	s := Schema{Params: []Param{
		{Name: "rev", Kind: String, Required: true},
		{Name: "max_count", Kind: Integer, Default: 20},
		{Name: "path", Kind: String},
	}}

	args, err := s.Parse(`{"rev": "HEAD", "extra": 1}`)
	require.NoError(t, err)
	assert.Equal(t, "HEAD", args.String("rev"))
	assert.Equal(t, 20, args.Int("max_count"))
	assert.False(t, args.Has("path"))
	assert.False(t, args.Has("extra"))

	_, err = s.Parse(`{}`)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "rev", ve.Field)

	_, err = s.Parse(`not json`)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "arguments", ve.Field)
}

func TestSchema_JSON(t *testing.T) {
	s := Schema{Params: []Param{
		{Name: "n", Kind: Integer, Required: true, Min: Bound(1), Max: Bound(5)},
		{Name: "mode", Kind: String, Choices: []string{"a", "b"}},
		{Name: "paths", Kind: Array, MinItems: 1},
	}}
	js := s.JSON()
	assert.Equal(t, "object", js["type"])
	assert.Equal(t, []string{"n"}, js["required"])

	props := js["properties"].(map[string]any)
	n := props["n"].(map[string]any)
	assert.Equal(t, 1, n["minimum"])
	assert.Equal(t, 5, n["maximum"])
	assert.Equal(t, []string{"a", "b"}, props["mode"].(map[string]any)["enum"])
	paths := props["paths"].(map[string]any)
	assert.Equal(t, "array", paths["type"])
	assert.Equal(t, 1, paths["minItems"])
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

func echoTool(name string, typ ToolType) Descriptor {
	return Descriptor{
		Name:   name,
		Type:   typ,
		Schema: Schema{Params: []Param{{Name: "text", Kind: String}}},
		Execute: func(_ context.Context, a Args) (string, error) {
			return a.String("text"), nil
		},
	}
}

func TestRegistry_RegisterAndClassify(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("echo", ReadOnly)))
	require.NoError(t, r.Register(echoTool("write", Write)))
	require.Error(t, r.Register(echoTool("echo", Write)))
	require.Error(t, r.Register(Descriptor{Name: "noop"}))

	typ, err := r.Classify("write")
	require.NoError(t, err)
	assert.Equal(t, Write, typ)

	_, err = r.Classify("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownTool)

	assert.Equal(t, []string{"echo", "write"}, r.Names())
	defs := r.Definitions(true)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Len(t, r.Definitions(false), 2)
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("echo", ReadOnly)))
	require.NoError(t, r.Register(Descriptor{
		Name:   "fail",
		Schema: Schema{Params: []Param{{Name: "n", Kind: Integer, Max: Bound(3)}}},
		Execute: func(context.Context, Args) (string, error) {
			return "partial", errors.New("boom")
		},
	}))
	ctx := context.Background()

	res := r.Execute(ctx, "echo", `{"text": "hi"}`)
	assert.Equal(t, Result{OK: true, Output: "hi"}, res)

	res = r.Execute(ctx, "echo", ``)
	assert.Equal(t, Result{OK: true, Output: "(no output)"}, res)

	res = r.Execute(ctx, "nope", `{}`)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, "unknown tool")

	res = r.Execute(ctx, "fail", `{"n": "9"}`)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, `invalid argument "n"`)

	res = r.Execute(ctx, "fail", `{"n": 1}`)
	assert.False(t, res.OK)
	assert.Equal(t, "partial\nerror: boom", res.Output)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", MaxOutput+10)
	got := truncate(long)
	assert.True(t, strings.HasSuffix(got, "(output truncated)"))
	assert.Equal(t, "short", truncate("short"))
}

// -----------------------------------------------------------------------------
// Git tools
// -----------------------------------------------------------------------------

func newGitRegistry(t *testing.T, runner git.Runner) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	g := &GitTools{Runner: runner, Root: "/repo", FS: memfs.New()}
	require.NoError(t, g.Register(r))
	return r
}

func TestGitTools_Classification(t *testing.T) {
	r := newGitRegistry(t, testutil.NewFakeRunner())
	readOnly := []string{"git_status", "git_log", "git_show", "git_diff", "git_diff_staged",
		"git_diff_index_file", "git_blame", "git_branch", "git_current_branch", "git_show_file"}
	write := []string{"git_add", "git_commit", "git_checkout", "git_cherry_pick", "apply_patch"}

	for _, n := range readOnly {
		typ, err := r.Classify(n)
		require.NoError(t, err, n)
		assert.Equal(t, ReadOnly, typ, n)
	}
	for _, n := range write {
		typ, err := r.Classify(n)
		require.NoError(t, err, n)
		assert.Equal(t, Write, typ, n)
	}
	assert.Len(t, r.Names(), len(readOnly)+len(write))
}

func TestGitTools_Args(t *testing.T) {
	tests := []struct {
		tool string
		args string
		want string
	}{
		{"git_status", `{}`, "/repo: status --porcelain=v1 -b"},
		{"git_status", `{"untracked": "false", "repo_dir": "libs/a"}`, "/repo/libs/a: status --porcelain=v1 -b --untracked-files=no"},
		{"git_log", `{"max_count": "5", "path": "src"}`, "/repo: log --no-color --date=short --pretty=format:%h %ad %an %s -n5 -- src"},
		{"git_show", `{"rev": "abc", "stat_only": true}`, "/repo: show --no-color --stat abc"},
		{"git_diff", `{"paths": "a.go"}`, "/repo: diff --no-color -U3 -- a.go"},
		{"git_diff_staged", `{"context_lines": 0}`, "/repo: diff --cached --no-color -U0"},
		{"git_diff_index_file", `{"path": "a.go"}`, "/repo: diff-index -p --no-color HEAD -- a.go"},
		{"git_blame", `{"path": "a.go", "start_line": 3}`, "/repo: blame --date=short -L3,3 -- a.go"},
		{"git_branch", `{"all": 1}`, "/repo: branch --no-color -a"},
		{"git_current_branch", ``, "/repo: rev-parse --abbrev-ref HEAD"},
		{"git_show_file", `{"path": "a.go", "rev": "v1"}`, "/repo: show v1:a.go"},
		{"git_add", `{"paths": "[\"a.go\", \"b.go\"]"}`, "/repo: add -- a.go b.go"},
		{"git_commit", `{"message": "fix\n"}`, "/repo: commit -q -m fix"},
		{"git_checkout", `{"branch": "dev", "create": "yes"}`, "/repo: checkout -b dev"},
		{"git_cherry_pick", `{"commits": ["a1", "b2"], "record_origin": true}`, "/repo: cherry-pick -x a1 b2"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			runner := testutil.NewFakeRunner()
			r := newGitRegistry(t, runner)
			res := r.Execute(context.Background(), tt.tool, tt.args)
			require.True(t, res.OK, res.Output)
			assert.Equal(t, []string{tt.want}, runner.CallArgs(true))
		})
	}
}

func TestGitTools_Output(t *testing.T) {
	runner := testutil.NewFakeRunner().On("main\n", "rev-parse", "--abbrev-ref", "HEAD")
	r := newGitRegistry(t, runner)
	res := r.Execute(context.Background(), "git_current_branch", `{}`)
	assert.Equal(t, Result{OK: true, Output: "main"}, res)
}

func TestGitTools_GitFailure(t *testing.T) {
	runner := testutil.NewFakeRunner().Add(testutil.FakeResponse{
		Args:     []string{"checkout"},
		Stderr:   "error: pathspec 'nope' did not match\n",
		ExitCode: 1,
	})
	r := newGitRegistry(t, runner)
	res := r.Execute(context.Background(), "git_checkout", `{"branch": "nope"}`)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, "git checkout nope failed with exit code 1")
	assert.Contains(t, res.Output, "did not match")
}

func TestGitTools_RejectsEscapingRepoDir(t *testing.T) {
	runner := testutil.NewFakeRunner()
	r := newGitRegistry(t, runner)
	for _, dir := range []string{"../other", "/etc", "a/../../b"} {
		res := r.Execute(context.Background(), "git_status", `{"repo_dir": "`+dir+`"}`)
		assert.False(t, res.OK, dir)
		assert.Contains(t, res.Output, `"repo_dir"`, dir)
	}
	assert.Empty(t, runner.Calls())
}

func TestGitTools_EmptyCommitMessage(t *testing.T) {
	runner := testutil.NewFakeRunner()
	r := newGitRegistry(t, runner)
	res := r.Execute(context.Background(), "git_commit", `{"message": "  \n"}`)
	assert.False(t, res.OK)
	assert.Empty(t, runner.Calls())
}

func TestGitTools_RealRepo(t *testing.T) {
	testutil.SkipIfNoGit(t)
	dir := testutil.SetupTestRepoWithContent(t, map[string]string{"a.txt": "one\n"})
	testutil.WriteFile(t, dir, "a.txt", "two\n")

	r := NewRegistry(nil)
	g := &GitTools{Runner: git.NewInvoker(git.Options{}), Root: dir}
	require.NoError(t, g.Register(r))
	ctx := context.Background()

	res := r.Execute(ctx, "git_current_branch", `{}`)
	require.True(t, res.OK, res.Output)
	assert.Equal(t, "main", res.Output)

	res = r.Execute(ctx, "git_diff", `{"paths": ["a.txt"]}`)
	require.True(t, res.OK, res.Output)
	assert.Contains(t, res.Output, "-one")
	assert.Contains(t, res.Output, "+two")

	res = r.Execute(ctx, "apply_patch", `{"input": "*** Begin Patch\n*** Update File: a.txt\n-two\n+three\n*** End Patch"}`)
	require.True(t, res.OK, res.Output)
	assert.Equal(t, "three\n", testutil.ReadFile(t, dir, "a.txt"))

	res = r.Execute(ctx, "git_add", `{"paths": ["a.txt"]}`)
	require.True(t, res.OK, res.Output)
	res = r.Execute(ctx, "git_commit", `{"message": "three"}`)
	require.True(t, res.OK, res.Output)
	assert.Equal(t, "three", testutil.RunGit(t, dir, "log", "-1", "--pretty=%s"))
}

// -----------------------------------------------------------------------------
// apply_patch
// -----------------------------------------------------------------------------

const mainGo = "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"

func TestParsePatch(t *testing.T) {
	p, err := ParsePatch(`*** Begin Patch
*** Update File: a.go
*** Move to: b.go
@@ func main() {
 ctx
-old
+new
*** End of File
*** Add File: docs/new.md
+# Title
+
*** Delete File: gone.txt
*** End Patch
`)
	require.NoError(t, err)
	require.Len(t, p.Changes, 3)

	up := p.Changes[0]
	assert.Equal(t, OpUpdate, up.Op)
	assert.Equal(t, "a.go", up.Path)
	assert.Equal(t, "b.go", up.MoveTo)
	require.Len(t, up.Hunks, 1)
	assert.Equal(t, Hunk{Header: "func main() {", Old: []string{"ctx", "old"}, New: []string{"ctx", "new"}, AtEOF: true}, up.Hunks[0])

	assert.Equal(t, FileChange{Op: OpAdd, Path: "docs/new.md", Content: "# Title\n\n"}, p.Changes[1])
	assert.Equal(t, FileChange{Op: OpDelete, Path: "gone.txt"}, p.Changes[2])
}

func TestParsePatch_Errors(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{"no begin", "*** Update File: a\n-x\n*** End Patch"},
		{"no end", "*** Begin Patch\n*** Update File: a\n-x\n"},
		{"empty", "*** Begin Patch\n*** End Patch"},
		{"stray line", "*** Begin Patch\nhello\n*** End Patch"},
		{"add without plus", "*** Begin Patch\n*** Add File: a\nx\n*** End Patch"},
		{"bad hunk line", "*** Begin Patch\n*** Update File: a\n*x\n*** End Patch"},
		{"update without hunks", "*** Begin Patch\n*** Update File: a\n*** End Patch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatch(tt.patch)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func applyText(t *testing.T, files map[string]string, patch string) (ApplyResult, error, func(string) (string, bool)) {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	p, err := ParsePatch(patch)
	require.NoError(t, err)
	res, err := ApplyPatch(fs, "", p)
	read := func(name string) (string, bool) {
		data, err := util.ReadFile(fs, name)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
	return res, err, read
}

func TestApplyPatch_UpdateWithHeader(t *testing.T) {
	res, err, read := applyText(t, map[string]string{"main.go": mainGo}, `*** Begin Patch
*** Update File: main.go
@@ func main() {
-	println("hi")
+	println("hello")
+	println("world")
*** End Patch`)
	require.NoError(t, err)

	got, _ := read("main.go")
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(\"hello\")\n\tprintln(\"world\")\n}\n", got)
	require.Len(t, res.Files, 1)
	assert.Equal(t, FileSummary{Op: OpUpdate, Path: "main.go", Added: 2, Removed: 1}, res.Files[0])
	assert.Equal(t, "Done!\nM main.go (+2 -1)", res.String())
}

func TestApplyPatch_MultipleHunksInOrder(t *testing.T) {
	src := "a\nx\nb\nx\nc\n"
	_, err, read := applyText(t, map[string]string{"f": src}, `*** Begin Patch
*** Update File: f
 a
-x
+1
@@
 b
-x
+2
*** End Patch`)
	require.NoError(t, err)
	got, _ := read("f")
	assert.Equal(t, "a\n1\nb\n2\nc\n", got)
}

func TestApplyPatch_EndOfFileAnchor(t *testing.T) {
	_, err, read := applyText(t, map[string]string{"f": "x\ny\nx\n"}, `*** Begin Patch
*** Update File: f
-x
+z
*** End of File
*** End Patch`)
	require.NoError(t, err)
	got, _ := read("f")
	assert.Equal(t, "x\ny\nz\n", got)
}

func TestApplyPatch_PreservesMissingTrailingNewline(t *testing.T) {
	_, err, read := applyText(t, map[string]string{"f": "a\nb"}, "*** Begin Patch\n*** Update File: f\n a\n-b\n+c\n*** End Patch")
	require.NoError(t, err)
	got, _ := read("f")
	assert.Equal(t, "a\nc", got)
}

func TestApplyPatch_IndentationMustMatch(t *testing.T) {
	_, err, read := applyText(t, map[string]string{"main.go": mainGo}, `*** Begin Patch
*** Update File: main.go
-    println("hi")
+    println("hello")
*** End Patch`)

	var pc *errors.PatchConflictError
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, "main.go", pc.Path)
	assert.Equal(t, 0, pc.HunkIndex)
	assert.Equal(t, `    println("hi")`, pc.FirstMismatchLine)

	got, _ := read("main.go")
	assert.Equal(t, mainGo, got)
}

func TestApplyPatch_ConflictNamesFirstMismatch(t *testing.T) {
	_, err, _ := applyText(t, map[string]string{"f": "one\ntwo\nthree\n"}, `*** Begin Patch
*** Update File: f
 one
-two
+2
@@
 one
-TWO
 three
*** End Patch`)

	var pc *errors.PatchConflictError
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, 1, pc.HunkIndex)
	assert.Equal(t, "one", pc.FirstMismatchLine)
}

func TestApplyPatch_NoPartialWrites(t *testing.T) {
	_, err, read := applyText(t, map[string]string{"f": "one\ntwo\n", "g": "keep\n"}, `*** Begin Patch
*** Add File: new.txt
+hello
*** Delete File: g
*** Update File: f
 one
-TWO
+2
*** End Patch`)
	require.Error(t, err)

	_, ok := read("new.txt")
	assert.False(t, ok)
	got, ok := read("g")
	assert.True(t, ok)
	assert.Equal(t, "keep\n", got)
}

func TestApplyPatch_AddDeleteMove(t *testing.T) {
	res, err, read := applyText(t, map[string]string{"old.txt": "a\nb\n", "gone.txt": "x\ny\n"}, `*** Begin Patch
*** Add File: docs/new.md
+# Title
+body
*** Delete File: gone.txt
*** Update File: old.txt
*** Move to: dir/moved.txt
 a
-b
+c
*** End Patch`)
	require.NoError(t, err)

	got, ok := read("docs/new.md")
	require.True(t, ok)
	assert.Equal(t, "# Title\nbody\n", got)
	_, ok = read("gone.txt")
	assert.False(t, ok)
	_, ok = read("old.txt")
	assert.False(t, ok)
	got, _ = read("dir/moved.txt")
	assert.Equal(t, "a\nc\n", got)

	assert.Equal(t, []string{
		"A docs/new.md (+2 -0)",
		"D gone.txt (+0 -2)",
		"M old.txt -> dir/moved.txt (+1 -1)",
	}, strings.Split(strings.TrimPrefix(res.String(), "Done!\n"), "\n"))
}

func TestApplyPatch_MissingAndExistingTargets(t *testing.T) {
	_, err, _ := applyText(t, nil, "*** Begin Patch\n*** Delete File: nope\n*** End Patch")
	assert.ErrorIs(t, err, &errors.NotFoundError{})

	_, err, _ = applyText(t, map[string]string{"a": "x\n"}, "*** Begin Patch\n*** Add File: a\n+y\n*** End Patch")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err, _ = applyText(t, nil, "*** Begin Patch\n*** Add File: ../escape\n+y\n*** End Patch")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestApplyPatch_AbsolutePaths(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		invalid bool
	}{
		{name: "relative", path: "a.txt", want: "a.txt"},
		{name: "absolute inside root", path: "/repo/a.txt", want: "a.txt"},
		{name: "absolute nested inside root", path: "/repo/sub/../a.txt", want: "a.txt"},
		{name: "absolute outside root", path: "/other/a.txt", invalid: true},
		{name: "absolute root prefix sibling", path: "/repository/a.txt", invalid: true},
		{name: "relative escape", path: "../a.txt", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			require.NoError(t, util.WriteFile(fs, "a.txt", []byte("old\n"), 0o644))
			p, err := ParsePatch("*** Begin Patch\n*** Update File: " + tt.path + "\n-old\n+new\n*** End Patch")
			require.NoError(t, err)

			res, err := ApplyPatch(fs, "/repo", p)
			if tt.invalid {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				data, _ := util.ReadFile(fs, "a.txt")
				assert.Equal(t, "old\n", string(data))
				return
			}
			require.NoError(t, err)
			require.Len(t, res.Files, 1)
			assert.Equal(t, tt.want, res.Files[0].Path)
			data, err := util.ReadFile(fs, "a.txt")
			require.NoError(t, err)
			assert.Equal(t, "new\n", string(data))
		})
	}
}

func TestApplyPatchTool_AbsolutePathInSubmodule(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "libs/core/a.txt", []byte("old\n"), 0o644))

	r := NewRegistry(nil)
	require.NoError(t, (&GitTools{Runner: testutil.NewFakeRunner(), Root: "/repo", FS: fs}).Register(r))

	res := r.Execute(context.Background(), "apply_patch", `{"repo_dir": "libs/core", "input": "*** Begin Patch\n*** Add File: /repo/libs/core/b.txt\n+b\n*** End Patch"}`)
	require.True(t, res.OK, res.Output)
	data, err := util.ReadFile(fs, "libs/core/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(data))
}

func TestApplyPatchTool_RepoDir(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "libs/core/a.txt", []byte("old\n"), 0o644))

	r := NewRegistry(nil)
	require.NoError(t, (&GitTools{Runner: testutil.NewFakeRunner(), Root: "/repo", FS: fs}).Register(r))

	res := r.Execute(context.Background(), "apply_patch", `{"repo_dir": "libs/core", "input": "*** Begin Patch\n*** Update File: a.txt\n-old\n+new\n*** End Patch"}`)
	require.True(t, res.OK, res.Output)
	assert.Equal(t, "Done!\nM a.txt (+1 -1)", res.Output)

	data, err := util.ReadFile(fs, "libs/core/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))

	res = r.Execute(context.Background(), "apply_patch", `{"input": "*** Begin Patch\n*** Update File: missing\n-x\n+y\n*** End Patch"}`)
	assert.False(t, res.OK)
	_, statErr := fs.Stat("missing")
	assert.True(t, os.IsNotExist(statErr))
}
