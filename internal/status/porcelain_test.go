package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

func TestParsePorcelain(t *testing.T) {
	out := "## main...origin/main [ahead 2, behind 1]\n" +
		"M  staged.go\n" +
		" M unstaged.go\n" +
		"MM both.go\n" +
		"R  old.go -> new.go\n" +
		"?? new.txt\n" +
		"!! build/\n" +
		"UU conflict.go\n"

	rs, err := ParsePorcelain("lib", []byte(out))
	require.NoError(t, err)

	assert.Equal(t, Branch{Name: "main", Upstream: "origin/main", Ahead: 2, Behind: 1}, rs.Branch)
	require.Len(t, rs.Files, 7)

	tests := []struct {
		path                                          string
		staged, unstaged, untracked, ignored, conflict bool
	}{
		{"staged.go", true, false, false, false, false},
		{"unstaged.go", false, true, false, false, false},
		{"both.go", true, true, false, false, false},
		{"new.go", true, false, false, false, false},
		{"new.txt", false, true, true, false, false},
		{"build/", false, true, false, true, false},
		{"conflict.go", true, true, false, false, true},
	}
	for i, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := rs.Files[i]
			assert.Equal(t, "lib", f.RepoDir)
			assert.Equal(t, tt.path, f.Path)
			assert.Equal(t, tt.staged, f.IsStaged(), "staged")
			assert.Equal(t, tt.unstaged, f.IsUnstaged(), "unstaged")
			assert.Equal(t, tt.untracked, f.IsUntracked(), "untracked")
			assert.Equal(t, tt.ignored, f.IsIgnored(), "ignored")
			assert.Equal(t, tt.conflict, f.IsConflicted(), "conflicted")
		})
	}
	assert.Equal(t, "old.go", rs.Files[3].OldPath)
	assert.Equal(t, "R ", rs.Files[3].Code())
}

func TestParsePorcelain_QuotedPaths(t *testing.T) {
	out := "R  \"a b.txt\" -> \"c\\td.txt\"\n M \"sp ace.txt\"\n"
	rs, err := ParsePorcelain(".", []byte(out))
	require.NoError(t, err)
	require.Len(t, rs.Files, 2)
	assert.Equal(t, "a b.txt", rs.Files[0].OldPath)
	assert.Equal(t, "c\td.txt", rs.Files[0].Path)
	assert.Equal(t, "sp ace.txt", rs.Files[1].Path)
}

func TestParsePorcelain_BranchVariants(t *testing.T) {
	tests := []struct {
		line string
		want Branch
	}{
		{"## main", Branch{Name: "main"}},
		{"## No commits yet on main", Branch{Name: "main", Unborn: true}},
		{"## Initial commit on dev", Branch{Name: "dev", Unborn: true}},
		{"## HEAD (no branch)", Branch{Name: "HEAD", Detached: true}},
		{"## feat...origin/feat [gone]", Branch{Name: "feat", Upstream: "origin/feat", Gone: true}},
		{"## feat...origin/feat [behind 3]", Branch{Name: "feat", Upstream: "origin/feat", Behind: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rs, err := ParsePorcelain(".", []byte(tt.line+"\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs.Branch)
		})
	}
}

func TestParsePorcelain_MalformedLineIsSkipped(t *testing.T) {
	out := "## main\nbogus\n M ok.go\r\n"
	rs, err := ParsePorcelain(".", []byte(out))

	var pe *errors.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "status", pe.Stage)
	assert.Equal(t, int64(8), pe.Offset)
	assert.Equal(t, "bogus", pe.Line)

	require.Len(t, rs.Files, 1)
	assert.Equal(t, "ok.go", rs.Files[0].Path)
}
