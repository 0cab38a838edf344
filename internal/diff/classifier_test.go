package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

type wantLine struct {
	typ  LineType
	text string
}

func classifyAll(t *testing.T, input string, chunk int) []LineItem {
	t.Helper()
	c := NewClassifier(nil)
	var out []LineItem
	data := []byte(input)
	if chunk <= 0 {
		chunk = len(data)
	}
	for len(data) > 0 {
		n := min(chunk, len(data))
		out = append(out, c.Feed(data[:n])...)
		data = data[n:]
	}
	return append(out, c.Flush()...)
}

func assertLines(t *testing.T, got []LineItem, want []wantLine) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].typ, got[i].Type, "line %d type", i)
		assert.Equal(t, want[i].text, got[i].Text(), "line %d text", i)
	}
}

func TestClassifier_ModifiedFile(t *testing.T) {
	input := "diff --git a/f b/f\nindex 0..1 100644\n--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-old\n+new\n"

	for _, chunk := range []int{0, 1, 3, 7} {
		got := classifyAll(t, input, chunk)
		assertLines(t, got, []wantLine{
			{LineFileInfo, "f"},
			{LineInfo, "index 0..1 100644"},
			{LineHunk, "@@ -1,1 +1,1 @@"},
			{LineDiff, "-old"},
			{LineDiff, "+new"},
		})
		require.NotNil(t, got[0].File)
		assert.Equal(t, StateModified, got[0].File.State)
		assert.Equal(t, "f", got[0].File.Path)
		assert.Equal(t, 0, got[0].File.Row)
		assert.Equal(t, "-", got[3].Prefix())
	}
}

func TestClassifier_FileStates(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		state   FileState
		path    string
		oldPath string
	}{
		{
			name:  "added",
			input: "diff --git a/n b/n\nnew file mode 100644\nindex 0000000..e69de29\n--- /dev/null\n+++ b/n\n@@ -0,0 +1 @@\n+x\n",
			state: StateAdded,
			path:  "n",
		},
		{
			name:  "deleted",
			input: "diff --git a/d b/d\ndeleted file mode 100644\nindex e69de29..0000000\n--- a/d\n+++ /dev/null\n@@ -1 +0,0 @@\n-x\n",
			state: StateDeleted,
			path:  "d",
		},
		{
			name:    "pure rename",
			input:   "diff --git a/old b/new\nsimilarity index 100%\nrename from old\nrename to new\n",
			state:   StateRenamed,
			path:    "new",
			oldPath: "old",
		},
		{
			name:    "rename with edits",
			input:   "diff --git a/old b/new\nsimilarity index 80%\nrename from old\nrename to new\nindex 1..2 100644\n--- a/old\n+++ b/new\n@@ -1 +1 @@\n-a\n+b\n",
			state:   StateRenamedModified,
			path:    "new",
			oldPath: "old",
		},
		{
			name:  "mode only",
			input: "diff --git a/s b/s\nold mode 100644\nnew mode 100755\n",
			state: StateNormal,
			path:  "s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAll(t, tt.input, 5)
			require.NotEmpty(t, got)
			require.Equal(t, LineFileInfo, got[0].Type)
			f := got[0].File
			assert.Equal(t, tt.state, f.State)
			assert.Equal(t, tt.path, f.Path)
			assert.Equal(t, tt.oldPath, f.OldPath)
			for _, l := range got {
				assert.NotContains(t, []string{"--- a/old", "+++ b/new"}, l.Text())
			}
		})
	}
}

func TestClassifier_MetadataOnlySection(t *testing.T) {
	got := classifyAll(t, "diff --git a/s b/s\nold mode 100644\nnew mode 100755\n", 0)
	assertLines(t, got, []wantLine{
		{LineFileInfo, "s"},
		{LineInfo, "old mode 100644"},
		{LineInfo, "new mode 100755"},
	})
}

func TestClassifier_Binary(t *testing.T) {
	input := "diff --git a/img.png b/img.png\nindex 1111111..2222222 100644\nBinary files a/img.png and b/img.png differ\n" +
		"diff --git a/t b/t\nindex 1..2 100644\n--- a/t\n+++ b/t\n@@ -1 +1 @@\n-a\n+b\n"

	got := classifyAll(t, input, 0)
	assertLines(t, got, []wantLine{
		{LineFileInfo, "img.png"},
		{LineInfo, "index 1111111..2222222 100644"},
		{LineInfo, "Binary files a/img.png and b/img.png differ"},
		{LineFileInfo, "t"},
		{LineInfo, "index 1..2 100644"},
		{LineHunk, "@@ -1 +1 @@"},
		{LineDiff, "-a"},
		{LineDiff, "+b"},
	})
	assert.True(t, got[0].File.Binary)
	assert.Equal(t, 3, got[3].File.Row)
}

func TestClassifier_NoNewline(t *testing.T) {
	input := "diff --git a/f b/f\nindex 1..2 100644\n--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n\\ No newline at end of file\n+a\n"
	got := classifyAll(t, input, 0)
	require.Len(t, got, 6)
	assert.Equal(t, LineDiff, got[4].Type)
	assert.True(t, got[4].NoNewline)
	assert.Empty(t, got[4].Prefix())
}

func TestClassifier_DashLinesInBodyAreNotSuppressed(t *testing.T) {
	input := "diff --git a/f b/f\nindex 1..2 100644\n--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n--- a/x\n+++ b/x\n"
	got := classifyAll(t, input, 0)
	require.Len(t, got, 5)
	assert.Equal(t, "--- a/x", got[3].Text())
	assert.Equal(t, "+++ b/x", got[4].Text())
}

func TestClassifier_CombinedDiff(t *testing.T) {
	input := "diff --cc conflict.txt\nindex 1111111,2222222..3333333\n--- a/conflict.txt\n+++ b/conflict.txt\n" +
		"@@@ -1,1 -1,1 +1,1 @@@\n- ours\n -theirs\n++merged\n"

	got := classifyAll(t, input, 4)
	assertLines(t, got, []wantLine{
		{LineFileInfo, "conflict.txt"},
		{LineInfo, "index 1111111,2222222..3333333"},
		{LineHunk, "@@@ -1,1 -1,1 +1,1 @@@"},
		{LineDiff, "- ours"},
		{LineDiff, " -theirs"},
		{LineDiff, "++merged"},
	})
	f := got[0].File
	assert.True(t, f.Combined)
	assert.Equal(t, 2, f.Parents)
	assert.Equal(t, 2, got[2].Parents)
	assert.Equal(t, 2, got[5].Parents)
	assert.Equal(t, "++", got[5].Prefix())
}

func TestClassifier_SubmoduleSummary(t *testing.T) {
	input := "Submodule libs/core 1234567..89abcde:\n  > Fix parser\n  > Add tests\n" +
		"Submodule vendor/zlib 0000000...1234567 (new submodule)\n"

	got := classifyAll(t, input, 0)
	assertLines(t, got, []wantLine{
		{LineFileInfo, "libs/core"},
		{LineInfo, "Submodule libs/core 1234567..89abcde:"},
		{LineDiff, "  > Fix parser"},
		{LineDiff, "  > Add tests"},
		{LineFileInfo, "vendor/zlib"},
		{LineInfo, "Submodule vendor/zlib 0000000...1234567 (new submodule)"},
	})
	assert.True(t, got[0].File.Submodule)
	assert.Equal(t, StateModified, got[0].File.State)
	assert.Equal(t, StateAdded, got[4].File.State)
}

func TestClassifier_RowsContinueAfterReset(t *testing.T) {
	c := NewClassifier(nil)
	c.ResetRow(100)
	out := c.Feed([]byte("header line\ndiff --git a/f b/f\nindex 1..2 100644\n@@ -1 +1 @@\n+x\n"))
	out = append(out, c.Flush()...)

	require.Len(t, out, 5)
	assert.Equal(t, LineNormal, out[0].Type)
	assert.Equal(t, 101, out[1].File.Row)
	assert.Equal(t, 105, c.Row())
}

func TestClassifier_StickyEncodingPerSection(t *testing.T) {
	codec, err := textcodec.New("gbk")
	require.NoError(t, err)
	c := NewClassifier(codec)

	gbk := string([]byte{0xd6, 0xd0, 0xce, 0xc4}) // 中文
	input := "diff --git a/a b/a\nindex 1..2 100644\n@@ -1 +1 @@\n+" + gbk + "\n" +
		"diff --git a/b b/b\nindex 1..2 100644\n@@ -1 +1 @@\n+caf\xc3\xa9\n"

	out := c.Feed([]byte(input))
	out = append(out, c.Flush()...)
	require.Len(t, out, 8)
	assert.Equal(t, "+中文", out[3].Text())
	assert.Equal(t, "+café", out[7].Text(), "encoding resets at the next file header")
}

func TestLineType_String(t *testing.T) {
	assert.Equal(t, "FileInfo", LineFileInfo.String())
	assert.Equal(t, "Hunk", LineHunk.String())
	assert.Equal(t, "Unknown", LineType(99).String())
	assert.Equal(t, "RenamedModified", StateRenamedModified.String())
}
