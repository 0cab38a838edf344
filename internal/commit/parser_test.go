package commit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

const (
	sha1A = "0123456789abcdef0123456789abcdef01234567"
	sha1B = "89abcdef0123456789abcdef0123456789abcdef"
)

func record(fields ...string) string {
	return strings.Join(fields, "\x01")
}

func compactRecord(sha1, subject, parents string) string {
	return record(sha1, subject, subject+"\n\nbody\n",
		"Alice <alice@example.com>", "2024-03-01T10:00:00+08:00",
		"Bob <bob@example.com>", "2024-03-02T11:30:00Z",
		parents)
}

func TestParser_SingleRecordScenario(t *testing.T) {
	p := NewParser("", nil, nil)
	in := "abc123\x01fix\x01fix\n\x01A <a@x>\x01A <a@x>\x01 2024-01-01T00:00:00Z\x01A <a@x>\x01 2024-01-01T00:00:00Z\x01\x00"

	commits := p.Feed([]byte(in))
	commits = append(commits, p.Flush()...)

	require.Len(t, commits, 1)
	c := commits[0]
	assert.Equal(t, "abc123", c.SHA1)
	assert.Equal(t, "fix", c.Subject)
	assert.Equal(t, "fix\n", c.Message)
	assert.Empty(t, c.Parents)
	assert.Equal(t, "A", c.Author.Name)
	assert.Equal(t, "a@x", c.Author.Email)
	assert.True(t, c.Author.When.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, ".", c.RepoDir)
}

func TestParser_CompactFormat(t *testing.T) {
	p := NewParser("libs/core", nil, nil)
	in := compactRecord(sha1A, "feat: add", sha1B+" "+sha1B) + "\x00"

	commits := p.Feed([]byte(in))
	require.Len(t, commits, 1)
	c := commits[0]

	assert.True(t, c.IsValid())
	assert.Equal(t, "libs/core", c.RepoDir)
	assert.Equal(t, "Alice", c.Author.Name)
	assert.Equal(t, "alice@example.com", c.Author.Email)
	assert.Equal(t, "2024-03-01T10:00:00+08:00", c.Author.Raw)
	assert.Equal(t, "Bob <bob@example.com>", c.Committer.String())
	assert.Equal(t, []string{sha1B, sha1B}, c.Parents)
	assert.Equal(t, "0123456", c.ShortSHA1(7))
}

func TestParser_WideFormat(t *testing.T) {
	p := NewParser(".", nil, nil)
	in := record(sha1A, "s", "m", "Alice", "alice@example.com", "2024-03-01T10:00:00Z",
		"Bob", "bob@example.com", "2024-03-01T10:00:00Z", sha1B)

	commits := p.Feed([]byte(in))
	assert.Empty(t, commits, "last record has no terminator")
	commits = p.Flush()
	require.Len(t, commits, 1)

	c := commits[0]
	assert.Equal(t, "Alice", c.Author.Name)
	assert.Equal(t, "alice@example.com", c.Author.Email)
	assert.Equal(t, "2024-03-01T10:00:00Z", c.Author.Raw)
	assert.True(t, c.Author.When.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "bob@example.com", c.Committer.Email)
	assert.Equal(t, []string{sha1B}, c.Parents)
}

func TestParser_MalformedRecordContinues(t *testing.T) {
	p := NewParser(".", nil, nil)
	in := "garbage\x01only-two\x00" + compactRecord(sha1A, "ok", "") + "\x00"

	commits := p.Feed([]byte(in))
	require.Len(t, commits, 2)
	assert.False(t, commits[0].IsValid())
	assert.Empty(t, commits[0].SHA1)
	assert.Equal(t, "garbage\x01only-two", commits[0].Record())
	assert.True(t, commits[1].IsValid())
	assert.Equal(t, "ok", commits[1].Subject)
}

func TestParser_RecordRoundTrip(t *testing.T) {
	recs := []string{
		compactRecord(sha1A, "one", sha1B),
		compactRecord(sha1B, "two", ""),
		record(sha1A, "s", "m", "A", "a@x", "2024-01-01T00:00:00Z", "C", "c@x", "2024-01-01T00:00:00Z", ""),
	}
	p := NewParser(".", nil, nil)
	commits := p.Feed([]byte(strings.Join(recs, "\x00") + "\x00"))

	require.Len(t, commits, len(recs))
	for i, c := range commits {
		assert.Equal(t, recs[i], c.Record())
	}
}

func TestParser_ChunkBoundaries(t *testing.T) {
	subject := "修复 naïve 解析"
	stream := []byte(compactRecord(sha1A, subject, "") + "\x00" + compactRecord(sha1B, "second", sha1A))

	// Every split point, including ones inside multi-byte characters.
	for split := 1; split < len(stream); split++ {
		p := NewParser(".", nil, nil)
		var commits []*Commit
		commits = append(commits, p.Feed(stream[:split])...)
		commits = append(commits, p.Feed(stream[split:])...)
		commits = append(commits, p.Flush()...)

		require.Len(t, commits, 2, "split at %d", split)
		assert.Equal(t, subject, commits[0].Subject, "split at %d", split)
		assert.Equal(t, []string{sha1A}, commits[1].Parents, "split at %d", split)
	}
}

func TestParser_ByteAtATime(t *testing.T) {
	first := compactRecord(sha1A, "a", "")
	stream := []byte(first + "\x00" + compactRecord(sha1B, "b", "") + "\x00")

	p := NewParser(".", nil, nil)
	var commits []*Commit
	for i := range stream {
		commits = append(commits, p.Feed(stream[i:i+1])...)
		if len(commits) == 1 {
			assert.Equal(t, int64(len(first)+1), p.Offset())
		}
	}
	require.Len(t, commits, 2)
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, int64(len(stream)), p.Offset())
}

func TestParser_SecondaryEncoding(t *testing.T) {
	codec, err := textcodec.New("gbk")
	require.NoError(t, err)

	// "中文" in GBK.
	gbk := string([]byte{0xd6, 0xd0, 0xce, 0xc4})
	p := NewParser(".", codec, nil)
	commits := p.Feed([]byte(compactRecord(sha1A, gbk, "") + "\x00"))

	require.Len(t, commits, 1)
	assert.Equal(t, "中文", commits[0].Subject)
}

func TestParser_InvalidBytesAreReplaced(t *testing.T) {
	p := NewParser(".", nil, nil)
	commits := p.Feed([]byte(compactRecord(sha1A, "bad \xff byte", "") + "\x00"))

	require.Len(t, commits, 1)
	assert.Equal(t, "bad � byte", commits[0].Subject)
}

func TestParser_SkipsBlankRecords(t *testing.T) {
	p := NewParser(".", nil, nil)
	commits := p.Feed([]byte("\x00\n\x00" + compactRecord(sha1A, "x", "") + "\x00\n"))
	commits = append(commits, p.Flush()...)
	assert.Len(t, commits, 1)
}

func TestIsValidSHA1(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{sha1A, true},
		{"abc1234", true},
		{"abc123", false},
		{"ABC1234", false},
		{sha1A + "0", false},
		{"xyz1234", false},
		{LUCSHA1, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidSHA1(tt.in))
		})
	}
	assert.True(t, IsSentinel(LUCSHA1))
	assert.True(t, IsSentinel(LCCSHA1))
	assert.False(t, IsSentinel(sha1A))
}

func TestLinkChildren(t *testing.T) {
	root := &Commit{SHA1: "aaaaaaa"}
	mid := &Commit{SHA1: "bbbbbbb", Parents: []string{"aaaaaaa"}}
	tip := &Commit{SHA1: "ccccccc", Parents: []string{"bbbbbbb", "aaaaaaa"}}
	bad := &Commit{}

	LinkChildren([]*Commit{tip, mid, root, bad})

	assert.ElementsMatch(t, []string{"bbbbbbb", "ccccccc"}, root.Children)
	assert.Equal(t, []string{"ccccccc"}, mid.Children)
	assert.Empty(t, tip.Children)
}

func TestCommit_HasPrefix(t *testing.T) {
	c := &Commit{SHA1: sha1A, SubCommits: []*Commit{{SHA1: sha1B}}}
	assert.True(t, c.HasPrefix("0123"))
	assert.True(t, c.HasPrefix("89ab"))
	assert.False(t, c.HasPrefix("89AB"))
	assert.False(t, c.HasPrefix(""))
}
