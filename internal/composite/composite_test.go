package composite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/executor"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/testutil"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mk(repo, sha, subject, email string, hour int) *commit.Commit {
	when := base.Add(time.Duration(hour) * time.Hour)
	return &commit.Commit{
		SHA1:    sha,
		Subject: subject,
		Author:  commit.Signature{Name: "dev", Email: email, When: when},
		RepoDir: repo,
	}
}

func shas(commits []*commit.Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.SHA1
	}
	return out
}

func TestMerge_GroupsMatchingCommits(t *testing.T) {
	perRepo := map[string][]*commit.Commit{
		".": {
			mk(".", "m3", "bump libs", "a@x", 3),
			mk(".", "m1", "initial", "a@x", 1),
		},
		"lib": {
			mk("lib", "l3", "bump libs", "a@x", 3),
			mk("lib", "l2", "lib only", "b@x", 2),
		},
		"app": {
			mk("app", "a3", "bump libs", "a@x", 3),
			mk("app", "a1", "initial", "other@x", 1),
		},
	}

	got := Merge([]string{".", "lib", "app"}, perRepo)
	require.Equal(t, []string{"m3", "l2", "m1", "a1"}, shas(got))

	assert.Equal(t, []string{"l3", "a3"}, shas(got[0].SubCommits))
	assert.Empty(t, got[1].SubCommits, "orphan submodule commit is standalone")
	assert.Equal(t, "lib", got[1].RepoDir)
	assert.Empty(t, got[2].SubCommits, "different author email is a different change")

	assert.Empty(t, perRepo["."][0].SubCommits, "inputs are not modified")
}

func TestMerge_OrphansGroupAcrossSubmodules(t *testing.T) {
	perRepo := map[string][]*commit.Commit{
		"lib": {mk("lib", "l1", "shared", "a@x", 1)},
		"app": {mk("app", "a1", "shared", "a@x", 1)},
	}
	got := Merge([]string{".", "lib", "app"}, perRepo)
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].SHA1)
	assert.Equal(t, []string{"a1"}, shas(got[0].SubCommits))
}

func TestMerge_SameKeyInOneRepoStaysSeparate(t *testing.T) {
	perRepo := map[string][]*commit.Commit{
		".":   {mk(".", "m2", "wip", "a@x", 1), mk(".", "m1", "wip", "a@x", 1)},
		"lib": {mk("lib", "l1", "wip", "a@x", 1)},
	}
	got := Merge([]string{".", "lib"}, perRepo)
	require.Equal(t, []string{"m2", "m1"}, shas(got))
	assert.Equal(t, []string{"l1"}, shas(got[0].SubCommits))
	assert.Empty(t, got[1].SubCommits)
}

func TestMerge_TieBreakByRepoOrder(t *testing.T) {
	perRepo := map[string][]*commit.Commit{
		".":   {mk(".", "m", "main change", "a@x", 5)},
		"lib": {mk("lib", "l", "lib change", "a@x", 5)},
		"app": {mk("app", "a", "app change", "a@x", 5)},
	}
	got := Merge([]string{".", "app", "lib"}, perRepo)
	assert.Equal(t, []string{"m", "a", "l"}, shas(got))
}

func TestMerge_DropsInvalidCommits(t *testing.T) {
	perRepo := map[string][]*commit.Commit{".": {{}, mk(".", "m", "x", "a@x", 1)}}
	assert.Equal(t, []string{"m"}, shas(Merge([]string{"."}, perRepo)))
}

func TestSnapshot_FindCommitIndex(t *testing.T) {
	c0 := mk(".", "aaa111", "a", "a@x", 3)
	c1 := mk(".", "bbb222", "b", "a@x", 2)
	c1.SubCommits = []*commit.Commit{mk("lib", "ccc333", "b", "a@x", 2)}
	c2 := mk(".", "aaa999", "c", "a@x", 1)
	s := &Snapshot{ID: 1, Commits: []*commit.Commit{c0, c1, c2}}

	tests := []struct {
		name   string
		prefix string
		start  int
		dir    Direction
		want   int
	}{
		{"forward from zero", "aaa", 0, Forward, 0},
		{"forward skips start", "aaa", 1, Forward, 2},
		{"backward", "aaa", 1, Backward, 0},
		{"sub-commit", "ccc", 0, Forward, 1},
		{"case sensitive", "AAA", 0, Forward, -1},
		{"no match", "fff", 0, Forward, -1},
		{"empty prefix", "", 0, Forward, -1},
		{"start clamped", "aaa9", 99, Backward, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.FindCommitIndex(tt.prefix, tt.start, tt.dir))
		})
	}

	assert.Equal(t, 1, s.IndexOf("ccc333"))
	sub, ok := s.ForRepo(1, "lib")
	require.True(t, ok)
	assert.Equal(t, "ccc333", sub.SHA1)
	_, ok = s.ForRepo(0, "lib")
	assert.False(t, ok)
}

func logRecord(sha, subject, email, date string) string {
	return strings.Join([]string{
		sha, subject, subject + "\n",
		"Dev <" + email + ">", date,
		"Dev <" + email + ">", date,
		"",
	}, "\x01") + "\x00"
}

func TestSource_Load(t *testing.T) {
	root := "/w"
	runner := testutil.NewFakeRunner().
		Add(testutil.FakeResponse{Dir: root, Args: []string{"log"}, ChunkSize: 7,
			Stdout: logRecord("1111111", "sync", "a@x", "2024-05-02T10:00:00Z") +
				logRecord("2222222", "main only", "a@x", "2024-05-01T10:00:00Z")}).
		Add(testutil.FakeResponse{Dir: filepath.Join(root, "lib"), Args: []string{"log"},
			Stdout: logRecord("3333333", "sync", "a@x", "2024-05-02T10:00:00Z")}).
		Add(testutil.FakeResponse{Dir: filepath.Join(root, "gone"), Args: []string{"log"},
			ExitCode: 128, Stderr: "fatal: bad revision"})

	loop := event.NewLoop(nil)
	src := NewSource(runner, executor.New(loop, executor.Options{Workers: 2}), root, []string{".", "lib", "gone"}, Options{})

	var snap *Snapshot
	var loadErr error
	counts := map[string]int{}
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := src.Load(context.Background(), "main", since, Handler{
		Repo:     func(repo string, n int) { counts[repo] = n },
		Finished: func(s *Snapshot, err error) { snap, loadErr = s, err },
	})
	b.Wait()
	loop.Drain()

	require.NoError(t, loadErr)
	require.NotNil(t, snap)
	assert.Equal(t, map[string]int{".": 2, "lib": 1}, counts)
	require.Equal(t, []string{"1111111", "2222222"}, shas(snap.Commits))
	assert.Equal(t, []string{"3333333"}, shas(snap.Commits[0].SubCommits))

	for _, args := range runner.CallArgs(false) {
		assert.Contains(t, args, "--since=2024-01-01T00:00:00Z")
		assert.True(t, strings.HasSuffix(args, " main"), args)
	}

	c, ok := src.View(snap.ID, 1)
	require.True(t, ok)
	assert.Equal(t, "main only", c.Subject)

	_, ok = src.View(snap.ID+1, 0)
	assert.False(t, ok, "stale snapshot id")
	assert.Same(t, snap, src.Snapshot())
}

func TestSource_LoadCanceledByContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := testutil.NewFakeRunner().Add(testutil.FakeResponse{Args: []string{"log"}, Block: block})

	src := NewSource(runner, executor.New(nil, executor.Options{}), "/w", []string{".", "lib"}, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan *Snapshot, 2)
	b := src.Load(ctx, "", time.Time{}, Handler{Finished: func(s *Snapshot, err error) {
		assert.NoError(t, err)
		finished <- s
	}})
	cancel()
	b.Wait()

	assert.True(t, b.Canceled())
	assert.Nil(t, <-finished)
	assert.Nil(t, src.Snapshot())
}

func TestSource_RealRepositories(t *testing.T) {
	testutil.SkipIfNoGit(t)
	root := testutil.SetupRepoWithSubmodules(t, "lib")

	src := NewSource(git.NewInvoker(git.Options{}), executor.New(nil, executor.Options{}), root, []string{".", "lib"}, Options{})
	var snap *Snapshot
	src.Load(context.Background(), "HEAD", time.Time{}, Handler{
		Finished: func(s *Snapshot, err error) {
			require.NoError(t, err)
			snap = s
		},
	}).Wait()

	require.NotNil(t, snap)
	assert.GreaterOrEqual(t, snap.Len(), 3)
	assert.Equal(t, 0, snap.FindCommitIndex(snap.Commits[0].SHA1[:7], 0, Forward))
}
