// Package testutil provides testing utilities for QGitc tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Test identity used for every commit made by these helpers.
const (
	TestAuthorName  = "QGitc Test"
	TestAuthorEmail = "test@qgitc.dev"
)

// SetupTestRepo creates a temporary git repository with one commit on
// branch main. The repository is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	RunGit(t, dir, "init", "-q")
	RunGit(t, dir, "config", "user.email", TestAuthorEmail)
	RunGit(t, dir, "config", "user.name", TestAuthorName)
	RunGit(t, dir, "config", "commit.gpgsign", "false")
	RunGit(t, dir, "config", "protocol.file.allow", "always")

	WriteFile(t, dir, "README.md", "# Test Repository\n")
	RunGit(t, dir, "add", ".")
	RunGit(t, dir, "commit", "-q", "-m", "Initial commit")
	RunGit(t, dir, "branch", "-M", "main")

	return dir
}

// SetupTestRepoWithContent creates a test repository with the given files
// committed on top of the initial commit.
func SetupTestRepoWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestRepo(t)
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	RunGit(t, dir, "add", ".")
	RunGit(t, dir, "commit", "-q", "-m", "Add test files")
	return dir
}

// SetupRepoWithSubmodules creates a main repository containing one
// submodule per name, each backed by its own temporary origin repository.
// It returns the main repository path.
func SetupRepoWithSubmodules(t *testing.T, names ...string) string {
	t.Helper()

	root := SetupTestRepo(t)
	for _, name := range names {
		origin := SetupTestRepo(t)
		CommitFile(t, origin, "lib.txt", name+"\n", "Add "+name)
		RunGit(t, root, "-c", "protocol.file.allow=always", "submodule", "add", "-q", origin, name)
		sub := filepath.Join(root, name)
		RunGit(t, sub, "config", "user.email", TestAuthorEmail)
		RunGit(t, sub, "config", "user.name", TestAuthorName)
		RunGit(t, sub, "config", "commit.gpgsign", "false")
		RunGit(t, sub, "checkout", "-q", "-B", "main")
	}
	if len(names) > 0 {
		RunGit(t, root, "commit", "-q", "-m", "Add submodules")
	}
	return root
}

// WriteFile writes content to path relative to dir, creating directories.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()

	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// ReadFile returns the content of path relative to dir.
func ReadFile(t *testing.T, dir, path string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	WriteFile(t, repoDir, path, content)
	RunGit(t, repoDir, "add", path)
	RunGit(t, repoDir, "commit", "-q", "-m", message)
}

// HeadSHA returns the full SHA-1 of HEAD.
func HeadSHA(t *testing.T, repoDir string) string {
	t.Helper()
	return RunGit(t, repoDir, "rev-parse", "HEAD")
}

// CurrentBranch returns the current branch name.
func CurrentBranch(t *testing.T, repoDir string) string {
	t.Helper()
	return RunGit(t, repoDir, "rev-parse", "--abbrev-ref", "HEAD")
}

// CommitCount returns the number of commits reachable from HEAD.
func CommitCount(t *testing.T, repoDir string) int {
	t.Helper()

	out := RunGit(t, repoDir, "rev-list", "--count", "HEAD")
	n := 0
	for _, c := range out {
		if c < '0' || c > '9' {
			t.Fatalf("unexpected rev-list output %q", out)
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// RunGit runs git in dir with a fixed identity, fails the test on error and
// returns trimmed stdout.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+TestAuthorName,
		"GIT_AUTHOR_EMAIL="+TestAuthorEmail,
		"GIT_COMMITTER_NAME="+TestAuthorName,
		"GIT_COMMITTER_EMAIL="+TestAuthorEmail,
		"GIT_CONFIG_NOSYSTEM=1",
	)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimRight(stdout.String(), "\n")
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}
