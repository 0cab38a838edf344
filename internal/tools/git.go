package tools

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/timxx/qgitc-sub000/internal/commitflow"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/git"
)

// GitTools runs the git tools against the work tree at Root. Every tool
// takes an optional repo_dir naming a submodule relative to Root.
type GitTools struct {
	Runner git.Runner
	Root   string
	// FS is the work tree seen by apply_patch. Nil uses the disk at Root.
	FS billy.Filesystem
}

var repoDirParam = Param{
	Name:        "repo_dir",
	Kind:        String,
	Description: "Submodule directory relative to the repository root. Omit for the main repository.",
}

func withRepo(params ...Param) Schema {
	return Schema{Params: append(params, repoDirParam)}
}

// Register adds the git tools and apply_patch to r.
func (g *GitTools) Register(r *Registry) error {
	for _, d := range g.Descriptors() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors returns the git tool descriptors.
func (g *GitTools) Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "git_status",
			Description: "Show the working tree status in porcelain format, with the branch on the first line.",
			Type:        ReadOnly,
			Schema: withRepo(Param{
				Name: "untracked", Kind: Boolean, Default: true,
				Description: "Include untracked files.",
			}),
			Execute: g.run(func(a Args) []string {
				args := []string{"status", "--porcelain=v1", "-b"}
				if !a.Bool("untracked") {
					args = append(args, "--untracked-files=no")
				}
				return args
			}),
		},
		{
			Name:        "git_log",
			Description: "List commits, newest first, one per line: short SHA-1, date, author and subject.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "max_count", Kind: Integer, Default: 20, Min: Bound(1), Max: Bound(500), Description: "Number of commits to list."},
				Param{Name: "rev", Kind: String, Description: "Revision or range, e.g. main..HEAD."},
				Param{Name: "path", Kind: String, Description: "Only commits touching this path."},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"log", "--no-color", "--date=short", "--pretty=format:%h %ad %an %s", fmt.Sprintf("-n%d", a.Int("max_count"))}
				if rev := a.String("rev"); rev != "" {
					args = append(args, rev)
				}
				if p := a.String("path"); p != "" {
					args = append(args, "--", p)
				}
				return args
			}),
		},
		{
			Name:        "git_show",
			Description: "Show a commit: its message and patch.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "rev", Kind: String, Required: true, Description: "Commit to show."},
				Param{Name: "stat_only", Kind: Boolean, Default: false, Description: "Show a diffstat instead of the patch."},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"show", "--no-color"}
				if a.Bool("stat_only") {
					args = append(args, "--stat")
				}
				return append(args, a.String("rev"))
			}),
		},
		{
			Name:        "git_diff",
			Description: "Show unstaged changes of the working tree.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "paths", Kind: Array, Description: "Limit the diff to these paths."},
				Param{Name: "context_lines", Kind: Integer, Default: 3, Min: Bound(0), Max: Bound(100)},
			),
			Execute: g.run(func(a Args) []string {
				return diffArgs(a, "diff")
			}),
		},
		{
			Name:        "git_diff_staged",
			Description: "Show the changes staged for the next commit.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "paths", Kind: Array, Description: "Limit the diff to these paths."},
				Param{Name: "context_lines", Kind: Integer, Default: 3, Min: Bound(0), Max: Bound(100)},
			),
			Execute: g.run(func(a Args) []string {
				return diffArgs(a, "diff", "--cached")
			}),
		},
		{
			Name:        "git_diff_index_file",
			Description: "Show the changes of one file against a commit, HEAD by default.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "path", Kind: String, Required: true},
				Param{Name: "rev", Kind: String, Default: "HEAD"},
				Param{Name: "cached", Kind: Boolean, Default: false, Description: "Compare the index instead of the working tree."},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"diff-index", "-p", "--no-color"}
				if a.Bool("cached") {
					args = append(args, "--cached")
				}
				return append(args, a.String("rev"), "--", a.String("path"))
			}),
		},
		{
			Name:        "git_blame",
			Description: "Show who last changed each line of a file.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "path", Kind: String, Required: true},
				Param{Name: "rev", Kind: String},
				Param{Name: "start_line", Kind: Integer, Min: Bound(1)},
				Param{Name: "end_line", Kind: Integer, Min: Bound(1)},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"blame", "--date=short"}
				if s := a.Int("start_line"); s > 0 {
					e := a.Int("end_line")
					if e < s {
						e = s
					}
					args = append(args, fmt.Sprintf("-L%d,%d", s, e))
				}
				if rev := a.String("rev"); rev != "" {
					args = append(args, rev)
				}
				return append(args, "--", a.String("path"))
			}),
		},
		{
			Name:        "git_branch",
			Description: "List branches.",
			Type:        ReadOnly,
			Schema:      withRepo(Param{Name: "all", Kind: Boolean, Default: false, Description: "Include remote branches."}),
			Execute: g.run(func(a Args) []string {
				args := []string{"branch", "--no-color"}
				if a.Bool("all") {
					args = append(args, "-a")
				}
				return args
			}),
		},
		{
			Name:        "git_current_branch",
			Description: "Print the checked out branch, or HEAD when detached.",
			Type:        ReadOnly,
			Schema:      withRepo(),
			Execute: g.run(func(Args) []string {
				return []string{"rev-parse", "--abbrev-ref", "HEAD"}
			}),
		},
		{
			Name:        "git_show_file",
			Description: "Print a file as of a revision.",
			Type:        ReadOnly,
			Schema: withRepo(
				Param{Name: "path", Kind: String, Required: true},
				Param{Name: "rev", Kind: String, Default: "HEAD"},
			),
			Execute: g.run(func(a Args) []string {
				return []string{"show", a.String("rev") + ":" + filepath.ToSlash(a.String("path"))}
			}),
		},
		{
			Name:        "git_add",
			Description: "Stage files for the next commit.",
			Type:        Write,
			Schema:      withRepo(Param{Name: "paths", Kind: Array, Required: true, MinItems: 1}),
			Execute: g.run(func(a Args) []string {
				return commitflow.StageArgs(a.Strings("paths"))
			}),
		},
		{
			Name:        "git_commit",
			Description: "Commit the staged changes.",
			Type:        Write,
			Schema: withRepo(
				Param{Name: "message", Kind: String, Required: true},
				Param{Name: "amend", Kind: Boolean, Default: false},
			),
			Execute: func(ctx context.Context, a Args) (string, error) {
				msg, err := commitflow.FilterMessage(a.String("message"), false)
				if err != nil {
					return "", err
				}
				return g.exec(ctx, a, commitflow.CommitArgs(msg, a.Bool("amend"), ""))
			},
		},
		{
			Name:        "git_checkout",
			Description: "Switch to a branch, optionally creating it.",
			Type:        Write,
			Schema: withRepo(
				Param{Name: "branch", Kind: String, Required: true},
				Param{Name: "create", Kind: Boolean, Default: false},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"checkout"}
				if a.Bool("create") {
					args = append(args, "-b")
				}
				return append(args, a.String("branch"))
			}),
		},
		{
			Name:        "git_cherry_pick",
			Description: "Apply the changes of existing commits onto the current branch, oldest first.",
			Type:        Write,
			Schema: withRepo(
				Param{Name: "commits", Kind: Array, Required: true, MinItems: 1, MaxItems: 50},
				Param{Name: "record_origin", Kind: Boolean, Default: false, Description: "Append the picked commit id to the message."},
			),
			Execute: g.run(func(a Args) []string {
				args := []string{"cherry-pick"}
				if a.Bool("record_origin") {
					args = append(args, "-x")
				}
				return append(args, a.Strings("commits")...)
			}),
		},
		{
			Name: "apply_patch",
			Description: "Edit files with a V4A patch: *** Begin Patch, then *** Update File:, *** Add File: " +
				"or *** Delete File: sections, then *** End Patch. Update hunks start with @@ and list " +
				"context lines with a leading space, removed lines with - and added lines with +. " +
				"Context must match the file exactly, including indentation.",
			Type:   Write,
			Schema: withRepo(Param{Name: "input", Kind: String, Required: true, Description: "The patch text."}),
			Execute: func(_ context.Context, a Args) (string, error) {
				p, err := ParsePatch(a.String("input"))
				if err != nil {
					return "", err
				}
				fs, root, err := g.filesystem(a.String("repo_dir"))
				if err != nil {
					return "", err
				}
				res, err := ApplyPatch(fs, root, p)
				if err != nil {
					return "", err
				}
				return res.String(), nil
			},
		},
	}
}

func diffArgs(a Args, verb ...string) []string {
	args := append(verb, "--no-color", fmt.Sprintf("-U%d", a.Int("context_lines")))
	if paths := a.Strings("paths"); len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	return args
}

func (g *GitTools) run(build func(Args) []string) ExecuteFunc {
	return func(ctx context.Context, a Args) (string, error) {
		return g.exec(ctx, a, build(a))
	}
}

func (g *GitTools) exec(ctx context.Context, a Args, args []string) (string, error) {
	dir, err := g.dir(a.String("repo_dir"))
	if err != nil {
		return "", err
	}
	res, err := g.Runner.Run(ctx, git.Request{Dir: dir, Args: args})
	out := ""
	if res != nil {
		out = strings.TrimRight(string(res.Stdout), "\n")
	}
	return out, err
}

// dir resolves repo_dir below Root.
func (g *GitTools) dir(repoDir string) (string, error) {
	rel, err := relRepoDir(repoDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(g.Root, filepath.FromSlash(rel)), nil
}

func (g *GitTools) filesystem(repoDir string) (billy.Filesystem, string, error) {
	rel, err := relRepoDir(repoDir)
	if err != nil {
		return nil, "", err
	}
	fs := g.FS
	if fs == nil {
		fs = osfs.New(g.Root)
	}
	root := filepath.Join(g.Root, filepath.FromSlash(rel))
	if rel == "." {
		return fs, root, nil
	}
	sub, err := fs.Chroot(rel)
	return sub, root, err
}

func relRepoDir(repoDir string) (string, error) {
	repoDir = filepath.ToSlash(strings.TrimSpace(repoDir))
	if repoDir == "" {
		return ".", nil
	}
	if path.IsAbs(repoDir) || filepath.IsAbs(repoDir) {
		return "", errors.NewValidationError("must be relative to the repository root").WithField("repo_dir").WithValue(repoDir)
	}
	rel := path.Clean(repoDir)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.NewValidationError("escapes the repository root").WithField("repo_dir").WithValue(repoDir)
	}
	return rel, nil
}
