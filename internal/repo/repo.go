// Package repo discovers the repository a command runs in and enumerates
// the submodules that make up its composite history.
package repo

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/gobwas/glob"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/settings"
)

// MainRepo is the submodule name of the top-level repository.
const MainRepo = "."

// Repository is a discovered work tree.
type Repository struct {
	// Root is the absolute path of the top-level work tree.
	Root string
	// Submodules lists repo-relative submodule directories with MainRepo
	// first. It is empty until LoadSubmodules is called.
	Submodules []string

	repo *gogit.Repository
}

// Identity is the configured committer.
type Identity struct {
	Name  string
	Email string
}

// String formats the identity the way git prints it.
func (i Identity) String() string {
	if i.Email == "" {
		return i.Name
	}
	return i.Name + " <" + i.Email + ">"
}

// Discover finds the repository containing path, walking up parent
// directories. It fails with errors.ErrRepoNotFound when there is none.
func Discover(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewNotFoundError("repository", path).WithCause(errors.Join(errors.ErrRepoNotFound, err))
	}

	r, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, errors.NewNotFoundError("repository", abs).WithCause(errors.Join(errors.ErrRepoNotFound, err))
	}

	wt, err := r.Worktree()
	if err != nil {
		// Bare repositories have no work tree to show.
		return nil, errors.NewNotFoundError("repository", abs).WithCause(errors.Join(errors.ErrRepoNotFound, err))
	}

	return &Repository{
		Root: wt.Filesystem.Root(),
		repo: r,
	}, nil
}

// Dir returns the absolute directory of a submodule.
func (r *Repository) Dir(submodule string) string {
	if submodule == "" || submodule == MainRepo {
		return r.Root
	}
	return filepath.Join(r.Root, filepath.FromSlash(submodule))
}

// Rel converts an absolute path inside the work tree to a repo-relative
// slash path. Paths outside the work tree are returned unchanged.
func (r *Repository) Rel(path string) string {
	rel, err := filepath.Rel(r.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// Identity reads user.name and user.email from the repository config,
// falling back to the global and system scopes.
func (r *Repository) Identity() (Identity, error) {
	cfg, err := r.repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return Identity{}, errors.Wrap(err, "read git config")
	}
	id := Identity{Name: cfg.User.Name, Email: cfg.User.Email}
	if cfg.Committer.Name != "" {
		id.Name = cfg.Committer.Name
	}
	if cfg.Committer.Email != "" {
		id.Email = cfg.Committer.Email
	}
	return id, nil
}

// ----------------------------------------------------------------------------
// Submodules
// ----------------------------------------------------------------------------

// SubmoduleOptions controls LoadSubmodules.
type SubmoduleOptions struct {
	// Exclude holds glob patterns; matching submodules are dropped.
	Exclude []string
	// Cache, when set, stores the enumerated list under
	// "submodules/<root>" and serves it on later calls.
	Cache settings.KV
	// Refresh ignores a cached list.
	Refresh bool
	Logger  *logging.Logger
}

// cacheEntry is the persisted submodule list.
type cacheEntry struct {
	Submodules []string `json:"submodules"`
}

// CacheKey returns the settings key of the submodule cache for root.
func CacheKey(root string) string {
	return settings.Key("submodules", root)
}

// LoadSubmodules enumerates submodules, filters them and stores the result
// in r.Submodules. MainRepo is always the first entry and is never
// excluded.
func (r *Repository) LoadSubmodules(opts SubmoduleOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("repo").WithRepo(r.Root)

	excluder, err := NewExcluder(opts.Exclude)
	if err != nil {
		return nil, err
	}

	var paths []string
	cached := false
	if opts.Cache != nil && !opts.Refresh {
		var entry cacheEntry
		if err := settings.GetJSON(opts.Cache, CacheKey(r.Root), &entry); err == nil {
			paths = entry.Submodules
			cached = true
		}
	}

	if !cached {
		paths, err = r.listSubmodules()
		if err != nil {
			return nil, err
		}
		if opts.Cache != nil {
			if err := settings.SetJSON(opts.Cache, CacheKey(r.Root), cacheEntry{Submodules: paths}); err != nil {
				logger.Warn("failed to cache submodules", "error", err.Error())
			}
		}
	}

	result := []string{MainRepo}
	for _, p := range paths {
		if p == MainRepo || excluder.Match(p) {
			continue
		}
		result = append(result, p)
	}
	logger.Debug("submodules loaded", "count", len(result)-1, "cached", cached)

	r.Submodules = result
	return result, nil
}

// listSubmodules asks go-git for the submodules of the work tree and
// falls back to parsing .gitmodules directly when that fails.
func (r *Repository) listSubmodules() ([]string, error) {
	var paths []string
	if wt, err := r.repo.Worktree(); err == nil {
		if subs, err := wt.Submodules(); err == nil {
			for _, s := range subs {
				paths = append(paths, filepath.ToSlash(s.Config().Path))
			}
			slices.Sort(paths)
			return paths, nil
		}
	}

	infos, err := ReadGitmodules(filepath.Join(r.Root, ".gitmodules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read .gitmodules")
	}
	for _, info := range infos {
		paths = append(paths, filepath.ToSlash(info.Path))
	}
	slices.Sort(paths)
	return paths, nil
}

// ----------------------------------------------------------------------------
// Exclusion
// ----------------------------------------------------------------------------

// Excluder matches submodule paths against glob patterns. "*" does not
// cross "/", "**" does.
type Excluder struct {
	globs []glob.Glob
}

// NewExcluder compiles patterns.
func NewExcluder(patterns []string) (*Excluder, error) {
	e := &Excluder{}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid submodule exclude pattern").
				WithField("submodules.exclude").
				WithValue(p)
		}
		e.globs = append(e.globs, g)
	}
	return e, nil
}

// Match reports whether path matches any pattern.
func (e *Excluder) Match(path string) bool {
	if e == nil {
		return false
	}
	for _, g := range e.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
