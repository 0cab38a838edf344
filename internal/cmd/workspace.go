package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/diff"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/repo"
	"github.com/timxx/qgitc-sub000/internal/settings"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// workspace holds what every repository command needs: configuration,
// logger, git invoker and the discovered repository with its submodules.
type workspace struct {
	cfg    *config.Config
	logger *logging.Logger
	git    *git.Invoker
	codec  *textcodec.Codec
	repo   *repo.Repository
	repos  []string
	store  *settings.Store
}

// workspaceOptions tunes openWorkspace.
type workspaceOptions struct {
	// NoRepo skips repository discovery.
	NoRepo bool
	// Refresh ignores the cached submodule list.
	Refresh bool
}

func openWorkspace(opts workspaceOptions) (*workspace, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(config.DataDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		// Logging is best effort; fall back to stderr.
		logger, _ = logging.NewLogger("", cfg.Logging.Level, logging.DefaultRotationConfig())
	}

	codec, err := textcodec.New(cfg.Git.SecondaryEncoding)
	if err != nil {
		logger.Warn("unknown secondary encoding, using UTF-8 only",
			"encoding", cfg.Git.SecondaryEncoding, "error", err.Error())
		codec, _ = textcodec.New("")
	}

	ws := &workspace{
		cfg:    cfg,
		logger: logger,
		codec:  codec,
		git: git.NewInvoker(git.Options{
			Binary:      cfg.Git.Binary,
			CancelGrace: cfg.Git.CancelGrace(),
			Logger:      logger,
		}),
	}

	if store, err := settings.Open(cfg.Storage.ResolvePath()); err != nil {
		logger.Warn("settings store unavailable", "path", cfg.Storage.ResolvePath(), "error", err.Error())
	} else {
		ws.store = store
	}

	if opts.NoRepo {
		return ws, nil
	}

	start := repoPath
	if start == "" {
		if start, err = os.Getwd(); err != nil {
			ws.Close()
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	r, err := repo.Discover(start)
	if err != nil {
		ws.Close()
		return nil, err
	}
	repos, err := r.LoadSubmodules(repo.SubmoduleOptions{
		Exclude: cfg.Submodules.Exclude,
		Cache:   ws.kv(),
		Refresh: opts.Refresh,
		Logger:  logger,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.repo = r
	ws.repos = repos
	logger.Debug("workspace opened", "root", r.Root, "repositories", len(repos))
	return ws, nil
}

// kv returns the settings store, or nil when it could not be opened.
func (w *workspace) kv() settings.KV {
	if w.store == nil {
		return nil
	}
	return w.store
}

func (w *workspace) root() string {
	return w.repo.Root
}

// dir returns the absolute work tree of repoDir.
func (w *workspace) dir(repoDir string) string {
	return filepath.Join(w.repo.Root, filepath.FromSlash(repoDir))
}

func (w *workspace) diffOptions() diff.Options {
	return diff.Options{
		ContextLines:     w.cfg.Diff.ContextLines,
		IgnoreWhitespace: w.cfg.Diff.IgnoreWhitespace,
	}
}

// startLoop runs a UI-context loop until ctx is done. The returned stop
// function runs the closures still queued and waits for the loop.
func (w *workspace) startLoop(ctx context.Context) (*event.Loop, func()) {
	loop := event.NewLoop(w.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	return loop, func() {
		loop.Close()
		<-done
	}
}

func (w *workspace) Close() {
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.logger.Warn("failed to close settings store", "error", err.Error())
		}
	}
	_ = w.logger.Close()
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of stdout, or 0 when it is not a terminal.
func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !isTerminal(f) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
