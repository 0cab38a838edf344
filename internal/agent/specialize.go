package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/timxx/qgitc-sub000/internal/chathistory"
	"github.com/timxx/qgitc-sub000/internal/cherrypick"
	"github.com/timxx/qgitc-sub000/internal/conflict"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/git"
	"github.com/timxx/qgitc-sub000/internal/llm"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/tools"
)

// ----------------------------------------------------------------------------
// Code review
// ----------------------------------------------------------------------------

// ReviewSystemPrompt turns the model into a code reviewer.
const ReviewSystemPrompt = `You are a senior engineer reviewing a change in a Git repository.
Point out bugs, risky constructs and unclear code, most important first.
Quote the file and the line you refer to. Suggest concrete fixes.
Use the read-only git tools when you need more context than the diff.
If the change looks good, say so briefly.`

// NewCodeReview creates an Orchestrator that reviews diffs. Only read-only
// tools are offered.
func NewCodeReview(h *chathistory.History, opts Options) (*Orchestrator, error) {
	opts.SystemPrompt = ReviewSystemPrompt
	opts.ReadOnlyTools = true
	return New(h, opts)
}

// Review asks for a review of diff. target names what is reviewed, such
// as a commit or "the staged changes".
func (o *Orchestrator) Review(target, diff string) error {
	if strings.TrimSpace(diff) == "" {
		return errors.NewValidationError("nothing to review").WithField("diff")
	}
	return o.Send("Review "+target+".", "```diff\n"+strings.TrimRight(diff, "\n")+"\n```")
}

// ----------------------------------------------------------------------------
// Conflict resolution
// ----------------------------------------------------------------------------

// Verdict sentinels the resolver model ends its answer with.
const (
	ResolveOK     = "QGITC_RESOLVE_OK"
	ResolveFailed = "QGITC_RESOLVE_FAILED"
)

// DefaultResolveTimeout bounds one resolution.
const DefaultResolveTimeout = 5 * time.Minute

// ResolveSystemPrompt turns the model into a merge conflict resolver.
const ResolveSystemPrompt = `You resolve merge conflicts left by git cherry-pick.
Read the conflicted file and the commits involved with the git tools, then edit
the file with apply_patch so that both sides' intent is kept and no conflict
markers (<<<<<<<, =======, >>>>>>>) remain. Do not stage or commit.
When the file is resolved, end your answer with the line
` + ResolveOK + ` followed by a one-line summary.
If you cannot resolve it, end with
` + ResolveFailed + `: <reason>`

// ParseVerdict finds the verdict in the model's last answer. found is
// false when the answer has no sentinel.
func ParseVerdict(answer string) (ok bool, detail string, found bool) {
	lines := strings.Split(strings.TrimSpace(answer), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, cut := strings.CutPrefix(line, ResolveFailed); cut {
			return false, strings.TrimSpace(strings.TrimPrefix(rest, ":")), true
		}
		if rest, cut := strings.CutPrefix(line, ResolveOK); cut {
			detail = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			if detail == "" && i+1 < len(lines) {
				detail = strings.TrimSpace(lines[i+1])
			}
			return true, detail, true
		}
	}
	return false, "", false
}

// ConflictResolver asks the model to resolve a conflicted file. It
// implements cherrypick.Resolver.
type ConflictResolver struct {
	Adapter llm.Adapter
	Runner  git.Runner
	// Timeout overrides DefaultResolveTimeout.
	Timeout time.Duration
	Logger  *logging.Logger
}

var _ cherrypick.Resolver = (*ConflictResolver)(nil)

type publisherFunc func(e event.Event)

func (f publisherFunc) Publish(e event.Event) { f(e) }

// Resolve runs a conversation with write tools enabled in req.Dir. The
// file counts as resolved only when the model reports success and no
// conflict markers are left in it.
func (r *ConflictResolver) Resolve(ctx context.Context, req cherrypick.ResolveRequest) (cherrypick.ResolveResult, error) {
	if r.Adapter == nil {
		return cherrypick.ResolveResult{}, errors.NewValidationError("no model adapter").WithField("adapter")
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("resolver").WithRepo(req.RepoDir).With("path", req.Path)
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reg := tools.NewRegistry(logger)
	if err := (&tools.GitTools{Runner: r.Runner, Root: req.Dir}).Register(reg); err != nil {
		return cherrypick.ResolveResult{}, err
	}

	loop := event.NewLoop(logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = loop.Run(ctx)
	}()

	finished := make(chan State, 1)
	pub := publisherFunc(func(e event.Event) {
		se, ok := e.(event.AgentStateEvent)
		if !ok {
			return
		}
		if s := State(se.State); s == StateIdle || s == StateError {
			select {
			case finished <- s:
			default:
			}
		}
	})

	var (
		orch  *Orchestrator
		start = make(chan error, 1)
		fail  error
	)
	loop.Post(func() {
		o, err := New(nil, Options{
			Adapter:         r.Adapter,
			Tools:           reg,
			Dispatcher:      loop,
			Publisher:       pub,
			SystemPrompt:    ResolveSystemPrompt,
			AllowWriteTools: true,
			OnError:         func(err error) { fail = err },
			Logger:          logger,
		})
		if err == nil {
			orch = o
			err = o.Send(resolvePrompt(req), req.Excerpt)
		}
		start <- err
	})

	// Once the loop has stopped the orchestrator is only touched here.
	stop := func() {
		loop.Close()
		wg.Wait()
		if orch != nil {
			orch.Close()
		}
	}

	select {
	case err := <-start:
		if err != nil {
			stop()
			return cherrypick.ResolveResult{}, err
		}
	case <-ctx.Done():
		stop()
		return r.interrupted(ctx, req, timeout)
	}

	var state State
	select {
	case state = <-finished:
	case <-ctx.Done():
		stop()
		return r.interrupted(ctx, req, timeout)
	}
	stop()

	if state == StateError {
		logger.Warn("model failed while resolving", "error", fail)
		return cherrypick.ResolveResult{Detail: "model request failed"}, fail
	}

	answer := lastAnswer(orch.History())
	ok, detail, found := ParseVerdict(answer)
	if !found {
		return cherrypick.ResolveResult{Detail: "model gave no verdict"}, nil
	}
	if !ok {
		logger.Info("model could not resolve conflict", "reason", detail)
		return cherrypick.ResolveResult{Detail: detail}, nil
	}

	data, err := os.ReadFile(filepath.Join(req.Dir, filepath.FromSlash(req.Path)))
	if err != nil {
		return cherrypick.ResolveResult{Detail: "resolved file unreadable"}, err
	}
	if conflict.HasMarkers(data) {
		logger.Warn("model reported success but conflict markers remain")
		return cherrypick.ResolveResult{Detail: "conflict markers remain in " + req.Path}, nil
	}
	logger.Info("conflict resolved by model", "summary", detail)
	return cherrypick.ResolveResult{OK: true, Detail: detail}, nil
}

func (r *ConflictResolver) interrupted(ctx context.Context, req cherrypick.ResolveRequest, timeout time.Duration) (cherrypick.ResolveResult, error) {
	if ctx.Err() == context.DeadlineExceeded {
		return cherrypick.ResolveResult{Detail: "timed out"}, errors.NewTimeoutError("resolving "+req.Path, timeout)
	}
	return cherrypick.ResolveResult{}, errors.Wrap(errors.ErrCanceled, "resolve "+req.Path)
}

func resolvePrompt(req cherrypick.ResolveRequest) string {
	repo := req.RepoDir
	if repo == "" || repo == "." {
		repo = "the main repository"
	}
	return fmt.Sprintf("Cherry-picking %s (%q) into %s left conflicts in %s. Resolve them.",
		shortSHA(req.SHA1), req.Subject, repo, req.Path)
}

func lastAnswer(h *chathistory.History) string {
	for i := len(h.Messages) - 1; i >= 0; i-- {
		m := h.Messages[i]
		if m.Role == llm.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
