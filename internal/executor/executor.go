// Package executor fans work out across submodules.
//
// A batch runs one action per submodule on a bounded worker pool and
// delivers results on the caller's dispatcher, so result handlers never
// run concurrently with each other or with UI code. Single-item batches
// run inline on the caller.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// DefaultForceGrace is how long a forced cancel waits for workers.
const DefaultForceGrace = 50 * time.Millisecond

// Item is one unit of work: a submodule and optional user data.
type Item struct {
	Repo string
	Data any
}

// Items builds work items from submodule paths.
func Items(repos []string) []Item {
	items := make([]Item, len(repos))
	for i, r := range repos {
		items[i] = Item{Repo: r}
	}
	return items
}

// ItemsFromMap builds work items from a submodule to data map, ordered by
// submodule.
func ItemsFromMap[T any](m map[string]T) []Item {
	repos := make([]string, 0, len(m))
	for r := range m {
		repos = append(repos, r)
	}
	slices.Sort(repos)
	items := make([]Item, len(repos))
	for i, r := range repos {
		items[i] = Item{Repo: r, Data: m[r]}
	}
	return items
}

// Action does the work for one item. ctx is canceled when the batch is;
// actions should check it between I/O steps.
type Action func(ctx context.Context, item Item) (any, error)

// Result is the outcome of one action.
type Result struct {
	Item  Item
	Value any
	Err   error
}

// Summary describes a finished batch.
type Summary struct {
	Name     string
	Total    int
	Done     int
	Failed   int
	Canceled bool
}

// Handler receives batch notifications on the dispatcher.
type Handler struct {
	Result   func(Result)
	Finished func(Summary)
}

// Options configures an Executor.
type Options struct {
	// Workers bounds concurrency; the default is max(2, NumCPU).
	Workers    int
	ForceGrace time.Duration
	Logger     *logging.Logger
}

// Executor runs one batch at a time. Submitting a new batch cancels the
// running one.
type Executor struct {
	dispatcher event.Dispatcher
	workers    int
	grace      time.Duration
	logger     *logging.Logger

	mu      sync.Mutex
	current *Batch
}

// New creates an Executor delivering results on dispatcher. A nil
// dispatcher delivers on the worker goroutines.
func New(dispatcher event.Dispatcher, opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = max(2, runtime.NumCPU())
	}
	grace := opts.ForceGrace
	if grace <= 0 {
		grace = DefaultForceGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Executor{
		dispatcher: dispatcher,
		workers:    workers,
		grace:      grace,
		logger:     logger.WithComponent("executor"),
	}
}

// Workers returns the pool size.
func (e *Executor) Workers() int {
	return e.workers
}

// Submit starts a batch and returns without waiting for any action.
// Batches of at most one item run inline and have finished by the time
// Submit returns.
func (e *Executor) Submit(name string, items []Item, action Action, h Handler) *Batch {
	e.mu.Lock()
	prev := e.current
	e.mu.Unlock()
	if prev != nil {
		prev.Cancel(false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Batch{
		name:     name,
		total:    len(items),
		handler:  h,
		exec:     e,
		ctx:      ctx,
		cancelFn: cancel,
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	e.current = b
	e.mu.Unlock()

	if len(items) <= 1 {
		for _, item := range items {
			b.deliver(b.run(action, item), false)
		}
		b.finish(false)
		close(b.done)
		cancel()
		return b
	}

	// Go blocks while every worker is busy, so the pool is fed off the
	// caller's goroutine.
	go func() {
		p := pool.New().WithMaxGoroutines(e.workers)
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			p.Go(func() {
				if ctx.Err() != nil {
					return
				}
				b.deliver(b.run(action, item), true)
			})
		}
		p.Wait()
		b.finish(true)
		close(b.done)
		cancel()
	}()
	return b
}

// Cancel cancels the running batch, if any.
func (e *Executor) Cancel(force bool) {
	e.mu.Lock()
	b := e.current
	e.mu.Unlock()
	if b != nil {
		b.Cancel(force)
	}
}

// Running reports whether a batch is still executing.
func (e *Executor) Running() bool {
	e.mu.Lock()
	b := e.current
	e.mu.Unlock()
	if b == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Batch is one submission.
type Batch struct {
	name     string
	total    int
	handler  Handler
	exec     *Executor
	ctx      context.Context
	cancelFn context.CancelFunc
	done     chan struct{}

	canceled   atomic.Bool
	finishOnce sync.Once
	completed  atomic.Int32
	failed     atomic.Int32
}

// Name returns the batch name.
func (b *Batch) Name() string {
	return b.name
}

// Canceled reports whether the batch was canceled.
func (b *Batch) Canceled() bool {
	return b.canceled.Load()
}

// Done is closed when every worker has returned.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every worker has returned.
func (b *Batch) Wait() {
	<-b.done
}

// Cancel stops the batch. Finished is reported immediately with
// Canceled set, and no result handler runs afterwards. With force, workers
// still running after the grace window are logged and abandoned.
func (b *Batch) Cancel(force bool) {
	if b.canceled.Swap(true) {
		return
	}
	b.cancelFn()
	b.finish(false)

	if !force {
		return
	}
	select {
	case <-b.done:
	case <-time.After(b.exec.grace):
		b.exec.logger.Warn("abandoning workers after forced cancel",
			"action", b.name,
			"running", b.total-int(b.completed.Load()))
	}
}

func (b *Batch) run(action Action, item Item) (res Result) {
	res.Item = item
	defer func() {
		if r := recover(); r != nil {
			b.exec.logger.Error("action panicked", "action", b.name, "repo", item.Repo, "panic", fmt.Sprint(r))
			res.Value = nil
			res.Err = errors.Wrapf(errors.ErrOperationFailed, "%s panicked in %s: %v", b.name, item.Repo, r)
		}
		b.completed.Add(1)
		if res.Err != nil {
			b.failed.Add(1)
		}
	}()
	res.Value, res.Err = action(b.ctx, item)
	return res
}

// deliver hands a result to the handler on the dispatcher unless the batch
// was canceled by then.
func (b *Batch) deliver(res Result, async bool) {
	if b.handler.Result == nil {
		return
	}
	if res.Err != nil && !errors.IsCanceled(res.Err) {
		b.exec.logger.Debug("action failed", "action", b.name, "repo", res.Item.Repo, "error", res.Err.Error())
	}
	fn := func() {
		if b.canceled.Load() {
			return
		}
		b.handler.Result(res)
	}
	if async {
		b.post(fn)
	} else {
		fn()
	}
}

func (b *Batch) finish(async bool) {
	b.finishOnce.Do(func() {
		s := Summary{
			Name:     b.name,
			Total:    b.total,
			Done:     int(b.completed.Load()),
			Failed:   int(b.failed.Load()),
			Canceled: b.canceled.Load(),
		}
		if s.Canceled {
			b.exec.logger.Info("batch canceled", "action", b.name, "done", s.Done, "total", s.Total)
		}
		if b.handler.Finished == nil {
			return
		}
		fn := func() { b.handler.Finished(s) }
		if async {
			b.post(fn)
		} else {
			fn()
		}
	})
}

func (b *Batch) post(fn func()) {
	d := b.exec.dispatcher
	if d == nil || !d.Post(fn) {
		fn()
	}
}
