package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Dispatcher delivers closures to the UI context. Post never blocks and
// returns false when the closure was dropped because the context is gone.
type Dispatcher interface {
	Post(fn func()) bool
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func()) bool

// Post calls f(fn).
func (f DispatcherFunc) Post(fn func()) bool { return f(fn) }

// Loop is an unbounded FIFO of closures executed by a single goroutine.
// Closures posted from any goroutine run one at a time in post order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *logging.Logger
}

// NewLoop creates a Loop. Nothing runs until Run or Drain is called.
func NewLoop(logger *logging.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn. It returns false after Close.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted closures until ctx is done or Close is called.
// Closures still queued at Close are executed before Run returns; closures
// queued when ctx is canceled are dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()

		select {
		case <-ctx.Done():
			l.Close()
			l.mu.Lock()
			l.queue = nil
			l.mu.Unlock()
			return ctx.Err()
		case <-l.done:
			l.Drain()
			return nil
		case <-l.wake:
		}
	}
}

// Drain runs queued closures on the calling goroutine, including closures
// posted while draining, and returns how many ran. Tests use it in place
// of Run to step the UI context deterministically.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(fn)
		n++
	}
}

// Pending returns the number of queued closures.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting closures. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ui closure panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
