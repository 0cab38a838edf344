// Package tui implements the interactive log browser: the composite
// history on top, the patch of the selected commit below, and a find bar.
//
// The bubbletea update loop is the UI context. Components deliver their
// callbacks through an event.Loop that forwards each one into the program
// as a message, so callbacks run one at a time inside Update and posting
// never blocks a worker.
package tui

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timxx/qgitc-sub000/internal/event"
)

// App wraps the bubbletea program.
type App struct {
	program atomic.Pointer[tea.Program]
	loop    *event.Loop
	model   *Model
}

// New creates the application. opts.Dispatcher is replaced by the
// program's own.
func New(opts Options) (*App, error) {
	a := &App{loop: event.NewLoop(opts.Logger)}
	opts.Dispatcher = event.DispatcherFunc(func(fn func()) bool {
		return a.loop.Post(func() {
			if p := a.program.Load(); p != nil {
				p.Send(callMsg(fn))
			}
		})
	})
	m, err := NewModel(opts)
	if err != nil {
		return nil, err
	}
	a.model = m
	return a, nil
}

// Run starts the program and blocks until the user quits.
func (a *App) Run() error {
	p := tea.NewProgram(a.model, tea.WithAltScreen())
	a.program.Store(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.loop.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		select {
		case <-sigChan:
			p.Send(tea.Quit())
		case <-ctx.Done():
		}
	}()

	_, err := p.Run()
	signal.Stop(sigChan)
	a.model.shutdown()
	a.loop.Close()
	return err
}
