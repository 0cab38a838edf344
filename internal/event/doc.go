// Package event provides the UI context and a pub-sub event bus for QGitc.
//
// The UI context is a single goroutine that owns all view-facing state.
// Background work (git subprocesses, executor workers, LLM streams) never
// touches that state directly; it posts closures to a [Dispatcher] and the
// closures run one at a time, in post order, on the UI goroutine.
//
// # Main Types
//
//   - [Dispatcher]: Interface with a single Post(func()) bool method
//   - [Loop]: FIFO dispatcher driven by Run (production) or Drain (tests)
//   - [Event]: Interface that all events must implement
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//
// # Event Categories
//
// Repository:
//   - [RepoChangedEvent]: a watched .git directory changed on disk
//   - [BranchMismatchEvent]: submodules are on different branches
//
// Commit workflow:
//   - [CommitProgressEvent]: a commit step completed
//   - [CommitFinishedEvent]: the commit pipeline finished or aborted
//
// Conflicts and cherry-pick:
//   - [ConflictResolvedEvent]: conflict markers disappeared from a file
//   - [CherryPickEvent]: a cherry-pick step changed state
//
// Agent:
//   - [AgentStateEvent]: the orchestrator entered a new state
//
// # Thread Safety
//
// [Loop] and [Bus] are safe for concurrent use. A panicking handler or posted
// closure is recovered and logged; it does not stop delivery to others.
//
// # Basic Usage
//
//	loop := event.NewLoop(logger)
//	go loop.Run(ctx)
//
//	bus := event.NewBus(logger)
//	bus.Subscribe("repo.changed", func(e event.Event) {
//	    changed := e.(event.RepoChangedEvent)
//	    loop.Post(func() { model.Refresh(changed.RepoDir) })
//	})
package event
