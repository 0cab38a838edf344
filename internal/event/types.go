package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "repo.changed", "commit.progress")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeRepoChanged       = "repo.changed"
	TypeBranchMismatch    = "status.branch_mismatch"
	TypeCommitProgress    = "commit.progress"
	TypeCommitFinished    = "commit.finished"
	TypeConflictResolved  = "conflict.resolved"
	TypeCherryPick        = "cherrypick.step"
	TypeAgentStateChanged = "agent.state"
	TypeToolAwaiting      = "agent.tool_awaiting"
	TypeToolDecided       = "agent.tool_decided"
)

// -----------------------------------------------------------------------------
// Repository Events
// -----------------------------------------------------------------------------

// RepoChangedEvent is emitted when a watched repository's git directory
// changes on disk (index written, HEAD moved, refs updated).
type RepoChangedEvent struct {
	baseEvent
	RepoDir string // "." for the main repository
	Path    string // the file that changed
}

// NewRepoChangedEvent creates a RepoChangedEvent.
func NewRepoChangedEvent(repoDir, path string) RepoChangedEvent {
	return RepoChangedEvent{
		baseEvent: newBaseEvent(TypeRepoChanged),
		RepoDir:   repoDir,
		Path:      path,
	}
}

// BranchMismatchEvent is emitted after a status refresh when the
// repositories are not all on the same branch.
type BranchMismatchEvent struct {
	baseEvent
	Branches map[string]string // repoDir -> branch
}

// NewBranchMismatchEvent creates a BranchMismatchEvent.
func NewBranchMismatchEvent(branches map[string]string) BranchMismatchEvent {
	return BranchMismatchEvent{
		baseEvent: newBaseEvent(TypeBranchMismatch),
		Branches:  branches,
	}
}

// -----------------------------------------------------------------------------
// Commit Workflow Events
// -----------------------------------------------------------------------------

// CommitProgressEvent is emitted as each commit or action step completes.
type CommitProgressEvent struct {
	baseEvent
	RepoDir string
	Step    string // "commit" or the action command
	Done    int
	Total   int
}

// NewCommitProgressEvent creates a CommitProgressEvent.
func NewCommitProgressEvent(repoDir, step string, done, total int) CommitProgressEvent {
	return CommitProgressEvent{
		baseEvent: newBaseEvent(TypeCommitProgress),
		RepoDir:   repoDir,
		Step:      step,
		Done:      done,
		Total:     total,
	}
}

// Percent returns progress in [0, 100].
func (e CommitProgressEvent) Percent() int {
	if e.Total <= 0 {
		return 100
	}
	return e.Done * 100 / e.Total
}

// CommitFinishedEvent is emitted once per commit run.
type CommitFinishedEvent struct {
	baseEvent
	Aborted bool
	Step    int // 1-based step that failed when Aborted
	Total   int
	Err     error
}

// NewCommitFinishedEvent creates a CommitFinishedEvent.
func NewCommitFinishedEvent(aborted bool, step, total int, err error) CommitFinishedEvent {
	return CommitFinishedEvent{
		baseEvent: newBaseEvent(TypeCommitFinished),
		Aborted:   aborted,
		Step:      step,
		Total:     total,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Conflict and Cherry-pick Events
// -----------------------------------------------------------------------------

// ConflictResolvedEvent is emitted when a conflicted file no longer
// contains conflict markers.
type ConflictResolvedEvent struct {
	baseEvent
	RepoDir string
	Path    string
}

// NewConflictResolvedEvent creates a ConflictResolvedEvent.
func NewConflictResolvedEvent(repoDir, path string) ConflictResolvedEvent {
	return ConflictResolvedEvent{
		baseEvent: newBaseEvent(TypeConflictResolved),
		RepoDir:   repoDir,
		Path:      path,
	}
}

// CherryPickEvent is emitted as the cherry-pick driver moves through a plan.
type CherryPickEvent struct {
	baseEvent
	RepoDir string
	SHA1    string
	State   string // "picked", "conflict", "resolved", "paused", "aborted", "done"
	Index   int
	Total   int
}

// NewCherryPickEvent creates a CherryPickEvent.
func NewCherryPickEvent(repoDir, sha1, state string, index, total int) CherryPickEvent {
	return CherryPickEvent{
		baseEvent: newBaseEvent(TypeCherryPick),
		RepoDir:   repoDir,
		SHA1:      sha1,
		State:     state,
		Index:     index,
		Total:     total,
	}
}

// -----------------------------------------------------------------------------
// Agent Events
// -----------------------------------------------------------------------------

// AgentStateEvent is emitted when the agent orchestrator changes state.
type AgentStateEvent struct {
	baseEvent
	HistoryID string
	State     string
	Awaiting  int // tool calls still waiting for a result
}

// NewAgentStateEvent creates an AgentStateEvent.
func NewAgentStateEvent(historyID, state string, awaiting int) AgentStateEvent {
	return AgentStateEvent{
		baseEvent: newBaseEvent(TypeAgentStateChanged),
		HistoryID: historyID,
		State:     state,
		Awaiting:  awaiting,
	}
}

// ToolAwaitingApprovalEvent is emitted when a write or dangerous tool call
// is held for the user's confirmation.
type ToolAwaitingApprovalEvent struct {
	baseEvent
	HistoryID  string
	ToolCallID string
	Tool       string
	Arguments  string
}

// NewToolAwaitingApprovalEvent creates a ToolAwaitingApprovalEvent.
func NewToolAwaitingApprovalEvent(historyID, toolCallID, tool, arguments string) ToolAwaitingApprovalEvent {
	return ToolAwaitingApprovalEvent{
		baseEvent:  newBaseEvent(TypeToolAwaiting),
		HistoryID:  historyID,
		ToolCallID: toolCallID,
		Tool:       tool,
		Arguments:  arguments,
	}
}

// ToolDecidedEvent is emitted when a held tool call is approved, rejected
// or dropped.
type ToolDecidedEvent struct {
	baseEvent
	HistoryID  string
	ToolCallID string
	Approved   bool
	Reason     string
}

// NewToolDecidedEvent creates a ToolDecidedEvent.
func NewToolDecidedEvent(historyID, toolCallID string, approved bool, reason string) ToolDecidedEvent {
	return ToolDecidedEvent{
		baseEvent:  newBaseEvent(TypeToolDecided),
		HistoryID:  historyID,
		ToolCallID: toolCallID,
		Approved:   approved,
		Reason:     reason,
	}
}
