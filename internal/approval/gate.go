package approval

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/tools"
)

// Sentinel errors returned by gate operations.
var (
	ErrNotAwaitingApproval = errors.New("tool call is not awaiting approval")
	ErrAlreadyHeld         = errors.New("tool call is already awaiting approval")
)

// RejectedReason is the tool result recorded for a call the user turned
// down without giving a reason.
const RejectedReason = "Rejected by user"

// Publisher receives approval events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// Request is a tool call held for confirmation.
type Request struct {
	HistoryID  string
	ToolCallID string
	Tool       string
	Type       tools.ToolType
	Arguments  string
	HeldAt     time.Time
}

// Gate holds write and dangerous tool calls until the user approves or
// rejects them. Calls are reported in the order they were held, which is
// the order the model issued them.
type Gate struct {
	mu      sync.Mutex
	pub     Publisher
	pending map[string]Request
	order   []string
}

// NewGate creates a Gate. pub may be nil.
func NewGate(pub Publisher) *Gate {
	return &Gate{
		pub:     pub,
		pending: make(map[string]Request),
	}
}

// Hold places req in the awaiting-approval state and publishes a
// ToolAwaitingApprovalEvent.
func (g *Gate) Hold(req Request) error {
	g.mu.Lock()
	if _, ok := g.pending[req.ToolCallID]; ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, req.ToolCallID)
	}
	if req.HeldAt.IsZero() {
		req.HeldAt = time.Now()
	}
	g.pending[req.ToolCallID] = req
	g.order = append(g.order, req.ToolCallID)
	g.mu.Unlock()

	// Publish outside the mutex so handlers may call back into the gate.
	g.publish(event.NewToolAwaitingApprovalEvent(req.HistoryID, req.ToolCallID, req.Tool, req.Arguments))
	return nil
}

// Approve releases a held call for execution.
func (g *Gate) Approve(toolCallID string) (Request, error) {
	req, err := g.take(toolCallID)
	if err != nil {
		return Request{}, err
	}
	g.publish(event.NewToolDecidedEvent(req.HistoryID, toolCallID, true, ""))
	return req, nil
}

// Reject turns a held call down. An empty reason becomes RejectedReason.
func (g *Gate) Reject(toolCallID, reason string) (Request, error) {
	req, err := g.take(toolCallID)
	if err != nil {
		return Request{}, err
	}
	if reason == "" {
		reason = RejectedReason
	}
	g.publish(event.NewToolDecidedEvent(req.HistoryID, toolCallID, false, reason))
	return req, nil
}

// RejectAll rejects every held call, oldest first, and returns them.
func (g *Gate) RejectAll(reason string) []Request {
	var out []Request
	for _, req := range g.Pending() {
		if r, err := g.Reject(req.ToolCallID, reason); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Pending returns the held calls in the order they were held.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Request, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.pending[id])
	}
	return out
}

// IsAwaitingApproval reports whether the call is held.
func (g *Gate) IsAwaitingApproval(toolCallID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.pending[toolCallID]
	return ok
}

// Len returns the number of held calls.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Clear drops every held call without publishing decisions.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.pending)
	g.order = nil
}

func (g *Gate) take(toolCallID string) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[toolCallID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotAwaitingApproval, toolCallID)
	}
	delete(g.pending, toolCallID)
	g.order = slices.DeleteFunc(g.order, func(id string) bool { return id == toolCallID })
	return req, nil
}

func (g *Gate) publish(e event.Event) {
	if g.pub != nil {
		g.pub.Publish(e)
	}
}
