// Package approval holds tool calls that need the user's consent.
//
// When the model asks for a write or dangerous tool, the agent places the
// call in a [Gate] instead of running it. The call stays there until the
// user approves it, which hands it back for execution, or rejects it,
// which the agent records as a "Rejected by user" tool result.
//
// # Usage
//
//	gate := approval.NewGate(bus)
//
//	// The model asked for git_add
//	err := gate.Hold(approval.Request{ToolCallID: "t3", Tool: "git_add", Type: tools.Write})
//
//	// User approves
//	req, err := gate.Approve("t3")
//
//	// Or rejects
//	req, err = gate.Reject("t3", "")
//
// # Thread Safety
//
// All methods on [Gate] are safe for concurrent use via an internal mutex.
// Events are published outside the mutex.
package approval
