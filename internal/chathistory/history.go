// Package chathistory keeps the chat conversations: the message model the
// agent works on, its JSON form, and a store that lists histories newest
// first and writes them to the settings database with a debounce.
package chathistory

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/llm"
)

// KeyPrefix is the settings key prefix of persisted histories.
const KeyPrefix = "chatHistory/"

// Key returns the settings key of a history.
func Key(historyID string) string {
	return KeyPrefix + historyID
}

// Message is one entry of a conversation.
type Message struct {
	Role      llm.Role
	Content   string
	Reasoning string
	// Description is shown in place of the content, e.g. for errors and
	// collapsed tool output. It is never sent to the model.
	Description string
	ToolCalls   []llm.ToolCall
	// ToolCallID links a tool result to its call.
	ToolCallID string
}

// IsToolResult reports whether m answers a tool call.
func (m Message) IsToolResult() bool {
	return m.Role == llm.RoleTool
}

// LLM returns the message as sent to the model.
func (m Message) LLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Reasoning:  m.Reasoning,
		ToolCalls:  slices.Clone(m.ToolCalls),
		ToolCallID: m.ToolCallID,
	}
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireCall struct {
	ID       string       `json:"id"`
	Function wireFunction `json:"function"`
}

type wireResult struct {
	ToolCallID string `json:"tool_call_id"`
}

// wireMessage fixes the field order of the persisted form.
type wireMessage struct {
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Description string          `json:"description,omitempty"`
	ToolCalls   json.RawMessage `json:"tool_calls"`
}

var jsonNull = json.RawMessage("null")

// MarshalJSON writes tool calls as a list, a tool result's link as
// {"tool_call_id": …}, and null otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Role:        string(m.Role),
		Content:     m.Content,
		Reasoning:   m.Reasoning,
		Description: m.Description,
		ToolCalls:   jsonNull,
	}
	var err error
	switch {
	case m.Role == llm.RoleTool && m.ToolCallID != "":
		w.ToolCalls, err = json.Marshal(wireResult{ToolCallID: m.ToolCallID})
	case len(m.ToolCalls) > 0:
		calls := make([]wireCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = wireCall{ID: tc.ID, Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments}}
		}
		w.ToolCalls, err = json.Marshal(calls)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		Role:        llm.Role(w.Role),
		Content:     w.Content,
		Reasoning:   w.Reasoning,
		Description: w.Description,
	}
	raw := bytes.TrimSpace(w.ToolCalls)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, jsonNull):
	case raw[0] == '[':
		var calls []wireCall
		if err := json.Unmarshal(raw, &calls); err != nil {
			return err
		}
		for _, c := range calls {
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
		}
	case raw[0] == '{':
		var r wireResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		m.ToolCallID = r.ToolCallID
	default:
		return errors.NewValidationError("tool_calls must be a list, an object or null").WithField("tool_calls")
	}
	return nil
}

// History is one conversation.
type History struct {
	ID        string    `json:"historyId"`
	Title     string    `json:"title"`
	ModelKey  string    `json:"modelKey"`
	ModelID   string    `json:"modelId"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// New creates an empty history with a fresh id.
func New(modelKey, modelID string) *History {
	return &History{
		ID:        uuid.NewString(),
		ModelKey:  modelKey,
		ModelID:   modelID,
		Timestamp: time.Now().UTC(),
		Messages:  []Message{},
	}
}

// IsEmpty reports whether the history has no messages.
func (h *History) IsEmpty() bool {
	return len(h.Messages) == 0
}

// Clone returns a deep copy.
func (h *History) Clone() *History {
	c := *h
	c.Messages = make([]Message, len(h.Messages))
	for i, m := range h.Messages {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		c.Messages[i] = m
	}
	return &c
}

// Marshal encodes h in its persisted form.
func (h *History) Marshal() ([]byte, error) {
	c := *h
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return json.Marshal(&c)
}

// Parse decodes a persisted history.
func Parse(data []byte) (*History, error) {
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.NewValidationError("invalid chat history: " + err.Error()).WithField("history")
	}
	if h.ID == "" {
		return nil, errors.NewValidationError("chat history has no id").WithField("historyId")
	}
	if h.Messages == nil {
		h.Messages = []Message{}
	}
	return &h, nil
}

// Unpaired returns the ids of tool calls in messages that have no later
// tool result, in call order.
func Unpaired(messages []Message) []string {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.IsToolResult() {
			answered[m.ToolCallID] = true
		}
	}
	var out []string
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				out = append(out, tc.ID)
			}
		}
	}
	return out
}
