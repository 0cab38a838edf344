// Package llm talks to chat models. An [Adapter] streams one completion as
// text, reasoning and tool-call chunks; adapters are looked up by the name
// configured under llm.adapter.
package llm

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry of a conversation.
type Message struct {
	Role      Role
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	// ToolCallID links a tool result to its call.
	ToolCallID string
}

// ToolDef describes a function the model may call.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one completion request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolDef
}

// ChunkKind tells what a Chunk carries.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkReasoning
	ChunkToolCall
)

// ToolCallDelta is a fragment of a streamed tool call. Fragments with the
// same Index belong to one call; ID and Name arrive once, Arguments in
// pieces.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one piece of streamed output.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall *ToolCallDelta
}

// Response is the assembled result of a completion.
type Response struct {
	Message      Message
	FinishReason string
}

// Adapter streams completions from one provider.
type Adapter interface {
	Name() string
	// Model returns the model id used when a Request leaves it empty.
	Model() string
	// Stream sends req and calls fn for each chunk as it arrives. The
	// returned Response holds the whole assistant message.
	Stream(ctx context.Context, req Request, fn func(Chunk)) (*Response, error)
}

// Options configures an adapter.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Factory builds an adapter.
type Factory func(opts Options) Adapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"openai": func(opts Options) Adapter { return NewOpenAI("openai", DefaultOpenAIURL, opts) },
		"ollama": func(opts Options) Adapter { return NewOpenAI("ollama", DefaultOllamaURL, opts) },
	}
)

// Register adds or replaces the adapter factory for name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Names returns the registered adapter names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New builds the named adapter.
func New(name string, opts Options) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownAdapter, "%q", name)
	}
	return f(opts), nil
}

// NewFromConfig builds the adapter selected by cfg.LLM.
func NewFromConfig(cfg *config.Config, logger *logging.Logger) (Adapter, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("missing config")
	}
	name := cfg.LLM.Adapter
	if name == "" {
		name = "openai"
	}
	return New(name, Options{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey(),
		Model:      cfg.LLM.Model,
		HTTPClient: &http.Client{Timeout: cfg.LLM.Timeout()},
		Logger:     logger,
	})
}
