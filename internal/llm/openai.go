package llm

import (
	"context"
	"io"
	"net/http"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// Default endpoints of the OpenAI-compatible adapters.
const (
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultOllamaURL = "http://localhost:11434/v1"
)

// OpenAI speaks the chat completions API with streaming. Ollama and most
// local servers expose the same API.
type OpenAI struct {
	name    string
	baseURL string
	model   string
	client  *openai.Client
	logger  *logging.Logger
}

// NewOpenAI creates an adapter called name. opts.BaseURL overrides
// defaultURL.
func NewOpenAI(name, defaultURL string, opts Options) *OpenAI {
	base := opts.BaseURL
	if base == "" {
		base = defaultURL
	}
	base = strings.TrimRight(base, "/")

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = base
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &OpenAI{
		name:    name,
		baseURL: base,
		model:   opts.Model,
		client:  openai.NewClientWithConfig(cfg),
		logger:  logger.WithComponent("llm").With("adapter", name),
	}
}

// Name implements Adapter.
func (o *OpenAI) Name() string { return o.name }

// Model implements Adapter.
func (o *OpenAI) Model() string { return o.model }

func encodeRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{Model: req.Model, Stream: true}
	for _, m := range req.Messages {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Stream implements Adapter.
func (o *OpenAI) Stream(ctx context.Context, req Request, fn func(Chunk)) (*Response, error) {
	if req.Model == "" {
		req.Model = o.model
	}

	o.logger.Debug("sending request", "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))
	stream, err := o.client.CreateChatCompletionStream(ctx, encodeRequest(req))
	if err != nil {
		return nil, o.wrapError(ctx, err, "request to "+o.name+" failed")
	}
	defer func() { _ = stream.Close() }()

	acc := newAccumulator()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, o.wrapError(ctx, err, "stream from "+o.name+" broke off")
		}
		for _, choice := range chunk.Choices {
			acc.apply(choice.Delta, fn)
			if choice.FinishReason != "" {
				acc.finish = string(choice.FinishReason)
			}
		}
	}

	res := acc.response()
	o.logger.Debug("response complete", "finish", res.FinishReason, "tool_calls", len(res.Message.ToolCalls))
	return res, nil
}

// wrapError maps client errors to NetworkError, keeping the HTTP status of
// rejected requests. Errors after ctx ends are cancellations.
func (o *OpenAI) wrapError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCanceled, "model request")
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		msg = o.name + " reported an error: " + apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		msg = o.name + " rejected the request: " + reqErr.Error()
	}

	ne := errors.NewNetworkError(msg, err)
	if status != 0 {
		o.logger.Warn("model request rejected", "status", status)
		return ne.WithStatusCode(status)
	}
	return ne
}

// accumulator assembles streamed deltas into the final message.
type accumulator struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     map[int]*ToolCall
	finish    string
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[int]*ToolCall)}
}

func (a *accumulator) apply(d openai.ChatCompletionStreamChoiceDelta, fn func(Chunk)) {
	if d.ReasoningContent != "" {
		a.reasoning.WriteString(d.ReasoningContent)
		emit(fn, Chunk{Kind: ChunkReasoning, Text: d.ReasoningContent})
	}
	if d.Content != "" {
		a.text.WriteString(d.Content)
		emit(fn, Chunk{Kind: ChunkText, Text: d.Content})
	}
	for i, tc := range d.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		call, ok := a.calls[idx]
		if !ok {
			call = &ToolCall{}
			a.calls[idx] = call
		}
		if tc.ID != "" {
			call.ID = tc.ID
		}
		if tc.Function.Name != "" {
			call.Name = tc.Function.Name
		}
		call.Arguments += tc.Function.Arguments
		emit(fn, Chunk{Kind: ChunkToolCall, ToolCall: &ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
}

func (a *accumulator) response() *Response {
	msg := Message{
		Role:      RoleAssistant,
		Content:   a.text.String(),
		Reasoning: a.reasoning.String(),
	}
	indices := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	for _, i := range indices {
		msg.ToolCalls = append(msg.ToolCalls, *a.calls[i])
	}
	return &Response{Message: msg, FinishReason: a.finish}
}

func emit(fn func(Chunk), c Chunk) {
	if fn != nil {
		fn(c)
	}
}
