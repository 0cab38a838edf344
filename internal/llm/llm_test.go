package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/errors"
)

func TestNewFromConfig(t *testing.T) {
	t.Run("default is openai", func(t *testing.T) {
		a, err := NewFromConfig(config.Default(), nil)
		require.NoError(t, err)
		assert.Equal(t, "openai", a.Name())
	})

	t.Run("ollama", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Adapter = "Ollama"
		cfg.LLM.Model = "llama3"
		a, err := NewFromConfig(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "ollama", a.Name())
		assert.Equal(t, "llama3", a.Model())
		assert.Equal(t, DefaultOllamaURL, a.(*OpenAI).baseURL)
	})

	t.Run("unknown adapter", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Adapter = "nope"
		_, err := NewFromConfig(cfg, nil)
		assert.ErrorIs(t, err, errors.ErrUnknownAdapter)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewFromConfig(nil, nil)
		assert.Error(t, err)
	})
}

func TestNames_MatchConfig(t *testing.T) {
	assert.ElementsMatch(t, config.ValidAdapters(), Names())
}

func sse(events ...string) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "data: %s\n\n", e)
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func TestStream_TextReasoningAndToolCalls(t *testing.T) {
	var got openai.ChatCompletionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, sse(
			`{"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
			`{"choices":[{"delta":{"content":"Let me "}}]}`,
			`{"choices":[{"delta":{"content":"check."}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"t1","type":"function","function":{"name":"git_status","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"untracked\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"false}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"t2","function":{"name":"git_log","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer srv.Close()

	a := NewOpenAI("openai", DefaultOpenAIURL, Options{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "gpt-test"})

	var chunks []Chunk
	res, err := a.Stream(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t0", Name: "git_branch", Arguments: "{}"}}},
			{Role: RoleTool, Content: "* main", ToolCallID: "t0"},
		},
		Tools: []ToolDef{{Name: "git_status", Description: "status", Parameters: map[string]any{"type": "object"}}},
	}, func(c Chunk) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "gpt-test", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "git_branch", got.Messages[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "t0", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	require.NotNil(t, got.Tools[0].Function)
	assert.Equal(t, "git_status", got.Tools[0].Function.Name)

	assert.Equal(t, "tool_calls", res.FinishReason)
	assert.Equal(t, RoleAssistant, res.Message.Role)
	assert.Equal(t, "Let me check.", res.Message.Content)
	assert.Equal(t, "thinking", res.Message.Reasoning)
	assert.Equal(t, []ToolCall{
		{ID: "t1", Name: "git_status", Arguments: `{"untracked":false}`},
		{ID: "t2", Name: "git_log", Arguments: "{}"},
	}, res.Message.ToolCalls)

	var kinds []ChunkKind
	for _, c := range chunks {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []ChunkKind{ChunkReasoning, ChunkText, ChunkText, ChunkToolCall, ChunkToolCall, ChunkToolCall, ChunkToolCall}, kinds)
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	a := NewOpenAI("openai", "", Options{BaseURL: srv.URL})
	_, err := a.Stream(context.Background(), Request{}, nil)

	var ne *errors.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusUnauthorized, ne.StatusCode)
	assert.Contains(t, ne.Error(), "bad key")
	assert.NotEmpty(t, ne.RetryHint())
	assert.True(t, errors.IsRetryable(err))
}

func TestStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"par"}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"error":{"message":"overloaded","type":"server_error"}}`+"\n\n")
	}))
	defer srv.Close()

	a := NewOpenAI("ollama", "", Options{BaseURL: srv.URL})
	_, err := a.Stream(context.Background(), Request{}, nil)
	var ne *errors.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Contains(t, ne.Error(), "overloaded")
}

func TestStream_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewOpenAI("openai", "", Options{BaseURL: url})
	_, err := a.Stream(context.Background(), Request{}, nil)
	var ne *errors.NetworkError
	assert.True(t, errors.As(err, &ne))
}

func TestStream_Canceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewOpenAI("openai", "", Options{BaseURL: srv.URL})
	done := make(chan error, 1)
	go func() {
		_, err := a.Stream(ctx, Request{}, nil)
		done <- err
	}()
	cancel()
	assert.True(t, errors.IsCanceled(<-done))
}
