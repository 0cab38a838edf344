package chathistory

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/llm"
	"github.com/timxx/qgitc-sub000/internal/settings"
)

const sampleJSON = `{"historyId":"h1","title":"Stage files","modelKey":"openai","modelId":"gpt-4o",` +
	`"timestamp":"2024-05-01T12:00:00Z","messages":[` +
	`{"role":"user","content":"stage a.txt","tool_calls":null},` +
	`{"role":"assistant","content":"","reasoning":"need status","tool_calls":[{"id":"c1","function":{"name":"git_status","arguments":"{}"}}]},` +
	`{"role":"tool","content":"## main","description":"git_status","tool_calls":{"tool_call_id":"c1"}}]}`

func sample() *History {
	return &History{
		ID:        "h1",
		Title:     "Stage files",
		ModelKey:  "openai",
		ModelID:   "gpt-4o",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Messages: []Message{
			{Role: llm.RoleUser, Content: "stage a.txt"},
			{Role: llm.RoleAssistant, Reasoning: "need status", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "git_status", Arguments: "{}"}}},
			{Role: llm.RoleTool, Content: "## main", Description: "git_status", ToolCallID: "c1"},
		},
	}
}

func TestHistory_JSONShape(t *testing.T) {
	data, err := sample().Marshal()
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(data))
}

func TestHistory_RoundTripIsStable(t *testing.T) {
	h, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, sample(), h)

	data, err := h.Marshal()
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(data))
}

func TestHistory_EmptyMessages(t *testing.T) {
	h := &History{ID: "x"}
	data, err := h.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"messages":[]`)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, back.IsEmpty())
	assert.NotNil(t, back.Messages)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"no id", `{"title":"x","messages":[]}`},
		{"bad tool_calls", `{"historyId":"a","messages":[{"role":"tool","content":"","tool_calls":"c1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestHistory_Clone(t *testing.T) {
	h := sample()
	c := h.Clone()
	c.Messages[1].ToolCalls[0].Name = "changed"
	c.Messages = append(c.Messages, Message{Role: llm.RoleUser})
	assert.Equal(t, "git_status", h.Messages[1].ToolCalls[0].Name)
	assert.Len(t, h.Messages, 3)
}

func TestNew(t *testing.T) {
	a, b := New("openai", "gpt-4o"), New("openai", "gpt-4o")
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.IsEmpty())
	assert.Equal(t, time.UTC, a.Timestamp.Location())
}

func TestMessage_LLM(t *testing.T) {
	m := Message{Role: llm.RoleTool, Content: "out", Description: "git_log", ToolCallID: "c9"}
	assert.Equal(t, llm.Message{Role: llm.RoleTool, Content: "out", ToolCallID: "c9"}, m.LLM())
}

func TestUnpaired(t *testing.T) {
	msgs := []Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}, {ID: "b"}, {ID: "c"}}},
		{Role: llm.RoleTool, ToolCallID: "b"},
	}
	assert.Equal(t, []string{"a", "c"}, Unpaired(msgs))
	assert.Empty(t, Unpaired(sample().Messages))
}

// ----------------------------------------------------------------------------
// Store
// ----------------------------------------------------------------------------

// memKV is a settings.KV that can be told to fail writes.
type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   int
	failOn bool
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.NewNotFoundError("setting", key)
	}
	return v, nil
}

func (m *memKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn {
		return fmt.Errorf("disk full")
	}
	m.sets++
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memKV) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *memKV) fail(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = on
}

// clock returns increasing timestamps one minute apart.
func clock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func withMessage(h *History, text string) *History {
	h.Messages = append(h.Messages, Message{Role: llm.RoleUser, Content: text})
	return h
}

func TestStore_LoadSortsNewestFirst(t *testing.T) {
	kv, err := settings.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	for i, ts := range []string{"2024-01-02T00:00:00Z", "2024-03-01T00:00:00Z", "2024-02-01T00:00:00Z"} {
		id := fmt.Sprintf("h%d", i)
		data := fmt.Sprintf(`{"historyId":%q,"title":"","modelKey":"","modelId":"","timestamp":%q,"messages":[]}`, id, ts)
		require.NoError(t, kv.Set(Key(id), []byte(data)))
	}
	require.NoError(t, kv.Set(Key("broken"), []byte("{nope")))
	require.NoError(t, kv.Set("other/key", []byte("{}")))

	s := NewStore(kv, Options{})
	require.NoError(t, s.Load())
	assert.Equal(t, []string{"h1", "h2", "h0"}, s.IDs())
}

func TestStore_UpdateMovesRowToTop(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv, Options{Now: clock(), Delay: time.Hour})

	a := withMessage(New("m", "x"), "a")
	b := withMessage(New("m", "x"), "b")
	s.UpdateFromModel(a)
	s.UpdateFromModel(b)
	assert.Equal(t, []string{b.ID, a.ID}, s.IDs())

	s.UpdateFromModel(withMessage(a, "a2"))
	assert.Equal(t, []string{a.ID, b.ID}, s.IDs())

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC), got.Timestamp)
}

func TestStore_PlaceholderStaysPinned(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv, Options{Now: clock(), Delay: time.Hour})

	old := withMessage(New("m", "x"), "old")
	s.UpdateFromModel(old)

	ph := s.NewConversation("m", "x")
	assert.Equal(t, []string{ph.ID, old.ID}, s.IDs())
	assert.Equal(t, ph.ID, s.NewConversation("m", "y").ID, "placeholder is reused")

	other := withMessage(New("m", "x"), "other")
	s.UpdateFromModel(other)
	assert.Equal(t, []string{ph.ID, other.ID, old.ID}, s.IDs())

	// The placeholder becomes a real conversation and takes the top row.
	s.UpdateFromModel(withMessage(ph, "first prompt"))
	assert.Equal(t, []string{ph.ID, other.ID, old.ID}, s.IDs())
	ph2 := s.NewConversation("m", "x")
	assert.NotEqual(t, ph.ID, ph2.ID)
	assert.Equal(t, ph2.ID, s.IDs()[0])

	require.NoError(t, s.Flush())
	_, err := kv.Get(Key(ph2.ID))
	assert.True(t, errors.Is(err, &errors.NotFoundError{}), "empty histories are never written")
}

func TestStore_DebouncesWrites(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv, Options{Delay: 20 * time.Millisecond})

	h := New("m", "x")
	for i := range 5 {
		s.UpdateFromModel(withMessage(h, fmt.Sprintf("msg %d", i)))
	}
	assert.Zero(t, kv.setCount())

	require.Eventually(t, func() bool { return kv.setCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	data, err := kv.Get(Key(h.ID))
	require.NoError(t, err)
	saved, err := Parse(data)
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 5)
}

func TestStore_FlushWritesNowAndRetries(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv, Options{Delay: time.Hour})
	h := withMessage(New("m", "x"), "hi")

	kv.fail(true)
	s.UpdateFromModel(h)
	assert.Error(t, s.Flush())

	kv.fail(false)
	require.NoError(t, s.Flush())
	assert.Equal(t, 1, kv.setCount())

	require.NoError(t, s.Flush())
	assert.Equal(t, 1, kv.setCount(), "nothing left to write")
}

func TestStore_Remove(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv, Options{Delay: time.Hour})
	h := withMessage(New("m", "x"), "hi")
	s.UpdateFromModel(h)
	require.NoError(t, s.Flush())

	require.NoError(t, s.Remove(h.ID))
	assert.Zero(t, s.Len())
	keys, err := kv.Keys(KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_LoadThenUpdateWithSettingsStore(t *testing.T) {
	kv, err := settings.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	s := NewStore(kv, Options{Delay: time.Hour})
	h := sample()
	s.UpdateFromModel(h)
	require.NoError(t, s.Flush())

	s2 := NewStore(kv, Options{})
	require.NoError(t, s2.Load())
	got, ok := s2.At(0)
	require.True(t, ok)
	assert.Equal(t, h.Messages, got.Messages)
	_, ok = s2.At(1)
	assert.False(t, ok)
}
