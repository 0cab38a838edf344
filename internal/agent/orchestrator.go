// Package agent runs chat conversations with a model that can call tools.
//
// An [Orchestrator] owns one conversation. It streams the model's answer,
// runs read-only tool calls on its own one at a time, holds write and
// dangerous calls in an approval gate until the user decides, and only
// asks the model to continue once every tool call of the last answer has
// a result. All of its methods must be called on the UI context, the
// dispatcher given in [Options]; workers post their results back there.
package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/timxx/qgitc-sub000/internal/approval"
	"github.com/timxx/qgitc-sub000/internal/chathistory"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/llm"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/tools"
	"github.com/timxx/qgitc-sub000/internal/util"
)

// State is the coarse state reported through AgentStateEvent.
type State string

const (
	StateIdle             State = "idle"
	StateGenerating       State = "generating"
	StateRunningTools     State = "running_tools"
	StateAwaitingApproval State = "awaiting_approval"
	StateError            State = "error"
)

// CancelledResult is the tool result recorded for a call that was dropped
// before it produced output.
const CancelledResult = "Cancelled"

// titleLength bounds the title derived from the first prompt.
const titleLength = 48

// Snapshotter persists conversation snapshots. *chathistory.Store
// implements it.
type Snapshotter interface {
	UpdateFromModel(h *chathistory.History)
}

// Publisher receives agent events. *event.Bus implements it.
type Publisher interface {
	Publish(e event.Event)
}

// StreamUpdate is a flushed piece of the answer being generated.
type StreamUpdate struct {
	Reasoning bool
	Text      string
}

// Options configures an Orchestrator.
type Options struct {
	Adapter llm.Adapter
	// Tools offered to the model. Nil disables tool calling.
	Tools *tools.Registry
	// Gate holds calls awaiting approval. Nil creates a private gate.
	Gate *approval.Gate
	// Dispatcher is the UI context. Required.
	Dispatcher   event.Dispatcher
	Publisher    Publisher
	Store        Snapshotter
	SystemPrompt string
	// AllowWriteTools runs write tools without confirmation.
	AllowWriteTools bool
	// ReadOnlyTools offers only read-only tools to the model.
	ReadOnlyTools bool
	// OnStream receives answer text as it is flushed.
	OnStream func(StreamUpdate)
	// OnError receives model request failures.
	OnError func(error)
	Logger  *logging.Logger
}

// call is the bookkeeping of one tool call of the latest answer.
type call struct {
	tc     llm.ToolCall
	typ    tools.ToolType
	known  bool
	group  string
	done   bool
	ok     bool
	output string
}

// group counts the auto-run calls scheduled together.
type group struct {
	remaining int
}

// Orchestrator drives one conversation.
type Orchestrator struct {
	opts    Options
	gate    *approval.Gate
	logger  *logging.Logger
	history *chathistory.History
	state   State

	// turn holds the unanswered calls of the latest answer in call order.
	// Results are appended to the history in that order.
	turn     []*call
	emitted  int
	awaiting map[string]*call
	queue    []*call
	running  *call
	groups   map[string]*group
	dropped  map[string]bool

	ctx       context.Context
	cancelAll context.CancelFunc
	gen       int
	cancelGen context.CancelFunc
	pendText  strings.Builder
	pendReas  strings.Builder
	genText   strings.Builder
}

// New creates an Orchestrator for h. Tool calls left without results by a
// previous session are either sealed with cancelled results or restored
// as pending confirmations.
func New(h *chathistory.History, opts Options) (*Orchestrator, error) {
	if opts.Adapter == nil {
		return nil, errors.NewValidationError("no model adapter").WithField("adapter")
	}
	if opts.Dispatcher == nil {
		return nil, errors.NewValidationError("no dispatcher").WithField("dispatcher")
	}
	if h == nil {
		h = chathistory.New(opts.Adapter.Name(), opts.Adapter.Model())
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	gate := opts.Gate
	if gate == nil {
		gate = approval.NewGate(opts.Publisher)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:      opts,
		gate:      gate,
		logger:    logger.WithComponent("agent").WithConversation(h.ID),
		history:   h.Clone(),
		state:     StateIdle,
		awaiting:  make(map[string]*call),
		groups:    make(map[string]*group),
		dropped:   make(map[string]bool),
		ctx:       ctx,
		cancelAll: cancel,
	}
	o.restore()
	o.updateState()
	return o, nil
}

// ----------------------------------------------------------------------------
// Accessors
// ----------------------------------------------------------------------------

// ID returns the history id.
func (o *Orchestrator) ID() string { return o.history.ID }

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

// History returns a copy of the conversation.
func (o *Orchestrator) History() *chathistory.History { return o.history.Clone() }

// AwaitingResults returns the ids of tool calls without a result, in call
// order.
func (o *Orchestrator) AwaitingResults() []string {
	var ids []string
	for _, c := range o.turn {
		if _, ok := o.awaiting[c.tc.ID]; ok {
			ids = append(ids, c.tc.ID)
		}
	}
	return ids
}

// PendingApprovals returns the calls of this conversation waiting for the
// user.
func (o *Orchestrator) PendingApprovals() []approval.Request {
	var out []approval.Request
	for _, r := range o.gate.Pending() {
		if _, ok := o.awaiting[r.ToolCallID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Gate returns the approval gate.
func (o *Orchestrator) Gate() *approval.Gate { return o.gate }

// ----------------------------------------------------------------------------
// Prompts
// ----------------------------------------------------------------------------

// WrapPrompt prefixes prompt with a context block when there is one.
func WrapPrompt(prompt, contextBlock string) string {
	if strings.TrimSpace(contextBlock) == "" {
		return prompt
	}
	return "<context>\n" + contextBlock + "\n</context>\n\n" + prompt
}

// Send adds a user prompt and asks the model to answer. A generation in
// progress is stopped. Tool calls still waiting are resolved first:
// read-only ones as cancelled, the others as rejected.
func (o *Orchestrator) Send(prompt, contextBlock string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.NewValidationError("prompt is empty").WithField("prompt")
	}
	if o.cancelGen != nil {
		o.stopGeneration()
	}
	if len(o.awaiting) > 0 {
		o.resolvePending()
	}
	if o.history.Title == "" {
		o.history.Title = util.TruncateString(util.FirstLine(prompt), titleLength)
	}
	o.history.Messages = append(o.history.Messages, chathistory.Message{
		Role:    llm.RoleUser,
		Content: WrapPrompt(prompt, contextBlock),
	})
	o.snapshot()
	o.generate()
	return nil
}

// Cancel stops the model request in progress. Text received so far is
// kept. Tool calls are not affected.
func (o *Orchestrator) Cancel() {
	if o.cancelGen == nil {
		return
	}
	o.stopGeneration()
	o.snapshot()
	o.updateState()
}

// Close stops all work. Results arriving afterwards are ignored.
func (o *Orchestrator) Close() {
	o.gen++
	if o.cancelGen != nil {
		o.cancelGen()
		o.cancelGen = nil
	}
	o.cancelAll()
}

// ----------------------------------------------------------------------------
// Generation
// ----------------------------------------------------------------------------

func (o *Orchestrator) request() llm.Request {
	req := llm.Request{Model: o.history.ModelID}
	if req.Model == "" {
		req.Model = o.opts.Adapter.Model()
	}
	if o.opts.SystemPrompt != "" {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: o.opts.SystemPrompt})
	}
	for _, m := range o.history.Messages {
		// Error notes carry only a description.
		if m.Role == llm.RoleAssistant && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}
		req.Messages = append(req.Messages, m.LLM())
	}
	if o.opts.Tools != nil {
		for _, d := range o.opts.Tools.Definitions(o.opts.ReadOnlyTools) {
			req.Tools = append(req.Tools, llm.ToolDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		}
	}
	return req
}

func (o *Orchestrator) generate() {
	o.gen++
	gen := o.gen
	ctx, cancel := context.WithCancel(o.ctx)
	o.cancelGen = cancel
	o.genText.Reset()
	o.pendText.Reset()
	o.pendReas.Reset()
	o.updateState()

	req := o.request()
	adapter := o.opts.Adapter
	post := o.opts.Dispatcher.Post
	o.logger.Debug("asking model", "messages", len(req.Messages), "tools", len(req.Tools))

	go func() {
		res, err := adapter.Stream(ctx, req, func(c llm.Chunk) {
			post(func() {
				if o.gen == gen {
					o.onChunk(c)
				}
			})
		})
		post(func() {
			if o.gen == gen {
				o.onGenerated(res, err)
			}
		})
	}()
}

// onChunk buffers streamed text. Prose is flushed at whitespace, and
// everything is flushed when a tool call starts.
func (o *Orchestrator) onChunk(c llm.Chunk) {
	switch c.Kind {
	case llm.ChunkText:
		o.genText.WriteString(c.Text)
		o.pendText.WriteString(c.Text)
		if endsWithSpace(c.Text) {
			o.flushStream()
		}
	case llm.ChunkReasoning:
		o.pendReas.WriteString(c.Text)
		if endsWithSpace(c.Text) {
			o.flushStream()
		}
	case llm.ChunkToolCall:
		o.flushStream()
	}
}

func (o *Orchestrator) flushStream() {
	if o.pendReas.Len() > 0 {
		o.emitStream(StreamUpdate{Reasoning: true, Text: o.pendReas.String()})
		o.pendReas.Reset()
	}
	if o.pendText.Len() > 0 {
		o.emitStream(StreamUpdate{Text: o.pendText.String()})
		o.pendText.Reset()
	}
}

func (o *Orchestrator) emitStream(u StreamUpdate) {
	if o.opts.OnStream != nil {
		o.opts.OnStream(u)
	}
}

func (o *Orchestrator) stopGeneration() {
	o.gen++
	o.cancelGen()
	o.cancelGen = nil
	o.flushStream()
	if partial := o.genText.String(); partial != "" {
		o.history.Messages = append(o.history.Messages, chathistory.Message{Role: llm.RoleAssistant, Content: partial})
	}
	o.genText.Reset()
}

func (o *Orchestrator) onGenerated(res *llm.Response, err error) {
	o.cancelGen = nil
	o.flushStream()
	o.genText.Reset()

	if err != nil {
		if errors.IsCanceled(err) {
			o.updateState()
			return
		}
		o.logger.Warn("model request failed", "error", err)
		note := err.Error()
		var ne *errors.NetworkError
		if errors.As(err, &ne) {
			note += "\n" + ne.RetryHint()
		}
		o.history.Messages = append(o.history.Messages, chathistory.Message{Role: llm.RoleAssistant, Description: note})
		o.snapshot()
		o.setState(StateError)
		if o.opts.OnError != nil {
			o.opts.OnError(err)
		}
		return
	}

	msg := chathistory.Message{
		Role:      llm.RoleAssistant,
		Content:   res.Message.Content,
		Reasoning: res.Message.Reasoning,
		ToolCalls: res.Message.ToolCalls,
	}
	o.history.Messages = append(o.history.Messages, msg)
	o.snapshot()

	if len(msg.ToolCalls) == 0 {
		o.updateState()
		return
	}
	o.dispatchCalls(msg.ToolCalls)
}

// ----------------------------------------------------------------------------
// Tool calls
// ----------------------------------------------------------------------------

func (o *Orchestrator) classify(name string) (tools.ToolType, bool) {
	if o.opts.Tools == nil {
		return tools.Dangerous, false
	}
	typ, err := o.opts.Tools.Classify(name)
	if err != nil {
		return tools.Dangerous, false
	}
	if o.opts.ReadOnlyTools && typ != tools.ReadOnly {
		return typ, false
	}
	return typ, true
}

func (o *Orchestrator) autoRun(typ tools.ToolType) bool {
	return typ == tools.ReadOnly || (typ == tools.Write && o.opts.AllowWriteTools)
}

// dispatchCalls queues the auto-run calls of an answer under one group and
// holds the rest for confirmation.
func (o *Orchestrator) dispatchCalls(calls []llm.ToolCall) {
	o.turn = o.turn[:0]
	o.emitted = 0
	groupID := uuid.NewString()
	g := &group{}

	for _, tc := range calls {
		c := &call{tc: tc}
		c.typ, c.known = o.classify(tc.Name)
		o.turn = append(o.turn, c)
		o.awaiting[tc.ID] = c

		switch {
		case !c.known:
			c.done, c.output = true, fmt.Sprintf("unknown tool %q", tc.Name)
		case o.autoRun(c.typ):
			c.group = groupID
			g.remaining++
			o.queue = append(o.queue, c)
		default:
			err := o.gate.Hold(approval.Request{
				HistoryID:  o.history.ID,
				ToolCallID: tc.ID,
				Tool:       tc.Name,
				Type:       c.typ,
				Arguments:  tc.Arguments,
			})
			if err != nil {
				c.done, c.output = true, err.Error()
			}
		}
	}
	if g.remaining > 0 {
		o.groups[groupID] = g
	}
	o.logger.Info("tool calls received", "calls", len(calls), "auto", g.remaining, "group", groupID)

	o.emitResults()
	o.updateState()
	o.drain()
	o.settle()
}

// Approve runs a held call.
func (o *Orchestrator) Approve(toolCallID string) error {
	c, ok := o.awaiting[toolCallID]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrNotAwaitingApproval, toolCallID)
	}
	if _, err := o.gate.Approve(toolCallID); err != nil {
		return err
	}
	c.group = uuid.NewString()
	o.groups[c.group] = &group{remaining: 1}
	o.queue = append(o.queue, c)
	o.updateState()
	o.drain()
	return nil
}

// Reject records a held call as rejected by the user.
func (o *Orchestrator) Reject(toolCallID string) error {
	c, ok := o.awaiting[toolCallID]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrNotAwaitingApproval, toolCallID)
	}
	if _, err := o.gate.Reject(toolCallID, ""); err != nil {
		return err
	}
	c.done, c.output = true, approval.RejectedReason
	o.emitResults()
	o.settle()
	return nil
}

// drain starts the next queued call unless one is running.
func (o *Orchestrator) drain() {
	if o.running != nil || len(o.queue) == 0 {
		return
	}
	c := o.queue[0]
	o.queue = o.queue[1:]
	o.running = c
	o.updateState()

	reg := o.opts.Tools
	ctx := o.ctx
	post := o.opts.Dispatcher.Post
	o.logger.Debug("running tool", "tool", c.tc.Name, "id", c.tc.ID)
	go func() {
		res := reg.Execute(ctx, c.tc.Name, c.tc.Arguments)
		post(func() { o.onToolDone(c, res) })
	}()
}

func (o *Orchestrator) onToolDone(c *call, res tools.Result) {
	if o.running == c {
		o.running = nil
	}
	if o.dropped[c.tc.ID] {
		delete(o.dropped, c.tc.ID)
		o.logger.Debug("dropping result of cancelled tool call", "id", c.tc.ID)
		o.drain()
		o.updateState()
		return
	}
	if o.ctx.Err() != nil {
		return
	}

	c.done, c.ok, c.output = true, res.OK, res.Output
	if g, ok := o.groups[c.group]; ok {
		g.remaining--
		if g.remaining == 0 {
			delete(o.groups, c.group)
		}
	}
	o.emitResults()
	o.drain()
	o.settle()
}

// emitResults appends finished results to the history in call order.
func (o *Orchestrator) emitResults() {
	appended := false
	for o.emitted < len(o.turn) && o.turn[o.emitted].done {
		c := o.turn[o.emitted]
		desc := c.tc.Name
		if !c.ok {
			desc += " (failed)"
		}
		o.history.Messages = append(o.history.Messages, chathistory.Message{
			Role:        llm.RoleTool,
			Content:     c.output,
			Description: desc,
			ToolCallID:  c.tc.ID,
		})
		delete(o.awaiting, c.tc.ID)
		o.emitted++
		appended = true
	}
	if appended {
		o.snapshot()
	}
}

// settle continues the conversation once the last answer's calls all
// have results, otherwise it waits.
func (o *Orchestrator) settle() {
	if len(o.awaiting) > 0 || len(o.turn) == 0 || o.cancelGen != nil {
		o.updateState()
		return
	}
	o.turn = o.turn[:0]
	o.emitted = 0
	o.logger.Debug("all tool results in, continuing")
	o.generate()
}

// resolvePending answers every waiting call so a new prompt can be sent.
func (o *Orchestrator) resolvePending() {
	for _, c := range o.turn {
		if c.done {
			continue
		}
		if o.gate.IsAwaitingApproval(c.tc.ID) {
			_, _ = o.gate.Reject(c.tc.ID, "")
		}
		if o.running == c {
			// Its result still arrives and is dropped by id.
			o.dropped[c.tc.ID] = true
		}
		c.done, c.ok = true, false
		if c.known && c.typ == tools.ReadOnly {
			c.output = CancelledResult
		} else {
			c.output = approval.RejectedReason
		}
	}
	o.queue = nil
	clear(o.groups)
	o.emitResults()
	o.turn = o.turn[:0]
	o.emitted = 0
}

// ----------------------------------------------------------------------------
// Restore
// ----------------------------------------------------------------------------

// restore derives the waiting calls from the history. Calls of the last
// answer that are not read-only, with nothing but tool results after it,
// are held for confirmation again. Every other unanswered call is sealed
// with a cancelled result right after the results of its answer.
func (o *Orchestrator) restore() {
	msgs := o.history.Messages
	unpaired := chathistory.Unpaired(msgs)
	if len(unpaired) == 0 {
		return
	}
	open := make(map[string]bool, len(unpaired))
	for _, id := range unpaired {
		open[id] = true
	}

	last := -1
	for i, m := range msgs {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			last = i
		}
	}
	trailing := false
	for _, m := range msgs[last+1:] {
		if !m.IsToolResult() {
			trailing = true
			break
		}
	}

	seal := make(map[int][]llm.ToolCall)
	for i, m := range msgs {
		for _, tc := range m.ToolCalls {
			if !open[tc.ID] {
				continue
			}
			typ, known := o.classify(tc.Name)
			if i == last && !trailing && known && typ != tools.ReadOnly {
				c := &call{tc: tc, typ: typ, known: true}
				o.turn = append(o.turn, c)
				o.awaiting[tc.ID] = c
				_ = o.gate.Hold(approval.Request{
					HistoryID:  o.history.ID,
					ToolCallID: tc.ID,
					Tool:       tc.Name,
					Type:       typ,
					Arguments:  tc.Arguments,
				})
				continue
			}
			seal[i] = append(seal[i], tc)
		}
	}
	if len(seal) == 0 {
		return
	}

	out := make([]chathistory.Message, 0, len(msgs)+len(unpaired))
	owner := -1
	for i, m := range msgs {
		out = append(out, m)
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			owner = i
		}
		blockEnds := i+1 == len(msgs) || !msgs[i+1].IsToolResult()
		if owner >= 0 && blockEnds {
			for _, tc := range seal[owner] {
				out = append(out, chathistory.Message{
					Role:        llm.RoleTool,
					Content:     CancelledResult,
					Description: tc.Name + " (cancelled)",
					ToolCallID:  tc.ID,
				})
			}
			delete(seal, owner)
		}
	}
	o.history.Messages = out
	o.logger.Info("sealed unanswered tool calls", "restored", len(o.turn))
}

// ----------------------------------------------------------------------------
// State
// ----------------------------------------------------------------------------

func (o *Orchestrator) snapshot() {
	if o.opts.Store != nil {
		o.opts.Store.UpdateFromModel(o.history.Clone())
	}
}

func (o *Orchestrator) updateState() {
	next := StateIdle
	switch {
	case o.cancelGen != nil:
		next = StateGenerating
	case o.running != nil || len(o.queue) > 0:
		next = StateRunningTools
	case len(o.PendingApprovals()) > 0:
		next = StateAwaitingApproval
	case o.state == StateError:
		next = StateError
	}
	o.setState(next)
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	o.state = s
	if o.opts.Publisher != nil {
		o.opts.Publisher.Publish(event.NewAgentStateEvent(o.history.ID, string(s), len(o.awaiting)))
	}
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}
