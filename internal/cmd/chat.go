package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/agent"
	"github.com/timxx/qgitc-sub000/internal/chathistory"
	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/event"
	"github.com/timxx/qgitc-sub000/internal/llm"
	"github.com/timxx/qgitc-sub000/internal/tools"
)

var chatCmd = &cobra.Command{
	Use:   "chat [<prompt>...]",
	Short: "Ask the assistant about the repository",
	Long: `Talk to the configured model. It can inspect the repository with git
tools; tools that change files ask for confirmation first.

Without a prompt an interactive session starts. Conversations are saved
and can be continued with --history.

Examples:
  qgitc chat "Which commits touched the parser last week?"
  qgitc chat --review 1a2b3c4
  qgitc chat --review staged
  qgitc chat --list`,
	RunE: runChat,
}

var (
	chatReview   string
	chatHistory  string
	chatList     bool
	chatReadOnly bool
	chatYes      bool
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatReview, "review", "", "Review a commit, or 'staged' for the staged changes")
	chatCmd.Flags().StringVar(&chatHistory, "history", "", "Continue the conversation with this id")
	chatCmd.Flags().BoolVar(&chatList, "list", false, "List saved conversations")
	chatCmd.Flags().BoolVar(&chatReadOnly, "read-only", false, "Offer only read-only tools")
	chatCmd.Flags().BoolVarP(&chatYes, "yes", "y", false, "Run write tools without asking")
	chatCmd.MarkFlagsMutuallyExclusive("review", "list")
	chatCmd.MarkFlagsMutuallyExclusive("history", "list")
}

func runChat(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(workspaceOptions{NoRepo: chatList})
	if err != nil {
		return err
	}
	defer ws.Close()

	out := cmd.OutOrStdout()
	var store *chathistory.Store
	if kv := ws.kv(); kv != nil {
		store = chathistory.NewStore(kv, chathistory.Options{Logger: ws.logger})
		if err := store.Load(); err != nil {
			return err
		}
		defer func() {
			if err := store.Flush(); err != nil {
				ws.logger.Error("failed to save chat history", "error", err)
			}
		}()
	} else if chatList || chatHistory != "" {
		return fmt.Errorf("settings store unavailable at %s", ws.cfg.Storage.ResolvePath())
	}

	if chatList {
		writeHistories(out, store)
		return nil
	}

	var history *chathistory.History
	if chatHistory != "" {
		h, ok := store.Get(chatHistory)
		if !ok {
			return errors.NewNotFoundError("conversation", chatHistory)
		}
		history = h
	}

	ctx := cmd.Context()
	adapter, err := llm.NewFromConfig(ws.cfg, ws.logger)
	if err != nil {
		return err
	}
	reg := tools.NewRegistry(ws.logger)
	if err := (&tools.GitTools{Runner: ws.git, Root: ws.root()}).Register(reg); err != nil {
		return err
	}
	if history == nil && store != nil {
		history = store.NewConversation(adapter.Name(), adapter.Model())
	}

	s := ws.newSession(ctx)
	c := newChatSession(ctx, s.loop, out, ws)
	defer func() {
		s.stop()
		// The loop has stopped; the orchestrator is only touched here now.
		if c.orch != nil {
			c.orch.Close()
		}
	}()

	opts := agent.Options{
		Adapter:         adapter,
		Tools:           reg,
		Dispatcher:      s.loop,
		Publisher:       c.bus,
		AllowWriteTools: chatYes || ws.cfg.LLM.AllowWriteTools,
		ReadOnlyTools:   chatReadOnly,
		OnStream:        c.stream,
		OnError:         c.fail,
		Logger:          ws.logger,
	}
	if store != nil {
		opts.Store = store
	}

	if chatReview != "" {
		diffText, target, err := reviewDiff(ctx, ws, chatReview)
		if err != nil {
			return err
		}
		if err := c.start(func() (*agent.Orchestrator, error) {
			return agent.NewCodeReview(history, opts)
		}); err != nil {
			return err
		}
		err = c.turn(ctx, func(o *agent.Orchestrator) error { return o.Review(target, diffText) })
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s\n", c.id())
		return err
	}

	if err := c.start(func() (*agent.Orchestrator, error) { return agent.New(history, opts) }); err != nil {
		return err
	}
	defer fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s\n", c.id())

	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		return c.turn(ctx, func(o *agent.Orchestrator) error { return o.Send(prompt, "") })
	}
	if !interactive() {
		return invalidArgs("a prompt is required when not running in a terminal")
	}
	for {
		prompt, err := promptChat()
		if err != nil {
			if errors.IsCanceled(err) {
				return nil
			}
			return err
		}
		if prompt == "" {
			return nil
		}
		if err := c.turn(ctx, func(o *agent.Orchestrator) error { return o.Send(prompt, "") }); err != nil {
			if errors.IsCanceled(err) {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

// chatSession relays orchestrator events from the UI-context loop to the
// command goroutine, which owns the terminal.
type chatSession struct {
	ctx     context.Context
	loop    *event.Loop
	out     io.Writer
	ws      *workspace
	bus     *event.Bus
	orch    *agent.Orchestrator
	states  chan agent.State
	awaits  chan event.ToolAwaitingApprovalEvent
	lastErr error
	midLine bool
}

func newChatSession(ctx context.Context, loop *event.Loop, out io.Writer, ws *workspace) *chatSession {
	c := &chatSession{
		ctx:    ctx,
		loop:   loop,
		out:    out,
		ws:     ws,
		bus:    event.NewBus(ws.logger),
		states: make(chan agent.State, 64),
		awaits: make(chan event.ToolAwaitingApprovalEvent, 64),
	}
	c.bus.Subscribe(event.TypeAgentStateChanged, func(e event.Event) {
		if ev, ok := e.(event.AgentStateEvent); ok {
			c.states <- agent.State(ev.State)
		}
	})
	c.bus.Subscribe(event.TypeToolAwaiting, func(e event.Event) {
		if ev, ok := e.(event.ToolAwaitingApprovalEvent); ok {
			c.awaits <- ev
		}
	})
	return c
}

// stream and fail run on the loop.
func (c *chatSession) stream(u agent.StreamUpdate) {
	if u.Reasoning {
		fmt.Fprint(c.out, logMutedStyle.Render(u.Text))
	} else {
		fmt.Fprint(c.out, u.Text)
	}
	c.midLine = !strings.HasSuffix(u.Text, "\n")
}

func (c *chatSession) fail(err error) {
	c.lastErr = err
}

// call runs fn on the loop and waits for it.
func (c *chatSession) call(fn func() error) error {
	done := make(chan error, 1)
	if !c.loop.Post(func() { done <- fn() }) {
		return errors.ErrCanceled
	}
	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		return errors.ErrCanceled
	}
}

func (c *chatSession) start(create func() (*agent.Orchestrator, error)) error {
	return c.call(func() error {
		o, err := create()
		c.orch = o
		return err
	})
}

func (c *chatSession) id() string {
	if c.orch == nil {
		return ""
	}
	return c.orch.ID()
}

// turn sends one request and answers tool confirmations until the
// conversation is idle again.
func (c *chatSession) turn(ctx context.Context, send func(o *agent.Orchestrator) error) error {
	if err := c.call(func() error {
		c.lastErr = nil
		return send(c.orch)
	}); err != nil {
		return err
	}
	for {
		select {
		case st := <-c.states:
			switch st {
			case agent.StateIdle:
				c.endLine()
				return nil
			case agent.StateError:
				c.endLine()
				var err error
				_ = c.call(func() error { err = c.lastErr; return nil })
				if err == nil {
					err = errors.New("model request failed")
				}
				return err
			}
		case ev := <-c.awaits:
			c.endLine()
			ok, err := c.confirmTool(ev)
			if err != nil && !errors.IsCanceled(err) {
				return err
			}
			id := ev.ToolCallID
			if err := c.call(func() error {
				if ok {
					return c.orch.Approve(id)
				}
				return c.orch.Reject(id)
			}); err != nil {
				c.ws.logger.Warn("tool decision failed", "tool_call_id", id, "error", err)
			}
		case <-ctx.Done():
			return errors.ErrCanceled
		}
	}
}

func (c *chatSession) endLine() {
	_ = c.call(func() error {
		if c.midLine {
			fmt.Fprintln(c.out)
			c.midLine = false
		}
		return nil
	})
}

// confirmTool asks whether a held tool call may run. Without a terminal
// the call is rejected.
func (c *chatSession) confirmTool(ev event.ToolAwaitingApprovalEvent) (bool, error) {
	if !interactive() {
		fmt.Fprintf(c.out, "Rejected %s: confirmation needs a terminal\n", ev.Tool)
		return false, nil
	}
	return confirm("Run "+ev.Tool+"?", toolArguments(ev.Arguments))
}

func toolArguments(args string) string {
	args = strings.TrimSpace(args)
	if len(args) > 2000 {
		args = args[:2000] + "..."
	}
	return args
}

// promptChat asks for the next prompt. An empty answer ends the session.
func promptChat() (string, error) {
	var prompt string
	err := huh.NewText().
		Title("You").
		Description("Empty to quit").
		CharLimit(0).
		Lines(4).
		Value(&prompt).
		Run()
	if err != nil {
		return "", promptError(err)
	}
	return strings.TrimSpace(prompt), nil
}

// reviewDiff returns the patch to review and how to refer to it.
func reviewDiff(ctx context.Context, ws *workspace, rev string) (string, string, error) {
	var b strings.Builder
	add := func(repoDir string, data []byte) {
		if len(data) == 0 {
			return
		}
		if len(ws.repos) > 1 {
			fmt.Fprintf(&b, "# Repository: %s\n", displayRepo(repoDir))
		}
		b.WriteString(ws.codec.String(data))
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	if rev == "staged" {
		for _, repoDir := range ws.repos {
			data, err := ws.git.Output(ctx, ws.dir(repoDir), "diff", "--cached", "--no-color")
			if err != nil {
				return "", "", err
			}
			add(repoDir, data)
		}
		if b.Len() == 0 {
			return "", "", errors.ErrNothingStaged
		}
		return b.String(), "the staged changes", nil
	}

	finder, err := newCommitFinder(ctx, ws)
	if err != nil {
		return "", "", err
	}
	c, err := finder.find(ctx, rev)
	if err != nil {
		return "", "", err
	}
	for _, cc := range append([]*commit.Commit{c}, c.SubCommits...) {
		data, err := ws.git.Output(ctx, ws.dir(cc.RepoDir), "show", "--no-color", "--format=", cc.SHA1)
		if err != nil {
			return "", "", err
		}
		add(cc.RepoDir, data)
	}
	return b.String(), fmt.Sprintf("commit %s (%q)", c.ShortSHA1(10), c.Subject), nil
}

// writeHistories lists the saved conversations, newest first.
func writeHistories(w io.Writer, store *chathistory.Store) {
	n := 0
	for i := range store.Len() {
		h, _ := store.At(i)
		if h.IsEmpty() {
			continue
		}
		title := h.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s %s %s\n",
			h.ID,
			logMutedStyle.Render(h.Timestamp.Local().Format("2006-01-02 15:04")),
			title)
		n++
	}
	if n == 0 {
		fmt.Fprintln(w, "No saved conversations.")
	}
}
