// Package tools holds the functions an assistant may call: a registry of
// typed tool descriptors, argument validation that tolerates the loose
// JSON models produce, the git tools, and the V4A apply_patch tool.
package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// ToolType classifies what a tool may do to the repository.
type ToolType int

const (
	// ReadOnly tools only inspect state and may run without asking.
	ReadOnly ToolType = iota
	// Write tools change the work tree, index or history.
	Write
	// Dangerous tools may lose work. None are registered by default.
	Dangerous
)

func (t ToolType) String() string {
	switch t {
	case ReadOnly:
		return "read-only"
	case Write:
		return "write"
	case Dangerous:
		return "dangerous"
	}
	return "unknown"
}

// MaxOutput caps the bytes of output returned to the model.
const MaxOutput = 64 * 1024

// ExecuteFunc runs a tool with validated arguments.
type ExecuteFunc func(ctx context.Context, args Args) (string, error)

// Descriptor describes one tool.
type Descriptor struct {
	Name        string
	Description string
	Type        ToolType
	Schema      Schema
	Execute     ExecuteFunc
}

// Definition is the model-facing form of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is the outcome of a tool call as reported to the model.
type Result struct {
	OK     bool
	Output string
}

// Registry maps tool names to descriptors. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		tools:  make(map[string]*Descriptor),
		logger: logger.WithComponent("tools"),
	}
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.NewValidationError("tool name is empty").WithField("name")
	}
	if d.Execute == nil {
		return errors.NewValidationError("tool has no execute function").WithField("execute").WithValue(d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return errors.NewValidationError("tool already registered").WithField("name").WithValue(d.Name)
	}
	r.tools[d.Name] = &d
	return nil
}

// Get returns the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Classify returns the type of the named tool.
func (r *Registry) Classify(name string) (ToolType, error) {
	d, ok := r.Get(name)
	if !ok {
		return 0, errors.Wrapf(errors.ErrUnknownTool, "%q", name)
	}
	return d.Type, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Definitions returns every tool in the form sent to the model, sorted by
// name. With readOnly set, only read-only tools are listed.
func (r *Registry) Definitions(readOnly bool) []Definition {
	var defs []Definition
	for _, n := range r.Names() {
		d, _ := r.Get(n)
		if readOnly && d.Type != ReadOnly {
			continue
		}
		defs = append(defs, Definition{Name: d.Name, Description: d.Description, Parameters: d.Schema.JSON()})
	}
	return defs
}

// Execute validates rawArgs, a JSON object, and runs the named tool. Every
// failure becomes an unsuccessful Result so the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) Result {
	d, ok := r.Get(name)
	if !ok {
		return Result{Output: fmt.Sprintf("unknown tool %q", name)}
	}
	args, err := d.Schema.Parse(rawArgs)
	if err != nil {
		return Result{Output: describeError(err)}
	}

	r.logger.Debug("running tool", "tool", name, "type", d.Type.String())
	out, err := d.Execute(ctx, args)
	out = truncate(out)
	if err != nil {
		r.logger.Info("tool failed", "tool", name, "error", err)
		msg := describeError(err)
		if out != "" {
			msg = out + "\n" + msg
		}
		return Result{Output: msg}
	}
	if out == "" {
		out = "(no output)"
	}
	return Result{OK: true, Output: out}
}

func describeError(err error) string {
	var ve *errors.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		return fmt.Sprintf("invalid argument %q: %s", ve.Field, ve.Reason())
	}
	var ge *errors.GitError
	if errors.As(err, &ge) {
		msg := fmt.Sprintf("%s failed with exit code %d", ge.Command(), ge.ExitCode)
		if s := strings.TrimSpace(ge.Stderr); s != "" {
			msg += ":\n" + s
		}
		return msg
	}
	return "error: " + err.Error()
}

func truncate(s string) string {
	if len(s) <= MaxOutput {
		return s
	}
	return s[:MaxOutput] + "\n... (output truncated)"
}
