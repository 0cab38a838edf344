// Package errors provides centralized error definitions and error handling utilities
// for QGitc. It defines the error taxonomy shared by the git invoker, the
// parsers, the commit workflow and the agent orchestrator, together with
// error constructors and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a particular subsystem:
//   - GitError: a git subprocess exited with a non-zero status
//   - ParseError: malformed git output (the offending record is skipped)
//   - DecodeError: bytes not valid in any attempted encoding
//   - PatchConflictError: apply_patch could not match hunk context
//   - NetworkError: LLM transport failure
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input (tool arguments, commit messages, config)
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewGitError("commit failed", errors.ErrOperationFailed).
//		WithRepository("libs/core").
//		WithArgs("commit", "-m", "msg").
//		WithExitCode(1).
//		WithStderr(stderr)
//
//	if errors.Is(err, errors.ErrRepoNotFound) { ... }
//
//	var gitErr *errors.GitError
//	if errors.As(err, &gitErr) { ... }
//
//	if errors.IsCanceled(err) { return nil } // cancellation is silent
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Repository and git sentinel errors
var (
	// ErrRepoNotFound indicates that no .git directory was discovered from the working directory.
	ErrRepoNotFound = New("repository not found")
	// ErrGitSpawnFailed indicates that the git binary is missing or not executable.
	ErrGitSpawnFailed = New("failed to start git")
	// ErrGitFailed indicates that git exited with a non-zero status.
	ErrGitFailed = New("git command failed")
	// ErrMergeConflict indicates that a merge or cherry-pick stopped on conflicts.
	ErrMergeConflict = New("merge conflict")
	// ErrNothingStaged indicates that a commit was requested without staged files.
	ErrNothingStaged = New("no staged files")
	// ErrEmptyMessage indicates a commit message that is empty after filtering.
	ErrEmptyMessage = New("empty commit message")
)

// Parsing sentinel errors
var (
	// ErrMalformedRecord indicates a log record with an unexpected field count.
	ErrMalformedRecord = New("malformed record")
	// ErrUndecodable indicates bytes that are not valid in any attempted encoding.
	ErrUndecodable = New("undecodable bytes")
)

// Agent sentinel errors
var (
	// ErrUnknownTool indicates a tool call for a name that is not registered.
	ErrUnknownTool = New("unknown tool")
	// ErrToolRejected indicates that the user rejected a tool call.
	ErrToolRejected = New("rejected by user")
	// ErrAwaitingToolResults indicates an attempt to advance a conversation with unresolved tool calls.
	ErrAwaitingToolResults = New("awaiting tool results")
	// ErrUnknownAdapter indicates an LLM adapter key that is not registered.
	ErrUnknownAdapter = New("unknown LLM adapter")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrOperationFailed indicates a general operation failure.
	ErrOperationFailed = New("operation failed")
	// ErrBusy indicates that an operation is already running.
	ErrBusy = New("operation already in progress")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QgitcError is the base interface for all QGitc errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type QgitcError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// GitError represents a failed git invocation. Stderr is kept untouched so
// the caller can show exactly what git reported.
//
// Example:
//
//	err := errors.NewGitError("failed to stage files", errors.ErrGitFailed)
//	err = err.WithRepository("libs/core").WithArgs("add", "a.txt").WithExitCode(128)
type GitError struct {
	baseError
	Args       []string
	Repository string
	ExitCode   int
	Stderr     string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		ExitCode: -1,
	}
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithArgs records the git arguments that were run.
func (e *GitError) WithArgs(args ...string) *GitError {
	e.Args = append([]string(nil), args...)
	return e
}

// WithExitCode records the exit code of the git process.
func (e *GitError) WithExitCode(code int) *GitError {
	e.ExitCode = code
	return e
}

// WithStderr records the stderr output of the git process.
func (e *GitError) WithStderr(stderr string) *GitError {
	e.Stderr = stderr
	return e
}

// WithSeverity sets the error severity.
func (e *GitError) WithSeverity(s Severity) *GitError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Command returns the git command line that failed.
func (e *GitError) Command() string {
	if len(e.Args) == 0 {
		return "git"
	}
	return "git " + strings.Join(e.Args, " ")
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if len(e.Args) > 0 {
		parts = append(parts, fmt.Sprintf("cmd=%q", e.Command()))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := fmt.Sprintf("%s: %s", prefix, e.message)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	if target == ErrGitFailed {
		return true
	}
	return e.baseError.Is(target)
}

// ParseError represents malformed git output. Parse errors are recovered
// locally: the record is skipped and streaming continues.
//
// Example:
//
//	err := errors.NewParseError("log", 1024, "abc\x01fix")
type ParseError struct {
	baseError
	Stage  string
	Offset int64
	Line   string
}

// NewParseError creates a new ParseError.
func NewParseError(stage string, offset int64, line string) *ParseError {
	return &ParseError{
		baseError: baseError{
			message:    "malformed " + stage + " output",
			cause:      ErrMalformedRecord,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: false,
		},
		Stage:  stage,
		Offset: offset,
		Line:   line,
	}
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return fmt.Sprintf("parse error [stage=%s, offset=%d]: %s: %q", e.Stage, e.Offset, e.message, line)
}

// Is checks if this error matches the target.
func (e *ParseError) Is(target error) bool {
	if _, ok := target.(*ParseError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DecodeError represents a byte sequence that could not be decoded with any
// configured encoding. The text is replaced with U+FFFD; the error is only
// informational.
type DecodeError struct {
	baseError
	Encodings []string
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(encodings ...string) *DecodeError {
	return &DecodeError{
		baseError: baseError{
			message:    "undecodable bytes replaced",
			cause:      ErrUndecodable,
			severity:   SeverityDebug,
			retryable:  false,
			userFacing: false,
		},
		Encodings: encodings,
	}
}

// Error returns the formatted error message.
func (e *DecodeError) Error() string {
	if len(e.Encodings) == 0 {
		return "decode error: " + e.message
	}
	return fmt.Sprintf("decode error [tried=%s]: %s", strings.Join(e.Encodings, ","), e.message)
}

// PatchConflictError is returned by apply_patch when hunk context does not
// match the working-tree file. No partial writes happen when it is returned.
type PatchConflictError struct {
	baseError
	Path              string
	HunkIndex         int
	FirstMismatchLine string
}

// NewPatchConflictError creates a new PatchConflictError.
func NewPatchConflictError(path string, hunkIndex int, firstMismatch string) *PatchConflictError {
	return &PatchConflictError{
		baseError: baseError{
			message:    "patch context does not match",
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Path:              path,
		HunkIndex:         hunkIndex,
		FirstMismatchLine: firstMismatch,
	}
}

// Error returns the formatted error message.
func (e *PatchConflictError) Error() string {
	return fmt.Sprintf("patch conflict [file=%s, hunk=%d]: %s: first mismatched line %q",
		e.Path, e.HunkIndex, e.message, e.FirstMismatchLine)
}

// Is checks if this error matches the target.
func (e *PatchConflictError) Is(target error) bool {
	_, ok := target.(*PatchConflictError)
	return ok
}

// NetworkError represents an LLM transport failure. It is reported inline
// in the chat thread with a retry hint.
type NetworkError struct {
	baseError
	StatusCode int
}

// NewNetworkError creates a new NetworkError.
func NewNetworkError(message string, cause error) *NetworkError {
	return &NetworkError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithStatusCode records the HTTP status code returned by the provider.
func (e *NetworkError) WithStatusCode(code int) *NetworkError {
	e.StatusCode = code
	return e
}

// Error returns the formatted error message.
func (e *NetworkError) Error() string {
	prefix := "network error"
	if e.StatusCode > 0 {
		prefix = fmt.Sprintf("network error [status=%d]", e.StatusCode)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *NetworkError) Is(target error) bool {
	if _, ok := target.(*NetworkError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RetryHint returns the hint shown next to the error in the chat thread.
func (e *NetworkError) RetryHint() string {
	return "Check the network connection or model settings, then send the message again."
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("history", "1f0c...")
//	fmt.Println(err) // "history '1f0c...' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    "not found",
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("%s not found", e.ResourceType)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input. Tool-call validation errors are
// surfaced back to the model as unsuccessful tool results.
//
// Example:
//
//	err := errors.NewValidationError("must be an integer").WithField("max_count").WithValue("ten")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Reason returns the validation failure without the field prefix.
func (e *ValidationError) Reason() string {
	return e.message
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(fmt.Sprintf(" [field=%s]", e.Field))
	}
	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.Value != nil {
		sb.WriteString(fmt.Sprintf(" (got: %v)", e.Value))
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("resolving conflict", 5*time.Minute)
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    "operation timed out",
			cause:      ErrTimeout,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsCanceled reports whether err represents a user or shutdown cancellation.
// Cancellation is cooperative and silent, so callers use this to suppress it.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCanceled) || Is(err, context.Canceled)
}

// IsRetryable returns true if the error is transient.
func IsRetryable(err error) bool {
	var qe QgitcError
	if As(err, &qe) {
		return qe.IsRetryable()
	}
	return Is(err, ErrTimeout) || Is(err, context.DeadlineExceeded)
}

// IsUserFacing returns true if the error can be shown to users as-is.
func IsUserFacing(err error) bool {
	var qe QgitcError
	if As(err, &qe) {
		return qe.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	var qe QgitcError
	if As(err, &qe) {
		return qe.Severity()
	}
	return SeverityError
}

// UserMessage returns a message suitable for display. Internal errors are
// replaced with a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "an internal error occurred"
}

// Wrap wraps err with a message, returning nil when err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps err with a formatted message, returning nil when err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Ensure error types implement QgitcError at compile time.
var (
	_ QgitcError = (*GitError)(nil)
	_ QgitcError = (*ParseError)(nil)
	_ QgitcError = (*DecodeError)(nil)
	_ QgitcError = (*PatchConflictError)(nil)
	_ QgitcError = (*NetworkError)(nil)
	_ QgitcError = (*NotFoundError)(nil)
	_ QgitcError = (*ValidationError)(nil)
	_ QgitcError = (*TimeoutError)(nil)
)
