package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/encoding/htmlindex"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "diff.context_lines")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidWhitespaceModes returns the accepted diff.ignore_whitespace values
func ValidWhitespaceModes() []string {
	return []string{"none", "eol", "all"}
}

// ValidActionConditions returns the accepted commit action conditions
func ValidActionConditions() []string {
	return []string{"all_repos", "main_repo_only", "all_committed"}
}

// ValidAdapters returns the registered LLM adapter keys
func ValidAdapters() []string {
	return []string{"openai", "ollama"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGit()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateDiff()...)
	errors = append(errors, c.validateCommit()...)
	errors = append(errors, c.validateComposite()...)
	errors = append(errors, c.validateSubmodules()...)
	errors = append(errors, c.validateLLM()...)

	return errors
}

func (c *Config) validateGit() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Git.Binary) == "" {
		errors = append(errors, ValidationError{
			Field:   "git.binary",
			Value:   c.Git.Binary,
			Message: "must not be empty",
		})
	}

	if c.Git.SecondaryEncoding != "" {
		if _, err := htmlindex.Get(c.Git.SecondaryEncoding); err != nil {
			errors = append(errors, ValidationError{
				Field:   "git.secondary_encoding",
				Value:   c.Git.SecondaryEncoding,
				Message: "unknown encoding",
			})
		}
	}

	const maxGraceMs = 10000
	if c.Git.CancelGraceMs < 0 || c.Git.CancelGraceMs > maxGraceMs {
		errors = append(errors, ValidationError{
			Field:   "git.cancel_grace_ms",
			Value:   c.Git.CancelGraceMs,
			Message: fmt.Sprintf("must be between 0 and %d", maxGraceMs),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateDiff() []ValidationError {
	var errors []ValidationError

	if c.Diff.ContextLines < 0 {
		errors = append(errors, ValidationError{
			Field:   "diff.context_lines",
			Value:   c.Diff.ContextLines,
			Message: "must be non-negative",
		})
	}

	if c.Diff.IgnoreWhitespace != "" && !slices.Contains(ValidWhitespaceModes(), c.Diff.IgnoreWhitespace) {
		errors = append(errors, ValidationError{
			Field:   "diff.ignore_whitespace",
			Value:   c.Diff.IgnoreWhitespace,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidWhitespaceModes(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateCommit() []ValidationError {
	var errors []ValidationError

	if c.Commit.UseNTPTime && strings.TrimSpace(c.Commit.NTPServer) == "" {
		errors = append(errors, ValidationError{
			Field:   "commit.ntp_server",
			Value:   c.Commit.NTPServer,
			Message: "required when commit.use_ntp_time is enabled",
		})
	}

	for i, action := range c.Commit.Actions {
		field := fmt.Sprintf("commit.actions[%d]", i)
		if strings.TrimSpace(action.Command) == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".command",
				Value:   action.Command,
				Message: "must not be empty",
			})
		}
		if action.Condition != "" && !slices.Contains(ValidActionConditions(), action.Condition) {
			errors = append(errors, ValidationError{
				Field:   field + ".condition",
				Value:   action.Condition,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidActionConditions(), ", ")),
			})
		}
	}

	return errors
}

func (c *Config) validateComposite() []ValidationError {
	if c.Composite.DaysSince < 0 {
		return []ValidationError{{
			Field:   "composite.days_since",
			Value:   c.Composite.DaysSince,
			Message: "must be non-negative",
		}}
	}
	return nil
}

func (c *Config) validateSubmodules() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Submodules.Exclude {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("submodules.exclude[%d]", i),
				Value:   pattern,
				Message: "invalid glob pattern",
			})
		}
	}

	return errors
}

func (c *Config) validateLLM() []ValidationError {
	var errors []ValidationError

	if c.LLM.Adapter != "" && !slices.Contains(ValidAdapters(), c.LLM.Adapter) {
		errors = append(errors, ValidationError{
			Field:   "llm.adapter",
			Value:   c.LLM.Adapter,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAdapters(), ", ")),
		})
	}

	if c.LLM.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout_seconds",
			Value:   c.LLM.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	if c.LLM.BaseURL != "" && !strings.HasPrefix(c.LLM.BaseURL, "http://") && !strings.HasPrefix(c.LLM.BaseURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Value:   c.LLM.BaseURL,
			Message: "must start with http:// or https://",
		})
	}

	return errors
}
