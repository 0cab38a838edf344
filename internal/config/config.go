package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete QGitc configuration
type Config struct {
	Git        GitConfig        `mapstructure:"git"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	Diff       DiffConfig       `mapstructure:"diff"`
	Commit     CommitConfig     `mapstructure:"commit"`
	Composite  CompositeConfig  `mapstructure:"composite"`
	Submodules SubmodulesConfig `mapstructure:"submodules"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Conflict   ConflictConfig   `mapstructure:"conflict"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GitConfig controls how the git binary is invoked
type GitConfig struct {
	// Binary is the git executable name or path (default: "git")
	Binary string `mapstructure:"binary"`
	// SecondaryEncoding is tried when output is not valid UTF-8, e.g. "gbk"
	// or "shift_jis". Empty means replace invalid bytes directly.
	SecondaryEncoding string `mapstructure:"secondary_encoding"`
	// CancelGraceMs is how long a terminated git process may linger before
	// it is killed (default: 50)
	CancelGraceMs int `mapstructure:"cancel_grace_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress zstd-compresses rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// StatusConfig controls which files the status fetcher reports
type StatusConfig struct {
	// ShowUntracked includes untracked files in the unstaged view (default: true)
	ShowUntracked bool `mapstructure:"show_untracked"`
	// ShowIgnored includes ignored files in the unstaged view (default: false)
	ShowIgnored bool `mapstructure:"show_ignored"`
}

// DiffConfig controls diff generation
type DiffConfig struct {
	// ContextLines is the -U value passed to git (default: 3)
	ContextLines int `mapstructure:"context_lines"`
	// IgnoreWhitespace is one of "none", "eol", "all" (default: "none")
	IgnoreWhitespace string `mapstructure:"ignore_whitespace"`
}

// CommitAction is a configured command run as part of a commit.
type CommitAction struct {
	// Command is the executable to run
	Command string `mapstructure:"command" yaml:"command"`
	// Args are passed to Command verbatim
	Args []string `mapstructure:"args" yaml:"args"`
	// Condition is one of "all_repos", "main_repo_only", "all_committed"
	Condition string `mapstructure:"condition" yaml:"condition"`
	// Enabled toggles the action without removing it
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// CommitConfig controls the commit workflow
type CommitConfig struct {
	// IgnoreCommentLines drops lines starting with '#' from messages (default: true)
	IgnoreCommentLines bool `mapstructure:"ignore_comment_lines"`
	// UseNTPTime overrides author and committer dates with NTP time (default: false)
	UseNTPTime bool `mapstructure:"use_ntp_time"`
	// NTPServer is the server queried when UseNTPTime is set (default: "pool.ntp.org")
	NTPServer string `mapstructure:"ntp_server"`
	// RunActions runs configured commit actions after committing (default: true)
	RunActions bool `mapstructure:"run_actions"`
	// Actions are the user-global commit actions
	Actions []CommitAction `mapstructure:"actions"`
}

// CompositeConfig controls composite (multi-repo) history
type CompositeConfig struct {
	// DaysSince limits per-repo logs to commits newer than this many days.
	// Zero disables the limit. (default: 90)
	DaysSince int `mapstructure:"days_since"`
}

// SubmodulesConfig controls submodule enumeration
type SubmodulesConfig struct {
	// Exclude is a list of glob patterns; matching submodule paths are skipped
	Exclude []string `mapstructure:"exclude"`
}

// LLMConfig controls the chat agent
type LLMConfig struct {
	// Adapter selects the registered adapter, "openai" or "ollama" (default: "openai")
	Adapter string `mapstructure:"adapter"`
	// BaseURL overrides the adapter's endpoint
	BaseURL string `mapstructure:"base_url"`
	// Model is the model id sent with each request
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable holding the API key
	// (default: "OPENAI_API_KEY")
	APIKeyEnv string `mapstructure:"api_key_env"`
	// TimeoutSeconds bounds a single request (default: 60)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// AllowWriteTools runs write tools without asking for confirmation (default: false)
	AllowWriteTools bool `mapstructure:"allow_write_tools"`
}

// ConflictConfig controls conflict resolution
type ConflictConfig struct {
	// MergeTool is passed to git mergetool --tool when set
	MergeTool string `mapstructure:"merge_tool"`
	// AutoNext moves to the next conflicted file after a resolution (default: true)
	AutoNext bool `mapstructure:"auto_next"`
	// UsePTY runs git mergetool attached to a pseudo terminal (default: false)
	UsePTY bool `mapstructure:"use_pty"`
}

// StorageConfig controls where user-scoped state is kept
type StorageConfig struct {
	// Path is the settings database path. Empty means {DataDir}/settings.db.
	Path string `mapstructure:"path"`
}

// CancelGrace returns the cancel grace window as a time.Duration
func (c *GitConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMs) * time.Millisecond
}

// Timeout returns the request timeout as a time.Duration
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey returns the API key from the configured environment variable.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Since returns the --since cutoff for composite logs, or the zero time when
// the limit is disabled.
func (c *CompositeConfig) Since(now time.Time) time.Time {
	if c.DaysSince <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -c.DaysSince)
}

// ResolvePath returns the settings database path, expanding ~ and
// defaulting to DataDir()/settings.db.
func (s *StorageConfig) ResolvePath() string {
	if s.Path == "" {
		return filepath.Join(DataDir(), "settings.db")
	}
	path := s.Path
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Git: GitConfig{
			Binary:        "git",
			CancelGraceMs: 50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Status: StatusConfig{
			ShowUntracked: true,
		},
		Diff: DiffConfig{
			ContextLines:     3,
			IgnoreWhitespace: "none",
		},
		Commit: CommitConfig{
			IgnoreCommentLines: true,
			NTPServer:          "pool.ntp.org",
			RunActions:         true,
			Actions:            []CommitAction{},
		},
		Composite: CompositeConfig{
			DaysSince: 90,
		},
		Submodules: SubmodulesConfig{
			Exclude: []string{},
		},
		LLM: LLMConfig{
			Adapter:        "openai",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 60,
		},
		Conflict: ConflictConfig{
			AutoNext: true,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("git.binary", d.Git.Binary)
	viper.SetDefault("git.secondary_encoding", d.Git.SecondaryEncoding)
	viper.SetDefault("git.cancel_grace_ms", d.Git.CancelGraceMs)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.compress", d.Logging.Compress)

	viper.SetDefault("status.show_untracked", d.Status.ShowUntracked)
	viper.SetDefault("status.show_ignored", d.Status.ShowIgnored)

	viper.SetDefault("diff.context_lines", d.Diff.ContextLines)
	viper.SetDefault("diff.ignore_whitespace", d.Diff.IgnoreWhitespace)

	viper.SetDefault("commit.ignore_comment_lines", d.Commit.IgnoreCommentLines)
	viper.SetDefault("commit.use_ntp_time", d.Commit.UseNTPTime)
	viper.SetDefault("commit.ntp_server", d.Commit.NTPServer)
	viper.SetDefault("commit.run_actions", d.Commit.RunActions)
	viper.SetDefault("commit.actions", d.Commit.Actions)

	viper.SetDefault("composite.days_since", d.Composite.DaysSince)
	viper.SetDefault("submodules.exclude", d.Submodules.Exclude)

	viper.SetDefault("llm.adapter", d.LLM.Adapter)
	viper.SetDefault("llm.base_url", d.LLM.BaseURL)
	viper.SetDefault("llm.model", d.LLM.Model)
	viper.SetDefault("llm.api_key_env", d.LLM.APIKeyEnv)
	viper.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	viper.SetDefault("llm.allow_write_tools", d.LLM.AllowWriteTools)

	viper.SetDefault("conflict.merge_tool", d.Conflict.MergeTool)
	viper.SetDefault("conflict.auto_next", d.Conflict.AutoNext)
	viper.SetDefault("conflict.use_pty", d.Conflict.UsePTY)

	viper.SetDefault("storage.path", d.Storage.Path)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qgitc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qgitc"
	}
	return filepath.Join(home, ".config", "qgitc")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory holding logs and the settings database.
func DataDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "qgitc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qgitc"
	}
	return filepath.Join(home, ".local", "state", "qgitc")
}
