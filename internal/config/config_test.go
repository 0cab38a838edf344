package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Git.Binary != "git" {
		t.Errorf("Git.Binary = %q, want %q", cfg.Git.Binary, "git")
	}
	if cfg.Git.CancelGraceMs != 50 {
		t.Errorf("Git.CancelGraceMs = %d, want 50", cfg.Git.CancelGraceMs)
	}
	if !cfg.Status.ShowUntracked || cfg.Status.ShowIgnored {
		t.Errorf("Status = %+v, want untracked shown and ignored hidden", cfg.Status)
	}
	if cfg.Diff.ContextLines != 3 {
		t.Errorf("Diff.ContextLines = %d, want 3", cfg.Diff.ContextLines)
	}
	if !cfg.Commit.IgnoreCommentLines {
		t.Error("Commit.IgnoreCommentLines should be true by default")
	}
	if cfg.Commit.UseNTPTime {
		t.Error("Commit.UseNTPTime should be false by default")
	}
	if cfg.Composite.DaysSince != 90 {
		t.Errorf("Composite.DaysSince = %d, want 90", cfg.Composite.DaysSince)
	}
	if cfg.LLM.Adapter != "openai" || cfg.LLM.AllowWriteTools {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if !cfg.Conflict.AutoNext {
		t.Error("Conflict.AutoNext should be true by default")
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", ValidationErrors(errs))
	}
}

func TestDurations(t *testing.T) {
	g := GitConfig{CancelGraceMs: 50}
	if g.CancelGrace() != 50*time.Millisecond {
		t.Errorf("CancelGrace() = %v", g.CancelGrace())
	}
	l := LLMConfig{TimeoutSeconds: 60}
	if l.Timeout() != time.Minute {
		t.Errorf("Timeout() = %v", l.Timeout())
	}
}

func TestCompositeConfig_Since(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	c := CompositeConfig{DaysSince: 30}
	if got := c.Since(now); !got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Since() = %v", got)
	}
	c.DaysSince = 0
	if got := c.Since(now); !got.IsZero() {
		t.Errorf("Since() with 0 days = %v, want zero", got)
	}
}

func TestLLMConfig_APIKey(t *testing.T) {
	t.Setenv("QGITC_TEST_KEY", "sk-test")
	c := LLMConfig{APIKeyEnv: "QGITC_TEST_KEY"}
	if c.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q", c.APIKey())
	}
	c.APIKeyEnv = ""
	if c.APIKey() != "" {
		t.Error("APIKey() with no env should be empty")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/qgitc" {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != "/custom/config/qgitc/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "qgitc"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestStorageConfig_ResolvePath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	s := StorageConfig{}
	if got := s.ResolvePath(); got != "/state/qgitc/settings.db" {
		t.Errorf("ResolvePath() = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	s.Path = "~/db/qgitc.db"
	if got, want := s.ResolvePath(), filepath.Join(home, "db", "qgitc.db"); got != want {
		t.Errorf("ResolvePath() = %q, want %q", got, want)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	cfg := Get()
	if cfg.Git.Binary != "git" {
		t.Errorf("Get().Git.Binary = %q, want git", cfg.Git.Binary)
	}
	if cfg.Commit.NTPServer != "pool.ntp.org" {
		t.Errorf("Get().Commit.NTPServer = %q", cfg.Commit.NTPServer)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	yaml := `
git:
  secondary_encoding: gbk
diff:
  ignore_whitespace: eol
commit:
  actions:
    - command: make
      args: [lint]
      condition: main_repo_only
      enabled: true
submodules:
  exclude: ["third_party/*"]
`
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Git.SecondaryEncoding != "gbk" {
		t.Errorf("SecondaryEncoding = %q", cfg.Git.SecondaryEncoding)
	}
	if cfg.Diff.IgnoreWhitespace != "eol" {
		t.Errorf("IgnoreWhitespace = %q", cfg.Diff.IgnoreWhitespace)
	}
	if len(cfg.Commit.Actions) != 1 || cfg.Commit.Actions[0].Command != "make" || cfg.Commit.Actions[0].Args[0] != "lint" {
		t.Errorf("Actions = %+v", cfg.Commit.Actions)
	}
	if len(cfg.Submodules.Exclude) != 1 {
		t.Errorf("Exclude = %v", cfg.Submodules.Exclude)
	}
	if cfg.Git.Binary != "git" {
		t.Error("defaults should fill unset keys")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty binary", func(c *Config) { c.Git.Binary = " " }, "git.binary"},
		{"unknown encoding", func(c *Config) { c.Git.SecondaryEncoding = "klingon" }, "git.secondary_encoding"},
		{"negative grace", func(c *Config) { c.Git.CancelGraceMs = -1 }, "git.cancel_grace_ms"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -2 }, "logging.max_backups"},
		{"negative context", func(c *Config) { c.Diff.ContextLines = -1 }, "diff.context_lines"},
		{"bad whitespace", func(c *Config) { c.Diff.IgnoreWhitespace = "some" }, "diff.ignore_whitespace"},
		{"ntp without server", func(c *Config) { c.Commit.UseNTPTime = true; c.Commit.NTPServer = "" }, "commit.ntp_server"},
		{"action without command", func(c *Config) {
			c.Commit.Actions = []CommitAction{{Condition: "all_repos"}}
		}, "commit.actions[0].command"},
		{"action bad condition", func(c *Config) {
			c.Commit.Actions = []CommitAction{{Command: "x", Condition: "sometimes"}}
		}, "commit.actions[0].condition"},
		{"negative days", func(c *Config) { c.Composite.DaysSince = -1 }, "composite.days_since"},
		{"bad glob", func(c *Config) { c.Submodules.Exclude = []string{"[a-"} }, "submodules.exclude[0]"},
		{"bad adapter", func(c *Config) { c.LLM.Adapter = "anthropic" }, "llm.adapter"},
		{"bad base url", func(c *Config) { c.LLM.BaseURL = "localhost:11434" }, "llm.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), ValidationErrors(errs))
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "" {
		t.Errorf("empty Error() = %q", empty.Error())
	}

	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if one.Error() != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", one.Error())
	}

	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	if !strings.HasPrefix(two.Error(), "2 validation errors:") {
		t.Errorf("multi Error() = %q", two.Error())
	}
}
