package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/timxx/qgitc-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify qgitc configuration",
	Long: `View or modify qgitc configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	Args: exactArgs(0),
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  exactArgs(0),
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  qgitc config set diff.context_lines 5
  qgitc config set git.secondary_encoding gbk
  qgitc config set llm.adapter ollama

Run 'qgitc config keys' for the full list.`,
	Args: exactArgs(2),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by 'config set'",
	Args:  exactArgs(0),
	RunE:  runConfigKeys,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/qgitc/config.yaml with all available options.`,
	Args:  exactArgs(0),
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  exactArgs(0),
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// keyKind is the value type of a settable key.
type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
)

type configKey struct {
	kind keyKind
	// choices restricts string values when set.
	choices func() []string
	help    string
}

// configKeys lists the scalar keys `config set` accepts. Lists such as
// commit.actions and submodules.exclude are edited in the file.
var configKeys = map[string]configKey{
	"git.binary":                  {kind: kindString, help: "git executable name or path"},
	"git.secondary_encoding":      {kind: kindString, help: "encoding tried when output is not UTF-8, e.g. gbk"},
	"git.cancel_grace_ms":         {kind: kindInt, help: "delay before a canceled git process is killed"},
	"logging.level":               {kind: kindString, choices: config.ValidLogLevels, help: "minimum level written to the log"},
	"logging.max_size_mb":         {kind: kindInt, help: "log size that triggers rotation"},
	"logging.max_backups":         {kind: kindInt, help: "rotated logs to keep"},
	"logging.compress":            {kind: kindBool, help: "compress rotated logs"},
	"status.show_untracked":       {kind: kindBool, help: "list untracked files"},
	"status.show_ignored":         {kind: kindBool, help: "list ignored files"},
	"diff.context_lines":          {kind: kindInt, help: "context lines around changes"},
	"diff.ignore_whitespace":      {kind: kindString, choices: config.ValidWhitespaceModes, help: "whitespace changes to ignore"},
	"commit.ignore_comment_lines": {kind: kindBool, help: "drop '#' lines from commit messages"},
	"commit.use_ntp_time":         {kind: kindBool, help: "date commits with NTP time"},
	"commit.ntp_server":           {kind: kindString, help: "NTP server for commit dates"},
	"commit.run_actions":          {kind: kindBool, help: "run commit actions after committing"},
	"composite.days_since":        {kind: kindInt, help: "days of history to load (0 for all)"},
	"llm.adapter":                 {kind: kindString, choices: config.ValidAdapters, help: "model backend"},
	"llm.base_url":                {kind: kindString, help: "endpoint override"},
	"llm.model":                   {kind: kindString, help: "model id"},
	"llm.api_key_env":             {kind: kindString, help: "environment variable holding the API key"},
	"llm.timeout_seconds":         {kind: kindInt, help: "request timeout"},
	"llm.allow_write_tools":       {kind: kindBool, help: "run write tools without asking"},
	"conflict.merge_tool":         {kind: kindString, help: "tool passed to git mergetool"},
	"conflict.auto_next":          {kind: kindBool, help: "move to the next file after a resolution"},
	"conflict.use_pty":            {kind: kindBool, help: "run git mergetool on a pseudo terminal"},
	"storage.path":                {kind: kindString, help: "settings database path"},
}

// parseConfigValue converts value to the type of key.
func parseConfigValue(key, value string) (any, error) {
	k, ok := configKeys[key]
	if !ok {
		return nil, invalidArgs("unknown configuration key %q; run 'qgitc config keys' to list them", key)
	}
	switch k.kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, invalidArgs("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, invalidArgs("invalid value for %s: expected an integer", key)
		}
		if n < 0 {
			return nil, invalidArgs("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	}
	if k.choices != nil && !slices.Contains(k.choices(), value) {
		return nil, invalidArgs("invalid value for %s: %q\nValid options: %s",
			key, value, strings.Join(k.choices(), ", "))
	}
	return value, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none, using defaults)")
	}
	if _, err := config.Load(); err != nil {
		fmt.Fprintf(out, "# Invalid configuration: %v\n", err)
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	typed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return err
	}

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigKeys(cmd *cobra.Command, args []string) error {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	for _, k := range keys {
		help := configKeys[k].help
		if c := configKeys[k].choices; c != nil {
			help += " (" + strings.Join(c(), ", ") + ")"
		}
		fmt.Fprintf(out, "  %-28s %s\n", k, help)
	}
	return nil
}

const configTemplate = `# qgitc configuration

git:
  # git executable name or path
  binary: git
  # Encoding tried when git output is not valid UTF-8, e.g. gbk or shift_jis
  secondary_encoding: ""
  # How long a canceled git process may linger before it is killed
  cancel_grace_ms: 50

logging:
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3
  # Compress rotated logs with zstd
  compress: false

status:
  show_untracked: true
  show_ignored: false

diff:
  context_lines: 3
  # none, eol or all
  ignore_whitespace: none

commit:
  # Drop lines starting with '#' from commit messages
  ignore_comment_lines: true
  # Date commits with the time reported by ntp_server
  use_ntp_time: false
  ntp_server: pool.ntp.org
  run_actions: true
  # Commands run after committing. condition is all_repos,
  # main_repo_only or all_committed.
  actions: []
  #  - command: make
  #    args: [lint]
  #    condition: main_repo_only
  #    enabled: true

composite:
  # Days of history to load; 0 loads everything
  days_since: 90

submodules:
  # Glob patterns of submodule paths to leave out
  exclude: []

llm:
  # openai or ollama
  adapter: openai
  base_url: ""
  model: ""
  # Environment variable holding the API key
  api_key_env: OPENAI_API_KEY
  timeout_seconds: 60
  # Run tools that change files without asking
  allow_write_tools: false

conflict:
  # Tool passed to git mergetool --tool
  merge_tool: ""
  auto_next: true
  use_pty: false

storage:
  # Settings database; empty uses the state directory
  path: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'qgitc config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize qgitc.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}
	fmt.Fprintf(out, "State directory: %s\n", config.DataDir())
	fmt.Fprintf(out, "Settings database: %s\n", config.Get().Storage.ResolvePath())
	fmt.Fprintf(out, "\nSearch path: %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "Environment variables: QGITC_* (e.g. QGITC_DIFF_CONTEXT_LINES)")
	return nil
}
