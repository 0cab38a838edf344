package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/timxx/qgitc-sub000/internal/commit"
	"github.com/timxx/qgitc-sub000/internal/config"
	"github.com/timxx/qgitc-sub000/internal/errors"
)

// Process exit codes. Failures other than invalid arguments share
// ExitRepoNotFound.
const (
	ExitOK           = 0
	ExitRepoNotFound = 1
	ExitInvalidArgs  = 2
)

var rootCmd = &cobra.Command{
	Use:   "qgitc [<sha>]",
	Short: "Multi-repository git history browser and workbench",
	Long: `QGitc browses the history of a repository and its submodules as one
composite log, shows and searches patches, and drives commits, cherry-picks
and conflict resolution across every repository at once.

With a commit id as the only argument, shows that commit.`,
	Args:          rootArgs,
	RunE:          runShow,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var repoPath string

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil || errors.IsCanceled(err) {
		return ExitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	var cfgErrs config.ValidationErrors
	switch {
	case err == nil, errors.IsCanceled(err):
		return ExitOK
	case errors.Is(err, errors.ErrInvalidInput), errors.As(err, &cfgErrs):
		return ExitInvalidArgs
	default:
		return ExitRepoNotFound
	}
}

// invalidArgs wraps a usage error so that it maps to ExitInvalidArgs.
func invalidArgs(format string, args ...any) error {
	return errors.NewValidationError(fmt.Sprintf(format, args...))
}

// exactArgs is cobra.ExactArgs reporting ExitInvalidArgs.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return invalidArgs("%s accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// rangeArgs is cobra.RangeArgs reporting ExitInvalidArgs.
func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < lo || (hi >= 0 && len(args) > hi) {
			return invalidArgs("%s received %d arg(s)", cmd.CommandPath(), len(args))
		}
		return nil
	}
}

func rootArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return invalidArgs("accepts at most one commit id, received %d", len(args))
	}
	if len(args) == 1 && !commit.IsValidSHA1(args[0]) {
		return invalidArgs("unknown command or commit id %q", args[0])
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.NewValidationError(err.Error())
	})

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/qgitc/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "C", "", "run as if started in this directory")
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("QGITC")
	// e.g. QGITC_GIT_BINARY for git.binary
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
