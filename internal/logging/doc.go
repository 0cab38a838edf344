// Package logging provides structured logging for QGitc.
//
// This package wraps Go's log/slog to write JSON-formatted logs into the
// user's state directory. Every git subprocess, executor batch, commit
// workflow step and agent tool call is logged with enough context to
// reconstruct what happened after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR), overridable with
//     the QGITC_LOG_LEVEL environment variable
//   - Context propagation (repository, component, conversation)
//   - Size-based log rotation with optional zstd compression of backups
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(stateDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	repoLogger := logger.WithComponent("executor").WithRepo("libs/core")
//	repoLogger.Info("git finished", "args", args, "exit", 0)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"git finished","component":"executor","repo":"libs/core","args":["status"],"exit":0}
//
// # Disabling Logging
//
// Use [NopLogger] in tests or when logging is disabled:
//
//	logger := logging.NopLogger()
//	logger.Info("this is discarded")
package logging
