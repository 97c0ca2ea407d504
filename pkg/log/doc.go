/*
Package log provides structured logging for FirecREST using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all FirecREST packages
  - Thread-safe concurrent writes

Context Loggers:
  - WithComponent: Add component name to all logs ("sshpool", "prober", ...)
  - WithCluster: Add cluster name context
  - WithUser: Add username context
  - WithJobID: Add scheduler job id context

Backend Command Log:
  - BackendCommand records every shell line executed over SSH together with
    the cluster, the acting user and the exit status, at debug level

# Usage

Initializing the Logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development, appDebug: true)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Structured Logging:

	log.Logger.Info().
		Str("cluster", "daint").
		Int("job_id", 12345).
		Msg("job submitted")

	poolLog := log.WithComponent("sshpool")
	poolLog.Warn().Str("username", "alice").Msg("evicting closed client")

# Integration Points

This package integrates with:

  - pkg/sshpool: connection lifecycle and executed command lines
  - pkg/scheduler: backend REST calls and CLI parsing failures
  - pkg/health: probe outcomes per cluster and storage
  - pkg/api: request logging and error classification
  - pkg/transfer: submitted transfer jobs

# Security

Never log secrets: access tokens, private keys, passphrases and presigned
URLs are excluded from log fields. BackendCommand truncates commands at the
first newline so scripts piped through stdin stay out of the logs.
*/
package log
