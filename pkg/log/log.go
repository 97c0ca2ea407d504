package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field. The child is
// returned as a pointer so call sites can chain level methods directly.
func WithComponent(component string) *zerolog.Logger {
	logger := Logger.With().Str("component", component).Logger()
	return &logger
}

// WithCluster creates a child logger with cluster field
func WithCluster(cluster string) *zerolog.Logger {
	logger := Logger.With().Str("cluster", cluster).Logger()
	return &logger
}

// WithUser creates a child logger with username field
func WithUser(username string) *zerolog.Logger {
	logger := Logger.With().Str("username", username).Logger()
	return &logger
}

// WithJobID creates a child logger with job_id field
func WithJobID(jobID int) *zerolog.Logger {
	logger := Logger.With().Int("job_id", jobID).Logger()
	return &logger
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// BackendCommand logs a command executed on a cluster login node.
// Only the first line is kept so multi-line job scripts piped over
// stdin never end up in the log stream.
func BackendCommand(cluster, username, command string, exitStatus int) {
	for i := 0; i < len(command); i++ {
		if command[i] == '\n' {
			command = command[:i]
			break
		}
	}
	Logger.Debug().
		Str("component", "ssh").
		Str("cluster", cluster).
		Str("username", username).
		Str("command", command).
		Int("exit_status", exitStatus).
		Msg("backend command")
}
