package sshpool

import "errors"

// Command is a remote shell invocation paired with its output parser.
// Command renders the full shell line; ParseOutput turns the captured
// stdout, stderr and exit status into a normalized value or a typed error.
// ParseOutput must be pure: commands are values created per request.
type Command interface {
	Command() string
	ParseOutput(stdout, stderr string, exitStatus int) (any, error)
}

var (
	// ErrOutputLimitExceeded means stdout or stderr reached the buffer limit.
	ErrOutputLimitExceeded = errors.New("command output exceeded buffer limit")

	// ErrTimeoutLimitExceeded means a connect, credential or execute
	// deadline expired.
	ErrTimeoutLimitExceeded = errors.New("timeout limit exceeded")

	// ErrConnection means the SSH transport failed (dial, auth, channel).
	ErrConnection = errors.New("unable to establish SSH connection")

	// ErrPoolCapacityExceeded means the pool already holds max_clients
	// live connections for distinct users.
	ErrPoolCapacityExceeded = errors.New("SSH connection pool capacity exceeded")
)
