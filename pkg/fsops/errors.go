package fsops

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound maps "No such file or directory".
	ErrNotFound = errors.New("path not found")

	// ErrPermissionDenied maps "Permission denied" and
	// "Operation not permitted".
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotADirectory maps "Not a directory".
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsADirectory maps "Is a directory".
	ErrIsADirectory = errors.New("is a directory")

	// ErrFileExists maps "File exists".
	ErrFileExists = errors.New("file exists")

	// ErrInvalidArgument maps malformed utility arguments such as an
	// invalid chmod mode.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUtilityTimeout means the timeout(1) wrapper killed the utility
	// (exit status 124).
	ErrUtilityTimeout = errors.New("command timed out on the remote system")
)

// CommandError carries unrecognized non-zero exits together with the raw
// stderr text so the caller can surface it.
type CommandError struct {
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed with exit status %d: %s", e.ExitStatus, strings.TrimSpace(e.Stderr))
}

// timeoutKilledExit is the exit status of timeout(1) when the wrapped
// utility exceeded its allowance.
const timeoutKilledExit = 124

// mapExitError classifies a non-zero exit into the most specific error
// reachable from the stderr text.
func mapExitError(stderr string, exitStatus int) error {
	if exitStatus == timeoutKilledExit {
		return ErrUtilityTimeout
	}
	switch {
	case strings.Contains(stderr, "No such file or directory"):
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "Permission denied"),
		strings.Contains(stderr, "Operation not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "Not a directory"):
		return fmt.Errorf("%w: %s", ErrNotADirectory, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "Is a directory"):
		return fmt.Errorf("%w: %s", ErrIsADirectory, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "File exists"):
		return fmt.Errorf("%w: %s", ErrFileExists, strings.TrimSpace(stderr))
	case strings.Contains(stderr, "invalid mode"),
		strings.Contains(stderr, "invalid option"),
		strings.Contains(stderr, "invalid user"),
		strings.Contains(stderr, "invalid group"):
		return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.TrimSpace(stderr))
	}
	return &CommandError{ExitStatus: exitStatus, Stderr: stderr}
}
