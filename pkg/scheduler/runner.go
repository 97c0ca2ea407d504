package scheduler

import (
	"context"
	"strings"

	"github.com/eth-cscs/firecrest/pkg/sshpool"
)

// CommandRunner executes a rendered command line on the cluster as the
// given user. The production implementation goes through the SSH pool;
// tests substitute canned outputs.
type CommandRunner interface {
	Run(ctx context.Context, username, accessToken string, command sshpool.Command, stdin string) (any, error)
}

// PoolRunner adapts an SSH connection pool to the CommandRunner interface.
type PoolRunner struct {
	Pool *sshpool.Pool
}

func (r *PoolRunner) Run(ctx context.Context, username, accessToken string, command sshpool.Command, stdin string) (any, error) {
	var result any
	err := r.Pool.WithClient(ctx, username, accessToken, func(client *sshpool.Client) error {
		var execErr error
		result, execErr = client.Execute(command, stdin)
		return execErr
	})
	return result, err
}

// cliCommand pairs a rendered shell line with its output parser, the same
// contract the filesystem operations follow.
type cliCommand struct {
	line  string
	parse func(stdout, stderr string, exitStatus int) (any, error)
}

func (c cliCommand) Command() string { return c.line }

func (c cliCommand) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	return c.parse(stdout, stderr, exitStatus)
}

// shQuote single-quotes a string for the remote shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
