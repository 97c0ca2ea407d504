package sshpool

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/eth-cscs/firecrest/pkg/log"
)

// Interactive is a long-lived remote process with its pipes exposed, used
// for job attach. Unlike Execute it is not bounded by the execute timeout;
// the caller owns the lifetime and must Close when done.
type Interactive struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	session session
}

// StartInteractive launches command on the remote side and hands the
// pipes to the caller.
func (c *Client) StartInteractive(command string) (*Interactive, error) {
	sess, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	log.BackendCommand(c.cluster, c.username, command, 0)

	return &Interactive{
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		session: sess,
	}, nil
}

// Close terminates the remote process: best-effort SIGINT and ^C, then the
// channel is torn down. Closing unblocks pending pipe reads.
func (i *Interactive) Close() {
	_ = i.session.Signal(ssh.SIGINT)
	_, _ = io.WriteString(i.Stdin, "\x03")
	_ = i.session.Close()
}

// Wait blocks until the remote process exits.
func (i *Interactive) Wait() error {
	return i.session.Wait()
}
