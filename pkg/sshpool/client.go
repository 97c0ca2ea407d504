package sshpool

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/eth-cscs/firecrest/pkg/log"
)

// conn abstracts the underlying SSH connection so tests can substitute an
// in-memory transport. *ssh.Client is adapted by sshClientConn.
type conn interface {
	NewSession() (session, error)
	SendKeepAlive() error
	Close() error
}

// session is the subset of *ssh.Session the client uses.
type session interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Signal(sig ssh.Signal) error
	Close() error
}

type sshClientConn struct {
	client *ssh.Client
}

func (c sshClientConn) NewSession() (session, error) { return c.client.NewSession() }

func (c sshClientConn) SendKeepAlive() error {
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (c sshClientConn) Close() error { return c.client.Close() }

// Client is one live authenticated connection to a login node, owned by
// exactly one pool slot keyed (cluster, user).
type Client struct {
	cluster  string
	username string

	conn           conn
	executeTimeout time.Duration
	bufferLimit    int64

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool

	stopKeepAlive chan struct{}
}

const keepAliveCountMax = 3

func newClient(cluster, username string, c conn, executeTimeout, keepAlive time.Duration, bufferLimit int64) *Client {
	client := &Client{
		cluster:        cluster,
		username:       username,
		conn:           c,
		executeTimeout: executeTimeout,
		bufferLimit:    bufferLimit,
		lastUsed:       time.Now(),
		stopKeepAlive:  make(chan struct{}),
	}
	go client.keepAliveLoop(keepAlive)
	return client
}

// keepAliveLoop pings the server on the keep-alive cadence and closes the
// connection after keepAliveCountMax consecutive failures.
func (c *Client) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-c.stopKeepAlive:
			return
		case <-ticker.C:
			if err := c.conn.SendKeepAlive(); err != nil {
				failures++
				if failures >= keepAliveCountMax {
					log.WithComponent("sshpool").Warn().
						Str("cluster", c.cluster).
						Str("username", c.username).
						Msg("keep-alive failed, closing connection")
					c.Close()
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// Username returns the user this connection authenticates as.
func (c *Client) Username() string { return c.username }

// ResetIdle stamps the client as just used. The timestamp is monotonically
// non-decreasing under the client lock.
func (c *Client) ResetIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
}

// IsIdle reports whether the client has been unused for longer than
// idleTimeout.
func (c *Client) IsIdle(idleTimeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed) > idleTimeout
}

// Close terminates the connection. Closed clients are evicted from the pool
// on the next acquire or pruner pass.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopKeepAlive)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLimit drains r up to limit bytes. Reaching the limit is detected by
// the caller comparing the returned length against the limit.
func readLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return data, err
	}
	return data, nil
}

// Execute runs command on the remote side, feeding stdin if non-empty, and
// returns the value produced by the command's parser.
//
// The whole exchange is bounded by the execute timeout; on expiry the
// remote process receives a best-effort SIGINT (and a ^C on stdin) before
// the channel is torn down. stdout and stderr are each read up to the
// buffer limit; hitting the limit fails the call rather than truncating.
func (c *Client) Execute(command Command, stdin string) (any, error) {
	commandLine := command.Command()

	sess, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer sess.Close()

	stdinPipe, err := sess.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	stdoutPipe, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	stderrPipe, err := sess.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := sess.Start(commandLine); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	type readResult struct {
		data []byte
		err  error
	}

	stdoutCh := make(chan readResult, 1)
	stderrCh := make(chan readResult, 1)
	waitCh := make(chan error, 1)

	go func() {
		data, err := readLimit(stdoutPipe, c.bufferLimit)
		stdoutCh <- readResult{data, err}
	}()
	go func() {
		data, err := readLimit(stderrPipe, c.bufferLimit)
		stderrCh <- readResult{data, err}
	}()
	go func() {
		if stdin != "" {
			_, _ = io.WriteString(stdinPipe, stdin)
		}
		_ = stdinPipe.Close()
	}()
	go func() {
		waitCh <- sess.Wait()
	}()

	timer := time.NewTimer(c.executeTimeout)
	defer timer.Stop()

	var stdout, stderr readResult
	var waitErr error
	pending := 3
	for pending > 0 {
		select {
		case stdout = <-stdoutCh:
			pending--
		case stderr = <-stderrCh:
			pending--
		case waitErr = <-waitCh:
			pending--
		case <-timer.C:
			_ = sess.Signal(ssh.SIGINT)
			_, _ = io.WriteString(stdinPipe, "\x03")
			_ = sess.Close()
			return nil, fmt.Errorf("%w: command execution", ErrTimeoutLimitExceeded)
		}
	}

	if stdout.err != nil || stderr.err != nil {
		return nil, fmt.Errorf("%w: reading command output", ErrConnection)
	}
	if int64(len(stdout.data)) >= c.bufferLimit || int64(len(stderr.data)) >= c.bufferLimit {
		return nil, ErrOutputLimitExceeded
	}

	exitStatus := 0
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			exitStatus = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("%w: %v", ErrConnection, waitErr)
		}
	}

	log.BackendCommand(c.cluster, c.username, commandLine, exitStatus)
	return command.ParseOutput(string(stdout.data), string(stderr.data), exitStatus)
}
