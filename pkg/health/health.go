package health

import (
	"context"
	"fmt"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
)

// ServiceType classifies what a check probes; the availability gate keys
// on it.
type ServiceType string

const (
	ServiceScheduler  ServiceType = "scheduler"
	ServiceFilesystem ServiceType = "filesystem"
	ServiceSSH        ServiceType = "ssh"
	ServiceS3         ServiceType = "s3"
)

// CheckResult is one probe outcome as exposed on the status endpoints.
type CheckResult struct {
	ServiceType ServiceType `json:"serviceType"`
	Healthy     bool        `json:"healthy"`
	Path        string      `json:"path,omitempty"`
	Latency     float64     `json:"latency"`
	LastChecked string      `json:"lastChecked"`
	Message     string      `json:"message,omitempty"`
}

// Checker is a single probe. Check returns nil when the service answered
// within the probing timeout.
type Checker interface {
	ServiceType() ServiceType

	// Path identifies the probed mount for filesystem checks; empty
	// otherwise.
	Path() string

	Check(ctx context.Context) error
}

// SchedulerCheck pings the scheduler as the service account.
type SchedulerCheck struct {
	Client   scheduler.Client
	Username string
	Tokens   auth.TokenSource
}

func (c *SchedulerCheck) ServiceType() ServiceType { return ServiceScheduler }
func (c *SchedulerCheck) Path() string             { return "" }

func (c *SchedulerCheck) Check(ctx context.Context) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("service account token unavailable: %w", err)
	}
	pings, err := c.Client.Ping(ctx, c.Username, token)
	if err != nil {
		return err
	}
	for _, ping := range pings {
		if ping.Pinged == "UP" {
			return nil
		}
	}
	return fmt.Errorf("no scheduler controller answered the ping")
}

// probeCommand runs a trivial true in a directory; a healthy mount and a
// healthy shell both answer exit 0.
type probeCommand struct {
	dir string
}

func (c probeCommand) Command() string {
	return fmt.Sprintf("cd '%s' && timeout 5 true", c.dir)
}

func (c probeCommand) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, fmt.Errorf("probe command exited %d: %s", exitStatus, stderr)
	}
	return nil, nil
}

// FilesystemCheck verifies one mount is traversable as the service
// account.
type FilesystemCheck struct {
	Runner   scheduler.CommandRunner
	Mount    string
	Username string
	Tokens   auth.TokenSource
}

func (c *FilesystemCheck) ServiceType() ServiceType { return ServiceFilesystem }
func (c *FilesystemCheck) Path() string             { return c.Mount }

func (c *FilesystemCheck) Check(ctx context.Context) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("service account token unavailable: %w", err)
	}
	_, err = c.Runner.Run(ctx, c.Username, token, probeCommand{dir: c.Mount}, "")
	return err
}

// SSHCheck acquires and releases a pooled SSH client as the service
// account.
type SSHCheck struct {
	Pool     *sshpool.Pool
	Username string
	Tokens   auth.TokenSource
}

func (c *SSHCheck) ServiceType() ServiceType { return ServiceSSH }
func (c *SSHCheck) Path() string             { return "" }

func (c *SSHCheck) Check(ctx context.Context) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("service account token unavailable: %w", err)
	}
	return c.Pool.WithClient(ctx, c.Username, token, func(*sshpool.Client) error {
		return nil
	})
}

// S3Check verifies the object storage answers with the configured
// credentials.
type S3Check struct {
	Store interface {
		CheckAccess(ctx context.Context) error
	}
}

func (c *S3Check) ServiceType() ServiceType { return ServiceS3 }
func (c *S3Check) Path() string             { return "" }

func (c *S3Check) Check(ctx context.Context) error {
	return c.Store.CheckAccess(ctx)
}
