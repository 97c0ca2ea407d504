package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// JobStatus is the normalized job state.
type JobStatus struct {
	State           string `json:"state"`
	StateReason     string `json:"stateReason,omitempty"`
	ExitCode        *int64 `json:"exitCode"`
	InterruptSignal *int64 `json:"interruptSignal,omitempty"`
}

// JobTime groups the job timestamps. All values are UNIX seconds, except
// Elapsed, Suspended and Limit which are durations in seconds.
type JobTime struct {
	Submission *int64 `json:"submission,omitempty"`
	Start      *int64 `json:"start,omitempty"`
	End        *int64 `json:"end,omitempty"`
	Elapsed    *int64 `json:"elapsed,omitempty"`
	Suspended  *int64 `json:"suspended,omitempty"`
	Limit      *int64 `json:"limit,omitempty"`
}

// JobTask is one step of a job.
type JobTask struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Status JobStatus `json:"status"`
	Time   JobTime   `json:"time"`
}

// Job is the scheduler-independent job record.
type Job struct {
	JobID            int       `json:"jobId"`
	Name             string    `json:"name"`
	Status           JobStatus `json:"status"`
	Tasks            []JobTask `json:"tasks,omitempty"`
	Time             JobTime   `json:"time"`
	Account          string    `json:"account,omitempty"`
	AllocationNodes  int       `json:"allocationNodes"`
	Cluster          string    `json:"cluster,omitempty"`
	Group            string    `json:"group,omitempty"`
	Nodes            string    `json:"nodes,omitempty"`
	Partition        string    `json:"partition,omitempty"`
	Priority         *int64    `json:"priority,omitempty"`
	User             string    `json:"user,omitempty"`
	WorkingDirectory string    `json:"workingDirectory,omitempty"`
}

// JobMetadata carries the pieces the scheduler keeps outside the job
// record proper: the batch script and the log paths.
type JobMetadata struct {
	JobID          int    `json:"jobId"`
	Script         string `json:"script,omitempty"`
	StandardInput  string `json:"standardInput,omitempty"`
	StandardOutput string `json:"standardOutput,omitempty"`
	StandardError  string `json:"standardError,omitempty"`
}

// JobDescription is the input to SubmitJob. Exactly one of Script and
// ScriptPath must be set; WorkingDirectory must be absolute.
type JobDescription struct {
	Name             string            `json:"name,omitempty"`
	WorkingDirectory string            `json:"workingDirectory"`
	StandardInput    string            `json:"standardInput,omitempty"`
	StandardOutput   string            `json:"standardOutput,omitempty"`
	StandardError    string            `json:"standardError,omitempty"`
	Environment      map[string]string `json:"env,omitempty"`
	Script           string            `json:"script,omitempty"`
	ScriptPath       string            `json:"scriptPath,omitempty"`
	Account          string            `json:"account,omitempty"`
}

// Validate checks the invariants shared by all backends.
func (d *JobDescription) Validate() error {
	if (d.Script == "") == (d.ScriptPath == "") {
		return fmt.Errorf("%w: exactly one of script and scriptPath must be set", ErrInvalidJobDescription)
	}
	if len(d.WorkingDirectory) == 0 || d.WorkingDirectory[0] != '/' {
		return fmt.Errorf("%w: workingDirectory must be an absolute path", ErrInvalidJobDescription)
	}
	return nil
}

// Node is a normalized compute node record.
type Node struct {
	Name       string   `json:"name"`
	State      string   `json:"state,omitempty"`
	CPUs       *int64   `json:"cpus,omitempty"`
	Memory     *int64   `json:"memory,omitempty"`
	Partitions []string `json:"partitions,omitempty"`
}

// Partition is a normalized queue/partition record.
type Partition struct {
	Name       string `json:"name"`
	State      string `json:"state,omitempty"`
	TotalCPUs  *int64 `json:"totalCpus,omitempty"`
	TotalNodes *int64 `json:"totalNodes,omitempty"`
	TotalJobs  *int64 `json:"totalJobs,omitempty"`
}

// Reservation is a normalized reservation record.
type Reservation struct {
	Name      string `json:"name"`
	State     string `json:"state,omitempty"`
	Users     string `json:"users,omitempty"`
	Nodes     string `json:"nodes,omitempty"`
	StartTime *int64 `json:"startTime,omitempty"`
	EndTime   *int64 `json:"endTime,omitempty"`
}

// Ping is the answer of one scheduler controller.
type Ping struct {
	Hostname string `json:"hostname,omitempty"`
	Pinged   string `json:"pinged,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

var (
	// ErrNotImplemented marks operations a backend lacks.
	ErrNotImplemented = errors.New("operation not supported by this scheduler backend")

	// ErrInvalidJobDescription marks constraint violations in the
	// submitted job description.
	ErrInvalidJobDescription = errors.New("invalid job description")

	// ErrAuthClaimMissing means the access token lacks the claim the
	// backend needs.
	ErrAuthClaimMissing = errors.New("required claim missing in auth token")

	// ErrBackendUnauthorized means the scheduler rejected the forwarded
	// credentials.
	ErrBackendUnauthorized = errors.New("scheduler rejected the provided credentials")

	// ErrJobNotFound means the scheduler knows no job with the requested id.
	ErrJobNotFound = errors.New("job not found")
)

// BackendError wraps unexpected scheduler responses; the API maps it to
// 502 Bad Gateway.
type BackendError struct {
	Scheduler string
	Message   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("unexpected %s response: %s", e.Scheduler, e.Message)
}

// Client is the scheduler abstraction. Every call acts as the given user:
// the REST backend forwards the access token, the CLI backends execute
// through the user's SSH connection.
type Client interface {
	SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (int, error)
	GetJob(ctx context.Context, jobID int, username, accessToken string, allUsers bool) ([]Job, error)
	GetJobs(ctx context.Context, username, accessToken string, allUsers bool) ([]Job, error)
	GetJobMetadata(ctx context.Context, jobID int, username, accessToken string) ([]JobMetadata, error)
	CancelJob(ctx context.Context, jobID int, username, accessToken string) error
	Nodes(ctx context.Context, username, accessToken string) ([]Node, error)
	Partitions(ctx context.Context, username, accessToken string) ([]Partition, error)
	Reservations(ctx context.Context, username, accessToken string) ([]Reservation, error)
	Ping(ctx context.Context, username, accessToken string) ([]Ping, error)

	// AttachCommand renders the shell line that attaches an interactive
	// entrypoint to a running job; the mediator executes it over the
	// user's SSH connection and bridges it to the WebSocket.
	AttachCommand(jobID int, entrypoint string) (string, error)
}
