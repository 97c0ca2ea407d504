package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/eth-cscs/firecrest/pkg/metrics"
)

// SlurmCliClient drives SLURM through its command line tools, executed on
// a login node over the calling user's SSH connection. All JSON emitting
// commands share the wire decoders with the REST backend.
type SlurmCliClient struct {
	cluster string
	runner  CommandRunner
}

func NewSlurmCliClient(cluster string, runner CommandRunner) *SlurmCliClient {
	return &SlurmCliClient{cluster: cluster, runner: runner}
}

func (c *SlurmCliClient) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SchedulerCallsTotal.WithLabelValues(c.cluster, operation, outcome).Inc()
}

func cliError(stderr string, exitStatus int) error {
	message := strings.TrimSpace(stderr)
	if strings.Contains(message, "Invalid job id") {
		return ErrJobNotFound
	}
	if message == "" {
		message = fmt.Sprintf("exit status %d", exitStatus)
	}
	return &BackendError{Scheduler: "slurm", Message: message}
}

// sbatchLine renders the submit command. The script travels on stdin when
// given inline, otherwise the remote path is appended as the script
// argument.
func sbatchLine(job *JobDescription) string {
	args := []string{"sbatch", "--parsable", "--chdir=" + shQuote(job.WorkingDirectory)}
	if job.Name != "" {
		args = append(args, "--job-name="+shQuote(job.Name))
	}
	if job.Account != "" {
		args = append(args, "--account="+shQuote(job.Account))
	}
	if job.StandardInput != "" {
		args = append(args, "--input="+shQuote(job.StandardInput))
	}
	if job.StandardOutput != "" {
		args = append(args, "--output="+shQuote(job.StandardOutput))
	}
	if job.StandardError != "" {
		args = append(args, "--error="+shQuote(job.StandardError))
	}
	if len(job.Environment) > 0 {
		keys := make([]string, 0, len(job.Environment))
		for key := range job.Environment {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, key+"="+job.Environment[key])
		}
		args = append(args, "--export="+shQuote("ALL,"+strings.Join(pairs, ",")))
	}
	if job.ScriptPath != "" {
		args = append(args, "--", shQuote(job.ScriptPath))
	}
	return strings.Join(args, " ")
}

func parseSbatchOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, cliError(stderr, exitStatus)
	}
	// --parsable prints "jobid" or "jobid;cluster"
	first, _, _ := strings.Cut(strings.TrimSpace(stdout), ";")
	jobID, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "sbatch returned no job id: " + strings.TrimSpace(stdout)}
	}
	return jobID, nil
}

func (c *SlurmCliClient) SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (jobID int, err error) {
	defer func() { c.observe("submit", err) }()

	if err := job.Validate(); err != nil {
		return 0, err
	}

	result, err := c.runner.Run(ctx, username, accessToken, cliCommand{
		line:  sbatchLine(job),
		parse: parseSbatchOutput,
	}, job.Script)
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *SlurmCliClient) jsonCommand(ctx context.Context, username, accessToken, line string, decode func([]byte) (any, error)) (any, error) {
	return c.runner.Run(ctx, username, accessToken, cliCommand{
		line: line,
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, cliError(stderr, exitStatus)
			}
			return decode([]byte(stdout))
		},
	}, "")
}

func (c *SlurmCliClient) GetJob(ctx context.Context, jobID int, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_job", err) }()

	line := fmt.Sprintf("sacct --json --jobs=%d", jobID)
	if allUsers {
		line += " --allusers"
	}
	result, err := c.jsonCommand(ctx, username, accessToken, line, func(data []byte) (any, error) {
		return decodeSlurmJobs(data, username, allUsers)
	})
	if err != nil {
		return nil, err
	}
	jobs = result.([]Job)
	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}
	return jobs, nil
}

func (c *SlurmCliClient) GetJobs(ctx context.Context, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_jobs", err) }()

	line := "sacct --json"
	if allUsers {
		line += " --allusers"
	}
	result, err := c.jsonCommand(ctx, username, accessToken, line, func(data []byte) (any, error) {
		return decodeSlurmJobs(data, username, allUsers)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Job), nil
}

// parseBatchScript strips the two header lines sacct prints before the
// script body:
//
//	Batch Script for 42
//	--------------------------------------------------------------------------------
func parseBatchScript(stdout string) string {
	lines := strings.Split(stdout, "\n")
	start := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "----------") {
			start = i + 1
			break
		}
	}
	return strings.Join(lines[start:], "\n")
}

type slurmStdPaths struct {
	StandardInput  string `json:"standard_input"`
	StandardOutput string `json:"standard_output"`
	StandardError  string `json:"standard_error"`
}

func (c *SlurmCliClient) GetJobMetadata(ctx context.Context, jobID int, username, accessToken string) (meta []JobMetadata, err error) {
	defer func() { c.observe("get_job_metadata", err) }()

	result, err := c.runner.Run(ctx, username, accessToken, cliCommand{
		line: fmt.Sprintf("sacct --jobs=%d --batch-script", jobID),
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, cliError(stderr, exitStatus)
			}
			return parseBatchScript(stdout), nil
		},
	}, "")
	if err != nil {
		return nil, err
	}

	metadata := JobMetadata{JobID: jobID, Script: result.(string)}

	// scontrol forgets completed jobs; the std path fields stay empty then.
	paths, pathErr := c.jsonCommand(ctx, username, accessToken,
		fmt.Sprintf("scontrol show job %d --json", jobID),
		func(data []byte) (any, error) {
			var payload struct {
				Jobs []slurmStdPaths `json:"jobs"`
			}
			if err := json.Unmarshal(data, &payload); err != nil || len(payload.Jobs) == 0 {
				return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse job document"}
			}
			return payload.Jobs[0], nil
		})
	if pathErr == nil {
		job := paths.(slurmStdPaths)
		metadata.StandardInput = job.StandardInput
		metadata.StandardOutput = job.StandardOutput
		metadata.StandardError = job.StandardError
	}

	return []JobMetadata{metadata}, nil
}

func (c *SlurmCliClient) CancelJob(ctx context.Context, jobID int, username, accessToken string) (err error) {
	defer func() { c.observe("cancel", err) }()

	_, err = c.runner.Run(ctx, username, accessToken, cliCommand{
		line: fmt.Sprintf("scancel %d", jobID),
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, cliError(stderr, exitStatus)
			}
			return nil, nil
		},
	}, "")
	return err
}

func (c *SlurmCliClient) Nodes(ctx context.Context, username, accessToken string) (nodes []Node, err error) {
	defer func() { c.observe("nodes", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "scontrol show nodes --json", func(data []byte) (any, error) {
		return decodeSlurmNodes(data)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Node), nil
}

func (c *SlurmCliClient) Partitions(ctx context.Context, username, accessToken string) (partitions []Partition, err error) {
	defer func() { c.observe("partitions", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "scontrol show partitions --json", func(data []byte) (any, error) {
		return decodeSlurmPartitions(data)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Partition), nil
}

func (c *SlurmCliClient) Reservations(ctx context.Context, username, accessToken string) (reservations []Reservation, err error) {
	defer func() { c.observe("reservations", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "scontrol show reservations --json", func(data []byte) (any, error) {
		return decodeSlurmReservations(data)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Reservation), nil
}

func (c *SlurmCliClient) Ping(ctx context.Context, username, accessToken string) (pings []Ping, err error) {
	defer func() { c.observe("ping", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "scontrol ping --json", func(data []byte) (any, error) {
		return decodeSlurmPings(data)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Ping), nil
}

func (c *SlurmCliClient) AttachCommand(jobID int, entrypoint string) (string, error) {
	return fmt.Sprintf("srun --overlap --jobid=%d %s", jobID, entrypoint), nil
}

var _ Client = (*SlurmCliClient)(nil)
