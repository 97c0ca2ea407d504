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

// PbsCliClient drives OpenPBS through qsub, qstat, pbsnodes and qdel,
// executed on a login node over the calling user's SSH connection.
//
// PBS has no reservation listing and no job attach facility comparable to
// srun; both operations report ErrNotImplemented.
type PbsCliClient struct {
	cluster string
	runner  CommandRunner
}

func NewPbsCliClient(cluster string, runner CommandRunner) *PbsCliClient {
	return &PbsCliClient{cluster: cluster, runner: runner}
}

func (c *PbsCliClient) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SchedulerCallsTotal.WithLabelValues(c.cluster, operation, outcome).Inc()
}

func pbsError(stderr string, exitStatus int) error {
	message := strings.TrimSpace(stderr)
	if strings.Contains(message, "Unknown Job Id") {
		return ErrJobNotFound
	}
	if strings.Contains(message, "Unauthorized Request") {
		return fmt.Errorf("%w: %s", ErrBackendUnauthorized, message)
	}
	if message == "" {
		message = fmt.Sprintf("exit status %d", exitStatus)
	}
	return &BackendError{Scheduler: "pbs", Message: message}
}

// parsePbsJobID extracts the numeric part of a PBS job identifier such as
// "1234.pbs-server".
func parsePbsJobID(id string) (int, error) {
	numeric, _, _ := strings.Cut(strings.TrimSpace(id), ".")
	jobID, err := strconv.Atoi(numeric)
	if err != nil {
		return 0, &BackendError{Scheduler: "pbs", Message: "unparsable job id: " + id}
	}
	return jobID, nil
}

// stripHostPrefix removes the "host:" prefix PBS puts in front of the
// Output_Path and Error_Path values.
func stripHostPrefix(path string) string {
	if idx := strings.Index(path, ":"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// pbsJob mirrors one entry of the qstat -f -F json "Jobs" object.
type pbsJob struct {
	JobName       string            `json:"Job_Name"`
	JobOwner      string            `json:"Job_Owner"`
	JobState      string            `json:"job_state"`
	Queue         string            `json:"queue"`
	Server        string            `json:"server"`
	AccountName   string            `json:"Account_Name"`
	EGroup        string            `json:"egroup"`
	Priority      *int64            `json:"Priority"`
	ExitStatus    *int64            `json:"Exit_status"`
	ExecHost      string            `json:"exec_host"`
	OutputPath    string            `json:"Output_Path"`
	ErrorPath     string            `json:"Error_Path"`
	Comment       string            `json:"comment"`
	QTime         string            `json:"qtime"`
	STime         string            `json:"stime"`
	ObitTime      string            `json:"obittime"`
	VariableList  map[string]string `json:"Variable_List"`
	ResourcesUsed struct {
		Walltime string `json:"walltime"`
	} `json:"resources_used"`
	ResourceList struct {
		Walltime string `json:"walltime"`
		NodeCt   *int64 `json:"nodect"`
	} `json:"Resource_List"`
}

func (j *pbsJob) normalize(id string) (Job, error) {
	jobID, err := parsePbsJobID(id)
	if err != nil {
		return Job{}, err
	}

	job := Job{
		JobID: jobID,
		Name:  j.JobName,
		Status: JobStatus{
			State:       j.JobState,
			StateReason: j.Comment,
			ExitCode:    j.ExitStatus,
		},
		Account:   j.AccountName,
		Cluster:   j.Server,
		Group:     j.EGroup,
		Partition: j.Queue,
		Priority:  j.Priority,
		Nodes:     expandExecHosts(j.ExecHost),
	}
	if user, _, found := strings.Cut(j.JobOwner, "@"); found {
		job.User = user
	} else {
		job.User = j.JobOwner
	}
	if j.VariableList != nil {
		job.WorkingDirectory = j.VariableList["PBS_O_WORKDIR"]
	}
	if j.ResourceList.NodeCt != nil {
		job.AllocationNodes = int(*j.ResourceList.NodeCt)
	}

	if j.QTime != "" {
		if ts, err := parseTimestamp(j.QTime); err == nil {
			job.Time.Submission = &ts
		}
	}
	if j.STime != "" {
		if ts, err := parseTimestamp(j.STime); err == nil {
			job.Time.Start = &ts
		}
	}
	if j.ObitTime != "" {
		if ts, err := parseTimestamp(j.ObitTime); err == nil {
			job.Time.End = &ts
		}
	}
	if j.ResourcesUsed.Walltime != "" {
		if secs, err := parseDuration(j.ResourcesUsed.Walltime); err == nil {
			job.Time.Elapsed = &secs
		}
	}
	if j.ResourceList.Walltime != "" {
		if secs, err := parseDuration(j.ResourceList.Walltime); err == nil {
			job.Time.Limit = &secs
		}
	}
	return job, nil
}

func decodePbsJobs(data []byte, username string, allUsers bool) ([]Job, error) {
	var payload struct {
		Jobs map[string]pbsJob `json:"Jobs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "pbs", Message: "failed to parse qstat document: " + err.Error()}
	}

	ids := make([]string, 0, len(payload.Jobs))
	for id := range payload.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		entry := payload.Jobs[id]
		job, err := entry.normalize(id)
		if err != nil {
			return nil, err
		}
		if !allUsers && job.User != username {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// qsubLine renders the submit command. The script travels on stdin when
// given inline, otherwise the remote path is appended as the script
// argument. qsub resolves relative output paths against the submission
// directory, hence the leading cd.
func qsubLine(job *JobDescription) string {
	args := []string{"cd", shQuote(job.WorkingDirectory), "&&", "qsub"}
	if job.Name != "" {
		args = append(args, "-N", shQuote(job.Name))
	}
	if job.Account != "" {
		args = append(args, "-A", shQuote(job.Account))
	}
	if job.StandardOutput != "" {
		args = append(args, "-o", shQuote(job.StandardOutput))
	}
	if job.StandardError != "" {
		args = append(args, "-e", shQuote(job.StandardError))
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
		args = append(args, "-v", shQuote(strings.Join(pairs, ",")))
	}
	if job.ScriptPath != "" {
		args = append(args, "--", shQuote(job.ScriptPath))
	}
	return strings.Join(args, " ")
}

func (c *PbsCliClient) SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (jobID int, err error) {
	defer func() { c.observe("submit", err) }()

	if err := job.Validate(); err != nil {
		return 0, err
	}

	result, err := c.runner.Run(ctx, username, accessToken, cliCommand{
		line: qsubLine(job),
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, pbsError(stderr, exitStatus)
			}
			return parsePbsJobID(stdout)
		},
	}, job.Script)
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *PbsCliClient) jsonCommand(ctx context.Context, username, accessToken, line string, decode func([]byte) (any, error)) (any, error) {
	return c.runner.Run(ctx, username, accessToken, cliCommand{
		line: line,
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, pbsError(stderr, exitStatus)
			}
			return decode([]byte(stdout))
		},
	}, "")
}

func (c *PbsCliClient) GetJob(ctx context.Context, jobID int, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_job", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken,
		fmt.Sprintf("qstat -x -f -F json %d", jobID),
		func(data []byte) (any, error) {
			return decodePbsJobs(data, username, allUsers)
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

func (c *PbsCliClient) GetJobs(ctx context.Context, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_jobs", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "qstat -x -f -F json",
		func(data []byte) (any, error) {
			return decodePbsJobs(data, username, allUsers)
		})
	if err != nil {
		return nil, err
	}
	return result.([]Job), nil
}

// GetJobMetadata reports the output paths; PBS keeps no copy of the batch
// script once the job is queued.
func (c *PbsCliClient) GetJobMetadata(ctx context.Context, jobID int, username, accessToken string) (meta []JobMetadata, err error) {
	defer func() { c.observe("get_job_metadata", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken,
		fmt.Sprintf("qstat -x -f -F json %d", jobID),
		func(data []byte) (any, error) {
			var payload struct {
				Jobs map[string]pbsJob `json:"Jobs"`
			}
			if err := json.Unmarshal(data, &payload); err != nil || len(payload.Jobs) == 0 {
				return nil, &BackendError{Scheduler: "pbs", Message: "failed to parse qstat document"}
			}
			for _, job := range payload.Jobs {
				return JobMetadata{
					JobID:          jobID,
					StandardOutput: stripHostPrefix(job.OutputPath),
					StandardError:  stripHostPrefix(job.ErrorPath),
				}, nil
			}
			return nil, ErrJobNotFound
		})
	if err != nil {
		return nil, err
	}
	return []JobMetadata{result.(JobMetadata)}, nil
}

func (c *PbsCliClient) CancelJob(ctx context.Context, jobID int, username, accessToken string) (err error) {
	defer func() { c.observe("cancel", err) }()

	_, err = c.runner.Run(ctx, username, accessToken, cliCommand{
		line: fmt.Sprintf("qdel %d", jobID),
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, pbsError(stderr, exitStatus)
			}
			return nil, nil
		},
	}, "")
	return err
}

// pbsNode mirrors one entry of the pbsnodes -a -F json "nodes" object.
type pbsNode struct {
	State              string `json:"state"`
	PCPUs              *int64 `json:"pcpus"`
	Queue              string `json:"queue"`
	ResourcesAvailable struct {
		Mem   string `json:"mem"`
		NCPUs *int64 `json:"ncpus"`
	} `json:"resources_available"`
}

func (c *PbsCliClient) Nodes(ctx context.Context, username, accessToken string) (nodes []Node, err error) {
	defer func() { c.observe("nodes", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "pbsnodes -a -F json",
		func(data []byte) (any, error) {
			var payload struct {
				Nodes map[string]pbsNode `json:"nodes"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, &BackendError{Scheduler: "pbs", Message: "failed to parse pbsnodes document: " + err.Error()}
			}

			names := make([]string, 0, len(payload.Nodes))
			for name := range payload.Nodes {
				names = append(names, name)
			}
			sort.Strings(names)

			out := make([]Node, 0, len(names))
			for _, name := range names {
				entry := payload.Nodes[name]
				node := Node{Name: name, State: entry.State}
				if entry.ResourcesAvailable.NCPUs != nil {
					node.CPUs = entry.ResourcesAvailable.NCPUs
				} else {
					node.CPUs = entry.PCPUs
				}
				if entry.ResourcesAvailable.Mem != "" {
					if mem, err := parseMemory(entry.ResourcesAvailable.Mem); err == nil {
						node.Memory = &mem
					}
				}
				if entry.Queue != "" {
					node.Partitions = []string{entry.Queue}
				}
				out = append(out, node)
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}
	return result.([]Node), nil
}

func (c *PbsCliClient) Partitions(ctx context.Context, username, accessToken string) (partitions []Partition, err error) {
	defer func() { c.observe("partitions", err) }()

	result, err := c.jsonCommand(ctx, username, accessToken, "qstat -Q -F json",
		func(data []byte) (any, error) {
			var payload struct {
				Queue map[string]struct {
					Enabled   string `json:"enabled"`
					Started   string `json:"started"`
					TotalJobs *int64 `json:"total_jobs"`
				} `json:"Queue"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, &BackendError{Scheduler: "pbs", Message: "failed to parse queue document: " + err.Error()}
			}

			names := make([]string, 0, len(payload.Queue))
			for name := range payload.Queue {
				names = append(names, name)
			}
			sort.Strings(names)

			out := make([]Partition, 0, len(names))
			for _, name := range names {
				entry := payload.Queue[name]
				state := "DOWN"
				if strings.EqualFold(entry.Enabled, "true") && strings.EqualFold(entry.Started, "true") {
					state = "UP"
				}
				out = append(out, Partition{
					Name:      name,
					State:     state,
					TotalJobs: entry.TotalJobs,
				})
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}
	return result.([]Partition), nil
}

// Reservations has no PBS equivalent exposed to unprivileged users.
func (c *PbsCliClient) Reservations(ctx context.Context, username, accessToken string) ([]Reservation, error) {
	return nil, ErrNotImplemented
}

// parsePbsServerStatus extracts the server name and state from plain
// `qstat -Bf` output:
//
//	Server: pbs-server
//	    server_state = Active
func parsePbsServerStatus(stdout string) (hostname, state string) {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if value, found := strings.CutPrefix(trimmed, "Server:"); found {
			hostname = strings.TrimSpace(value)
			continue
		}
		if key, value, found := strings.Cut(trimmed, "="); found && strings.TrimSpace(key) == "server_state" {
			state = strings.TrimSpace(value)
		}
	}
	return hostname, state
}

func (c *PbsCliClient) Ping(ctx context.Context, username, accessToken string) (pings []Ping, err error) {
	defer func() { c.observe("ping", err) }()

	result, err := c.runner.Run(ctx, username, accessToken, cliCommand{
		line: "qstat -Bf",
		parse: func(stdout, stderr string, exitStatus int) (any, error) {
			if exitStatus != 0 {
				return nil, pbsError(stderr, exitStatus)
			}
			hostname, state := parsePbsServerStatus(stdout)
			if hostname == "" {
				return nil, &BackendError{Scheduler: "pbs", Message: "qstat -Bf returned no server record"}
			}
			pinged := "DOWN"
			if state == "Active" || state == "Hot" {
				pinged = "UP"
			}
			return []Ping{{Hostname: hostname, Pinged: pinged, Mode: strings.ToLower(state)}}, nil
		},
	}, "")
	if err != nil {
		return nil, err
	}
	return result.([]Ping), nil
}

// AttachCommand has no PBS equivalent of srun --overlap.
func (c *PbsCliClient) AttachCommand(jobID int, entrypoint string) (string, error) {
	return "", ErrNotImplemented
}

var _ Client = (*PbsCliClient)(nil)
