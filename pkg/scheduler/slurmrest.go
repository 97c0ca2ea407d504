package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eth-cscs/firecrest/pkg/auth"
	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/log"
	"github.com/eth-cscs/firecrest/pkg/metrics"
)

// defaultEnvironment is injected when a job description carries no
// environment: slurmrestd rejects submissions with an empty env.
var defaultEnvironment = map[string]string{
	"PATH": "/bin:/usr/bin/:/usr/local/bin/",
}

// restTransport is shared by every SlurmRestClient in the process so the
// connection pool to slurmrestd is bounded once, not per cluster.
var restTransport = &http.Transport{
	MaxConnsPerHost:     100,
	MaxIdleConnsPerHost: 100,
	IdleConnTimeout:     90 * time.Second,
}

// SlurmRestClient talks to slurmrestd. Every request runs as the calling
// user: the access token is forwarded in X-SLURM-USER-TOKEN and must carry
// a "username" claim, which slurmrestd uses for authorization.
type SlurmRestClient struct {
	cluster    string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// NewSlurmRestClient builds a client for one cluster's slurmrestd.
func NewSlurmRestClient(cluster string, cfg config.Scheduler) *SlurmRestClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlurmRestClient{
		cluster:    cluster,
		baseURL:    cfg.APIURL,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Transport: restTransport,
			Timeout:   timeout,
		},
	}
}

// slurmErrors is the error envelope every slurmrestd response may carry.
type slurmErrors struct {
	Errors []struct {
		Error       string `json:"error"`
		Description string `json:"description"`
		ErrorNumber int    `json:"error_number"`
	} `json:"errors"`
}

func (e *slurmErrors) first() string {
	if len(e.Errors) == 0 {
		return ""
	}
	if e.Errors[0].Description != "" {
		return e.Errors[0].Description
	}
	return e.Errors[0].Error
}

func (c *SlurmRestClient) do(ctx context.Context, method, path string, body any, username, accessToken string) ([]byte, error) {
	if _, ok := auth.Claim(accessToken, "username"); !ok {
		return nil, fmt.Errorf("%w: slurmrestd requires a username claim", ErrAuthClaimMissing)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-SLURM-USER-NAME", username)
	req.Header.Set("X-SLURM-USER-TOKEN", accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to read response: " + err.Error()}
	}

	log.Logger.Debug().
		Str("cluster", c.cluster).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("slurmrestd call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: slurmrestd returned %d", ErrBackendUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrJobNotFound
	case resp.StatusCode >= 300:
		var failure slurmErrors
		_ = json.Unmarshal(payload, &failure)
		message := failure.first()
		if message == "" {
			message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &BackendError{Scheduler: "slurm", Message: message}
	}

	var failure slurmErrors
	if err := json.Unmarshal(payload, &failure); err == nil && failure.first() != "" {
		return nil, &BackendError{Scheduler: "slurm", Message: failure.first()}
	}
	return payload, nil
}

func (c *SlurmRestClient) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SchedulerCallsTotal.WithLabelValues(c.cluster, operation, outcome).Inc()
}

// submitBody shapes the submission document for the configured API
// version. Two wire changes matter:
//
//   - 0.0.39 turned the environment from an object into a list of
//     "KEY=VALUE" strings,
//   - 0.0.41 moved the batch script from the top level of the document
//     into the job object.
func (c *SlurmRestClient) submitBody(job *JobDescription) map[string]any {
	env := job.Environment
	if len(env) == 0 {
		env = defaultEnvironment
	}

	jobObject := map[string]any{
		"current_working_directory": job.WorkingDirectory,
	}
	if job.Name != "" {
		jobObject["name"] = job.Name
	}
	if job.StandardInput != "" {
		jobObject["standard_input"] = job.StandardInput
	}
	if job.StandardOutput != "" {
		jobObject["standard_output"] = job.StandardOutput
	}
	if job.StandardError != "" {
		jobObject["standard_error"] = job.StandardError
	}
	if job.Account != "" {
		jobObject["account"] = job.Account
	}

	if apiVersionAtLeast(c.apiVersion, "0.0.39") {
		listified := make([]string, 0, len(env))
		for key, value := range env {
			listified = append(listified, key+"="+value)
		}
		jobObject["environment"] = listified
	} else {
		jobObject["environment"] = env
	}

	body := map[string]any{"job": jobObject}
	if apiVersionAtLeast(c.apiVersion, "0.0.41") {
		jobObject["script"] = job.Script
	} else {
		body["script"] = job.Script
	}
	return body
}

func (c *SlurmRestClient) SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (jobID int, err error) {
	defer func() { c.observe("submit", err) }()

	if err := job.Validate(); err != nil {
		return 0, err
	}
	if job.ScriptPath != "" {
		return 0, fmt.Errorf("%w: the REST backend needs inline script content", ErrInvalidJobDescription)
	}

	payload, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/slurm/v%s/job/submit", c.apiVersion), c.submitBody(job), username, accessToken)
	if err != nil {
		return 0, err
	}

	var response struct {
		JobID int `json:"job_id"`
	}
	if err := json.Unmarshal(payload, &response); err != nil {
		return 0, &BackendError{Scheduler: "slurm", Message: "failed to parse submit response: " + err.Error()}
	}
	if response.JobID == 0 {
		return 0, &BackendError{Scheduler: "slurm", Message: "submit response carried no job id"}
	}
	return response.JobID, nil
}

func (c *SlurmRestClient) GetJob(ctx context.Context, jobID int, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_job", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurmdb/v%s/job/%d", c.apiVersion, jobID), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	jobs, err = decodeSlurmJobs(payload, username, allUsers)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}
	return jobs, nil
}

func (c *SlurmRestClient) GetJobs(ctx context.Context, username, accessToken string, allUsers bool) (jobs []Job, err error) {
	defer func() { c.observe("get_jobs", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurmdb/v%s/jobs", c.apiVersion), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	return decodeSlurmJobs(payload, username, allUsers)
}

// GetJobMetadata needs sacct on the cluster; slurmrestd exposes no batch
// script endpoint.
func (c *SlurmRestClient) GetJobMetadata(ctx context.Context, jobID int, username, accessToken string) ([]JobMetadata, error) {
	return nil, ErrNotImplemented
}

func (c *SlurmRestClient) CancelJob(ctx context.Context, jobID int, username, accessToken string) (err error) {
	defer func() { c.observe("cancel", err) }()

	_, err = c.do(ctx, http.MethodDelete, fmt.Sprintf("/slurm/v%s/job/%d", c.apiVersion, jobID), nil, username, accessToken)
	return err
}

func (c *SlurmRestClient) Nodes(ctx context.Context, username, accessToken string) (nodes []Node, err error) {
	defer func() { c.observe("nodes", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurm/v%s/nodes", c.apiVersion), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	return decodeSlurmNodes(payload)
}

func (c *SlurmRestClient) Partitions(ctx context.Context, username, accessToken string) (partitions []Partition, err error) {
	defer func() { c.observe("partitions", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurm/v%s/partitions", c.apiVersion), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	return decodeSlurmPartitions(payload)
}

func (c *SlurmRestClient) Reservations(ctx context.Context, username, accessToken string) (reservations []Reservation, err error) {
	defer func() { c.observe("reservations", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurm/v%s/reservations", c.apiVersion), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	return decodeSlurmReservations(payload)
}

func (c *SlurmRestClient) Ping(ctx context.Context, username, accessToken string) (pings []Ping, err error) {
	defer func() { c.observe("ping", err) }()

	payload, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/slurm/v%s/ping", c.apiVersion), nil, username, accessToken)
	if err != nil {
		return nil, err
	}
	return decodeSlurmPings(payload)
}

func (c *SlurmRestClient) AttachCommand(jobID int, entrypoint string) (string, error) {
	return fmt.Sprintf("srun --overlap --jobid=%d %s", jobID, entrypoint), nil
}

var _ Client = (*SlurmRestClient)(nil)
