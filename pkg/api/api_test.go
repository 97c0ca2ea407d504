package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/health"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
	"github.com/eth-cscs/firecrest/pkg/transfer"
)

// makeToken builds an unsigned JWT carrying the given claims; signature
// verification is delegated, so the handlers only decode the payload.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// fakeRunner feeds canned remote output into the command's own parser and
// records the rendered line.
type fakeRunner struct {
	stdout     string
	stderr     string
	exitStatus int

	calls    int
	lastLine string
	lastUser string
}

func (r *fakeRunner) Run(ctx context.Context, username, accessToken string, command sshpool.Command, stdin string) (any, error) {
	r.calls++
	r.lastLine = command.Command()
	r.lastUser = username
	return command.ParseOutput(r.stdout, r.stderr, r.exitStatus)
}

// fakeScheduler is a controllable scheduler backend.
type fakeScheduler struct {
	nextID    int
	jobs      []scheduler.Job
	submitErr error
	attachErr error

	lastJob      *scheduler.JobDescription
	cancelledJob int
}

func (s *fakeScheduler) SubmitJob(ctx context.Context, job *scheduler.JobDescription, username, accessToken string) (int, error) {
	if s.submitErr != nil {
		return 0, s.submitErr
	}
	if err := job.Validate(); err != nil {
		return 0, err
	}
	s.lastJob = job
	return s.nextID, nil
}

func (s *fakeScheduler) GetJob(ctx context.Context, jobID int, username, accessToken string, allUsers bool) ([]scheduler.Job, error) {
	var matched []scheduler.Job
	for _, job := range s.jobs {
		if job.JobID == jobID {
			matched = append(matched, job)
		}
	}
	return matched, nil
}

func (s *fakeScheduler) GetJobs(ctx context.Context, username, accessToken string, allUsers bool) ([]scheduler.Job, error) {
	return s.jobs, nil
}

func (s *fakeScheduler) GetJobMetadata(ctx context.Context, jobID int, username, accessToken string) ([]scheduler.JobMetadata, error) {
	return []scheduler.JobMetadata{{JobID: jobID, Script: "#!/bin/bash\ntrue"}}, nil
}

func (s *fakeScheduler) CancelJob(ctx context.Context, jobID int, username, accessToken string) error {
	s.cancelledJob = jobID
	return nil
}

func (s *fakeScheduler) Nodes(ctx context.Context, username, accessToken string) ([]scheduler.Node, error) {
	return []scheduler.Node{{Name: "nid001"}}, nil
}

func (s *fakeScheduler) Partitions(ctx context.Context, username, accessToken string) ([]scheduler.Partition, error) {
	return []scheduler.Partition{{Name: "normal"}}, nil
}

func (s *fakeScheduler) Reservations(ctx context.Context, username, accessToken string) ([]scheduler.Reservation, error) {
	return nil, nil
}

func (s *fakeScheduler) Ping(ctx context.Context, username, accessToken string) ([]scheduler.Ping, error) {
	return []scheduler.Ping{{Hostname: "ctl", Pinged: "UP"}}, nil
}

func (s *fakeScheduler) AttachCommand(jobID int, entrypoint string) (string, error) {
	if s.attachErr != nil {
		return "", s.attachErr
	}
	return fmt.Sprintf("srun --overlap --jobid=%d %s", jobID, entrypoint), nil
}

// failingCheck drives the availability gate in tests.
type failingCheck struct {
	service health.ServiceType
	message string
}

func (c *failingCheck) ServiceType() health.ServiceType { return c.service }
func (c *failingCheck) Path() string                    { return "" }
func (c *failingCheck) Check(ctx context.Context) error { return errors.New(c.message) }

type testEnv struct {
	server    *httptest.Server
	runner    *fakeRunner
	scheduler *fakeScheduler
	cluster   *gateway.Cluster
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	settings := &config.Settings{
		Auth: config.Auth{Authentication: config.Oidc{UsernameClaim: "username"}},
		SSHCredentials: config.SSHCredentials{
			Keys: map[string]config.SSHUserKeys{},
		},
		Clusters: config.Clusters{{
			Name: "cA",
			SSH: config.SSH{
				Host:       "login.ca.example.org",
				Port:       22,
				MaxClients: 10,
				Timeout: config.SSHTimeouts{
					Connection: 5, Login: 5, CommandExecution: 5, IdleTimeout: 60, KeepAlive: 5,
				},
			},
			Scheduler: config.Scheduler{Type: config.SchedulerSlurm, Version: "24.05"},
			Probing:   config.Probing{Interval: 3600, Timeout: 1},
			FileSystems: []config.FileSystem{
				{Path: "/scratch", DataType: config.DataTypeScratch, DefaultWorkDir: true},
			},
		}},
	}

	g, err := gateway.New(context.Background(), settings)
	require.NoError(t, err)

	runner := &fakeRunner{}
	sched := &fakeScheduler{nextID: 42}

	cluster, ok := g.Cluster("cA")
	require.True(t, ok)
	cluster.Runner = runner
	cluster.Scheduler = sched
	cluster.Transfer = transfer.NewOrchestrator(cluster.Config, nil, sched, runner, nil)
	cluster.Prober = health.NewProber("cA", time.Hour, time.Second, nil)

	server := httptest.NewServer(NewServer(g, "test").Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		server:    server,
		runner:    runner,
		scheduler: sched,
		cluster:   cluster,
		token:     makeToken(t, map[string]any{"username": "alice"}),
	}
}

// markUnhealthy swaps the cluster's prober for one whose single check
// fails, and waits for the first probe round.
func (e *testEnv) markUnhealthy(t *testing.T, service health.ServiceType, message string) {
	t.Helper()
	prober := health.NewProber("cA", time.Hour, time.Second, []health.Checker{
		&failingCheck{service: service, message: message},
	})
	prober.Start()
	require.Eventually(t, func() bool { return prober.Snapshot() != nil }, time.Second, 5*time.Millisecond)
	prober.Stop()
	e.cluster.Prober = prober
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestUnknownSystem(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/filesystem/nope/ops/ls?path=/tmp", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMissingToken(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/filesystem/cA/ops/ls?path=/tmp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestTokenWithoutUsernameClaim(t *testing.T) {
	env := newTestEnv(t)
	env.token = makeToken(t, map[string]any{"sub": "nobody"})

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/ls?path=/tmp", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLs(t *testing.T) {
	env := newTestEnv(t)
	env.runner.stdout = "-rw-r----- 1 alice staff 10 2025-05-14T11:52:02 data.txt\n"

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/ls?path=/u/alice&showHidden=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	entries := payload["output"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "data.txt", entry["name"])

	assert.Equal(t, "alice", env.runner.lastUser)
	assert.Contains(t, env.runner.lastLine, "timeout 5 ls -l")
	assert.Contains(t, env.runner.lastLine, "--almost-all")
	assert.Contains(t, env.runner.lastLine, "'/u/alice'")
}

func TestChmodRunsMutationAndReread(t *testing.T) {
	env := newTestEnv(t)
	env.runner.stdout = "mode of '/u/a/f' changed\n-rw-r----- 1 a staff 10 2025-05-14T11:52:02 f\n"

	resp := env.request(t, http.MethodPut, "/filesystem/cA/ops/chmod",
		map[string]string{"path": "/u/a/f", "mode": "640"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	entry := payload["output"].(map[string]any)
	assert.Equal(t, "f", entry["name"])
	assert.Equal(t, "rw-r-----", entry["permissions"])

	assert.Contains(t, env.runner.lastLine, "timeout 5 chmod -v '640' -- '/u/a/f'")
	assert.Contains(t, env.runner.lastLine, "&& timeout 5 ls -l")
}

func TestViewSlicesUnalignedOffset(t *testing.T) {
	env := newTestEnv(t)
	// dd bs=4 skip=1 over "ABCDEFGHIJ" delivers bytes 4..10
	env.runner.stdout = "EFGHIJ"

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/view?path=/u/a/f&size=4&offset=6", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `"GHIJ"`, string(body))
	assert.Contains(t, env.runner.lastLine, "dd if='/u/a/f' bs=4 skip=1 count=2")
}

func TestViewNegativeOffset(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/view?path=/u/a/f&size=4&offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, env.runner.calls)
}

func TestHeadBytesAndLinesConflict(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/head?path=/u/a/f&bytes=10&lines=5", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, env.runner.calls)
}

func TestHeadBytesOverLimit(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/head?path=/u/a/f&bytes=6000000", nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, env.runner.calls)
}

func TestOpsUploadBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.Repeat([]byte("x"), int(config.DefaultMaxOpsFileSize)+1)
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/filesystem/cA/ops/upload?path=/u/a/f", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, env.runner.calls)
}

func TestOpsUploadPipesBase64(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/filesystem/cA/ops/upload?path=/u/a/f", strings.NewReader("hello"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	assert.Contains(t, env.runner.lastLine, "base64 --decode")
}

func TestOpsDownloadRejectsLargeFile(t *testing.T) {
	env := newTestEnv(t)
	// stat: mode ino dev nlink uid gid size atime ctime mtime
	env.runner.stdout = "81a4 42 1 1 1000 1000 9000000 1 2 3"

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/download?path=/u/a/big", nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, env.runner.calls)
}

func TestFilesystemGate(t *testing.T) {
	env := newTestEnv(t)
	env.markUnhealthy(t, health.ServiceFilesystem, "mount hung")

	resp := env.request(t, http.MethodGet, "/filesystem/cA/ops/ls?path=/u/a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	payload := decodeMap(t, resp)
	assert.Contains(t, payload["message"], "mount hung")
	assert.Zero(t, env.runner.calls)
}

func TestSchedulerGate(t *testing.T) {
	env := newTestEnv(t)
	env.markUnhealthy(t, health.ServiceScheduler, "slurmctld down")

	resp := env.request(t, http.MethodGet, "/compute/cA/jobs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	payload := decodeMap(t, resp)
	assert.Contains(t, payload["message"], "slurmctld down")
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/compute/cA/jobs", map[string]any{
		"job": map[string]any{
			"name":             "X",
			"workingDirectory": "/u/a",
			"script":           "#!/bin/bash\necho hi",
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	payload := decodeMap(t, resp)
	assert.EqualValues(t, 42, payload["jobId"])
	require.NotNil(t, env.scheduler.lastJob)
	assert.Equal(t, "X", env.scheduler.lastJob.Name)
}

func TestSubmitJobInvalidDescription(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/compute/cA/jobs", map[string]any{
		"job": map[string]any{"workingDirectory": "/u/a"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/compute/cA/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.jobs = []scheduler.Job{{JobID: 7, Name: "wrf", User: "alice"}}

	resp := env.request(t, http.MethodGet, "/compute/cA/jobs/7", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	jobs := payload["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.EqualValues(t, 7, jobs[0].(map[string]any)["jobId"])
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodDelete, "/compute/cA/jobs/7", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 7, env.scheduler.cancelledJob)
}

func TestAttachNotImplemented(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.attachErr = scheduler.ErrNotImplemented

	resp := env.request(t, http.MethodGet, "/compute/cA/jobs/7/attach?entrypoint=cat", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()
}

func TestTransferCp(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.nextID = 77

	resp := env.request(t, http.MethodPost, "/filesystem/cA/transfer/cp", map[string]string{
		"sourcePath": "/u/a/src",
		"targetPath": "/u/a/dst",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	payload := decodeMap(t, resp)
	job := payload["transferJob"].(map[string]any)
	assert.EqualValues(t, 77, job["jobId"])
	assert.Equal(t, "cA", job["system"])
	assert.Equal(t, "/scratch/alice", job["workingDirectory"])

	require.NotNil(t, env.scheduler.lastJob)
	assert.Contains(t, env.scheduler.lastJob.Script, "cp -r --preserve=all -- '/u/a/src' '/u/a/dst'")
}

func TestTransferUploadWithoutStorage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/filesystem/cA/transfer/upload", map[string]any{
		"path": "/u/a/data",
		"transferDirectives": map[string]any{
			"transferMethod": "s3",
			"fileSize":       1000,
		},
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()
}

func TestTransferUnknownMethod(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/filesystem/cA/transfer/download", map[string]any{
		"sourcePath":         "/u/a/data",
		"transferDirectives": map[string]any{"transferMethod": "carrier-pigeon"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusSystems(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/status/systems", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	systems := payload["systems"].([]any)
	require.Len(t, systems, 1)
	system := systems[0].(map[string]any)
	assert.Equal(t, "cA", system["name"])
	assert.Equal(t, "slurm", system["scheduler"].(map[string]any)["type"])
}

func TestStatusSystemUnknown(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/status/systems/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/status/liveness", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "test", payload["version"])
}

func TestUserinfo(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/status/userinfo", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeMap(t, resp)
	assert.Equal(t, "alice", payload["username"])
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"bad request":      {badRequestf("nope"), http.StatusBadRequest},
		"claim missing":    {scheduler.ErrAuthClaimMissing, http.StatusUnauthorized},
		"backend 401":      {scheduler.ErrBackendUnauthorized, http.StatusUnauthorized},
		"job not found":    {scheduler.ErrJobNotFound, http.StatusNotFound},
		"too large":        {errPayloadTooLarge, http.StatusRequestEntityTooLarge},
		"not implemented":  {scheduler.ErrNotImplemented, http.StatusNotImplemented},
		"backend error":    {&scheduler.BackendError{Scheduler: "slurm", Message: "boom"}, http.StatusBadGateway},
		"ssh timeout":      {sshpool.ErrTimeoutLimitExceeded, http.StatusBadGateway},
		"output limit":     {sshpool.ErrOutputLimitExceeded, http.StatusBadGateway},
		"pool full":        {sshpool.ErrPoolCapacityExceeded, http.StatusServiceUnavailable},
		"account required": {transfer.ErrAccountRequired, http.StatusBadRequest},
		"unknown":          {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.status, statusFor(tc.err))
		})
	}
}

func TestApisRootPathPrefix(t *testing.T) {
	settings := &config.Settings{
		ApisRootPath: "/api/v2",
		Auth:         config.Auth{Authentication: config.Oidc{UsernameClaim: "username"}},
		SSHCredentials: config.SSHCredentials{
			Keys: map[string]config.SSHUserKeys{},
		},
	}
	g, err := gateway.New(context.Background(), settings)
	require.NoError(t, err)

	server := httptest.NewServer(NewServer(g, "test").Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v2/status/liveness")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/status/liveness")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
