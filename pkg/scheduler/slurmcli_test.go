package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-cscs/firecrest/pkg/sshpool"
)

// fakeRunner records the rendered command line and stdin, then feeds a
// canned remote result through the command's parser.
type fakeRunner struct {
	stdout     string
	stderr     string
	exitStatus int

	lastLine  string
	lastStdin string
	lastUser  string
}

func (r *fakeRunner) Run(ctx context.Context, username, accessToken string, command sshpool.Command, stdin string) (any, error) {
	r.lastLine = command.Command()
	r.lastStdin = stdin
	r.lastUser = username
	return command.ParseOutput(r.stdout, r.stderr, r.exitStatus)
}

func TestSlurmCliSubmitInlineScript(t *testing.T) {
	runner := &fakeRunner{stdout: "4242;daint\n"}
	client := NewSlurmCliClient("daint", runner)

	jobID, err := client.SubmitJob(context.Background(), &JobDescription{
		Name:             "render",
		WorkingDirectory: "/scratch/alice",
		StandardOutput:   "/scratch/alice/out.log",
		Environment:      map[string]string{"B": "2", "A": "1"},
		Script:           "#!/bin/bash\ntrue\n",
	}, "alice", "token")
	require.NoError(t, err)

	assert.Equal(t, 4242, jobID)
	assert.Equal(t, "#!/bin/bash\ntrue\n", runner.lastStdin)
	assert.Equal(t,
		"sbatch --parsable --chdir='/scratch/alice' --job-name='render' "+
			"--output='/scratch/alice/out.log' --export='ALL,A=1,B=2'",
		runner.lastLine)
}

func TestSlurmCliSubmitScriptPath(t *testing.T) {
	runner := &fakeRunner{stdout: "7\n"}
	client := NewSlurmCliClient("daint", runner)

	jobID, err := client.SubmitJob(context.Background(), &JobDescription{
		WorkingDirectory: "/home/alice",
		ScriptPath:       "/home/alice/job.sh",
	}, "alice", "token")
	require.NoError(t, err)

	assert.Equal(t, 7, jobID)
	assert.Empty(t, runner.lastStdin)
	assert.Equal(t,
		"sbatch --parsable --chdir='/home/alice' -- '/home/alice/job.sh'",
		runner.lastLine)
}

func TestSlurmCliSubmitFailure(t *testing.T) {
	runner := &fakeRunner{stderr: "sbatch: error: invalid account", exitStatus: 1}
	client := NewSlurmCliClient("daint", runner)

	_, err := client.SubmitJob(context.Background(), &JobDescription{
		WorkingDirectory: "/home/alice",
		Script:           "#!/bin/bash\ntrue\n",
	}, "alice", "token")

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message, "invalid account")
}

func TestSlurmCliGetJob(t *testing.T) {
	runner := &fakeRunner{stdout: `{"jobs": [
		{"job_id": 11, "user": "alice", "name": "render",
		 "state": {"current": ["COMPLETED"], "reason": "None"},
		 "exit_code": {"return_code": {"set": true, "number": 0}},
		 "time": {"elapsed": 12, "limit": {"set": true, "number": 3600}},
		 "steps": [{"step": {"id": "11.batch", "name": "batch"},
		            "state": ["COMPLETED"],
		            "exit_code": {"return_code": 0}, "time": {"elapsed": 12}}]}
	]}`}
	client := NewSlurmCliClient("daint", runner)

	jobs, err := client.GetJob(context.Background(), 11, "alice", "token", false)
	require.NoError(t, err)
	assert.Equal(t, "sacct --json --jobs=11", runner.lastLine)

	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, 11, job.JobID)
	assert.Equal(t, "COMPLETED", job.Status.State)
	require.NotNil(t, job.Time.Limit)
	assert.Equal(t, int64(3600), *job.Time.Limit)
	require.Len(t, job.Tasks, 1)
	assert.Equal(t, "11.batch", job.Tasks[0].ID)
}

func TestSlurmCliGetJobsAllUsers(t *testing.T) {
	runner := &fakeRunner{stdout: `{"jobs": []}`}
	client := NewSlurmCliClient("daint", runner)

	_, err := client.GetJobs(context.Background(), "alice", "token", true)
	require.NoError(t, err)
	assert.Equal(t, "sacct --json --allusers", runner.lastLine)
}

func TestSlurmCliJobNotFound(t *testing.T) {
	runner := &fakeRunner{stderr: "sacct: fatal: Invalid job id specified", exitStatus: 1}
	client := NewSlurmCliClient("daint", runner)

	_, err := client.GetJob(context.Background(), 999, "alice", "token", false)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestParseBatchScript(t *testing.T) {
	stdout := "Batch Script for 42\n" +
		"--------------------------------------------------------------------------------\n" +
		"#!/bin/bash\n#SBATCH --job-name=render\ntrue\n"
	assert.Equal(t, "#!/bin/bash\n#SBATCH --job-name=render\ntrue\n", parseBatchScript(stdout))

	// no header: everything passes through
	assert.Equal(t, "#!/bin/bash\n", parseBatchScript("#!/bin/bash\n"))
}

func TestSlurmCliCancel(t *testing.T) {
	runner := &fakeRunner{}
	client := NewSlurmCliClient("daint", runner)

	require.NoError(t, client.CancelJob(context.Background(), 11, "alice", "token"))
	assert.Equal(t, "scancel 11", runner.lastLine)
	assert.Equal(t, "alice", runner.lastUser)
}

func TestSlurmCliPing(t *testing.T) {
	runner := &fakeRunner{stdout: `{"pings": [
		{"hostname": "ctl1", "pinged": "UP", "mode": "primary"},
		{"hostname": "ctl2", "pinged": "DOWN", "mode": "backup"}
	]}`}
	client := NewSlurmCliClient("daint", runner)

	pings, err := client.Ping(context.Background(), "alice", "token")
	require.NoError(t, err)
	assert.Equal(t, "scontrol ping --json", runner.lastLine)
	require.Len(t, pings, 2)
	assert.Equal(t, "UP", pings[0].Pinged)
	assert.Equal(t, "backup", pings[1].Mode)
}

func TestSlurmCliNodes(t *testing.T) {
	runner := &fakeRunner{stdout: `{"nodes": [
		{"name": "nid001", "state": ["IDLE"], "cpus": 128,
		 "real_memory": 256000, "partitions": ["normal", "debug"]}
	]}`}
	client := NewSlurmCliClient("daint", runner)

	nodes, err := client.Nodes(context.Background(), "alice", "token")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "nid001", nodes[0].Name)
	assert.Equal(t, "IDLE", nodes[0].State)
	require.NotNil(t, nodes[0].Memory)
	assert.Equal(t, int64(256000)*1024*1024, *nodes[0].Memory)
	assert.Equal(t, []string{"normal", "debug"}, nodes[0].Partitions)
}
