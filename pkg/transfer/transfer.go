package transfer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/metrics"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
)

// Method discriminates the transfer directive variants.
type Method string

const (
	MethodS3       Method = "s3"
	MethodWormhole Method = "wormhole"
	MethodStreamer Method = "streamer"
)

var (
	// ErrAccountRequired means the cluster's job directives reference
	// {account} but the request carried none.
	ErrAccountRequired = errors.New("the scheduler directives require an account")

	// ErrNoWorkDir means the cluster has no filesystem flagged as default
	// work dir, so there is nowhere to stage transfer jobs.
	ErrNoWorkDir = errors.New("cluster has no default work directory")

	// ErrUnknownMethod means the transferMethod discriminator named no
	// known variant.
	ErrUnknownMethod = errors.New("unknown transfer method")

	// ErrStorageNotConfigured means the s3 method was requested but the
	// deployment has no object storage.
	ErrStorageNotConfigured = errors.New("no object storage configured")

	// ErrFileSizeRequired means an s3 upload came without the fileSize
	// needed to size the multipart upload.
	ErrFileSizeRequired = errors.New("fileSize is required for s3 uploads")

	// ErrCodeRequired means a wormhole upload came without the sender's
	// code.
	ErrCodeRequired = errors.New("wormholeCode is required for wormhole uploads")
)

// RequestDirectives is the method selector plus the per-method inputs a
// transfer request may carry.
type RequestDirectives struct {
	TransferMethod Method `json:"transferMethod"`
	FileSize       int64  `json:"fileSize,omitempty"`
	WormholeCode   string `json:"wormholeCode,omitempty"`
}

// S3Directives is handed back to the caller of an s3 transfer.
type S3Directives struct {
	TransferMethod    Method   `json:"transferMethod"`
	UploadURL         string   `json:"uploadUrl,omitempty"`
	PartsUploadURLs   []string `json:"partsUploadUrls,omitempty"`
	CompleteUploadURL string   `json:"completeUploadUrl,omitempty"`
	MaxPartSize       int64    `json:"maxPartSize,omitempty"`
	DownloadURL       string   `json:"downloadUrl,omitempty"`
}

// WormholeDirectives carries the code of a gateway-generated sender.
type WormholeDirectives struct {
	TransferMethod Method `json:"transferMethod"`
	Code           string `json:"code,omitempty"`
}

// StreamerDirectives carries the opaque connection token for the streamer
// client.
type StreamerDirectives struct {
	TransferMethod  Method `json:"transferMethod"`
	ConnectionToken string `json:"connectionToken"`
}

// Logs names the per-operation log files of a transfer job.
type Logs struct {
	OutputLog string `json:"outputLog"`
	ErrorLog  string `json:"errorLog"`
}

// Job identifies the scheduler job moving the bytes.
type Job struct {
	JobID            int    `json:"jobId"`
	System           string `json:"system"`
	WorkingDirectory string `json:"workingDirectory"`
	Logs             Logs   `json:"logs"`
}

// Result is the response of every transfer operation: the job plus the
// method-specific directives, if any.
type Result struct {
	TransferJob        Job `json:"transferJob"`
	TransferDirectives any `json:"transferDirectives,omitempty"`
}

// formatDirectives substitutes {account} in the cluster's configured
// scheduler directives and joins them into script header lines.
func formatDirectives(directives []string, account string) (string, error) {
	lines := make([]string, 0, len(directives))
	for _, directive := range directives {
		if strings.Contains(directive, "{account}") {
			if account == "" {
				return "", ErrAccountRequired
			}
			directive = strings.ReplaceAll(directive, "{account}", account)
		}
		lines = append(lines, directive)
	}
	return strings.Join(lines, "\n"), nil
}

// Orchestrator builds and submits the scheduler jobs that move bulk data
// on behalf of a user.
type Orchestrator struct {
	cluster   *config.Cluster
	storage   *config.Storage
	scheduler scheduler.Client
	runner    scheduler.CommandRunner
	store     ObjectStorage
}

// NewOrchestrator wires the transfer methods for one cluster. store and
// storage may be nil when the deployment has no object storage; the s3
// method then reports ErrStorageNotConfigured.
func NewOrchestrator(cluster *config.Cluster, storage *config.Storage, sched scheduler.Client, runner scheduler.CommandRunner, store ObjectStorage) *Orchestrator {
	return &Orchestrator{
		cluster:   cluster,
		storage:   storage,
		scheduler: sched,
		runner:    runner,
		store:     store,
	}
}

// stagedJob is a rendered script plus the log locations it will write.
type stagedJob struct {
	description *scheduler.JobDescription
	job         Job
}

// stageJob builds a job description following the transfer job
// conventions: working directory under the default work dir, stdin from
// /dev/null, logs named by a fresh UUID. renderFn receives the formatted
// scheduler directives and returns the full script.
func (o *Orchestrator) stageJob(username, name, account string, renderFn func(directives string) (string, error)) (*stagedJob, error) {
	workDirRoot, ok := o.cluster.WorkDir()
	if !ok {
		return nil, ErrNoWorkDir
	}
	workDir := path.Join(workDirRoot, username)

	directives, err := formatDirectives(o.cluster.DatatransferJobsDirectives, account)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logs := Logs{
		OutputLog: path.Join(workDir, fmt.Sprintf(".f7t_file_handling_job_%s.log", id)),
		ErrorLog:  path.Join(workDir, fmt.Sprintf(".f7t_file_handling_job_error_%s.log", id)),
	}

	script, err := renderFn(directives)
	if err != nil {
		return nil, err
	}

	return &stagedJob{
		description: &scheduler.JobDescription{
			Name:             name,
			WorkingDirectory: workDir,
			StandardInput:    "/dev/null",
			StandardOutput:   logs.OutputLog,
			StandardError:    logs.ErrorLog,
			Script:           script,
			Account:          account,
		},
		job: Job{
			System:           o.cluster.Name,
			WorkingDirectory: workDir,
			Logs:             logs,
		},
	}, nil
}

func (o *Orchestrator) submit(ctx context.Context, staged *stagedJob, username, accessToken, method, direction string) (Job, error) {
	jobID, err := o.scheduler.SubmitJob(ctx, staged.description, username, accessToken)
	if err != nil {
		return Job{}, fmt.Errorf("failed to submit transfer job: %w", err)
	}
	staged.job.JobID = jobID
	metrics.TransferJobsTotal.WithLabelValues(o.cluster.Name, method, direction).Inc()
	return staged.job, nil
}

// Upload stages bytes from the caller onto the cluster at targetPath.
func (o *Orchestrator) Upload(ctx context.Context, targetPath, username, accessToken, account string, directives RequestDirectives) (*Result, error) {
	switch directives.TransferMethod {
	case MethodS3:
		return o.s3Upload(ctx, targetPath, username, accessToken, account, directives.FileSize)
	case MethodWormhole:
		return o.wormholeUpload(ctx, targetPath, username, accessToken, account, directives.WormholeCode)
	case MethodStreamer:
		return o.streamerTransfer(ctx, targetPath, username, accessToken, account, streamerReceive)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, directives.TransferMethod)
}

// Download stages bytes from sourcePath on the cluster out to the caller.
func (o *Orchestrator) Download(ctx context.Context, sourcePath, username, accessToken, account string, directives RequestDirectives) (*Result, error) {
	switch directives.TransferMethod {
	case MethodS3:
		return o.s3Download(ctx, sourcePath, username, accessToken, account)
	case MethodWormhole:
		return o.wormholeDownload(ctx, sourcePath, username, accessToken, account)
	case MethodStreamer:
		return o.streamerTransfer(ctx, sourcePath, username, accessToken, account, streamerSend)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, directives.TransferMethod)
}

// commandJob submits a job that runs a single shell line on the cluster;
// the server-side copy/move/remove/archive operations all reduce to this.
func (o *Orchestrator) commandJob(ctx context.Context, name, line, username, accessToken, account, method string) (*Result, error) {
	staged, err := o.stageJob(username, name, account, func(directives string) (string, error) {
		return renderScript(line, directives)
	})
	if err != nil {
		return nil, err
	}
	job, err := o.submit(ctx, staged, username, accessToken, method, "internal")
	if err != nil {
		return nil, err
	}
	return &Result{TransferJob: job}, nil
}

// Copy submits a server-side recursive copy job.
func (o *Orchestrator) Copy(ctx context.Context, sourcePath, targetPath, username, accessToken, account string) (*Result, error) {
	line := fmt.Sprintf("cp -r --preserve=all -- %s %s", shQuote(sourcePath), shQuote(targetPath))
	return o.commandJob(ctx, "f7t_cp_job", line, username, accessToken, account, "cp")
}

// Move submits a server-side move job.
func (o *Orchestrator) Move(ctx context.Context, sourcePath, targetPath, username, accessToken, account string) (*Result, error) {
	line := fmt.Sprintf("mv -- %s %s", shQuote(sourcePath), shQuote(targetPath))
	return o.commandJob(ctx, "f7t_mv_job", line, username, accessToken, account, "mv")
}

// Remove submits a server-side recursive delete job.
func (o *Orchestrator) Remove(ctx context.Context, targetPath, username, accessToken, account string) (*Result, error) {
	line := fmt.Sprintf("rm -rf -- %s", shQuote(targetPath))
	return o.commandJob(ctx, "f7t_rm_job", line, username, accessToken, account, "rm")
}

// Compress submits an archiving job; unlike the ops endpoint it has no
// size ceiling because the work happens in the job, untimed.
func (o *Orchestrator) Compress(ctx context.Context, sourcePath, targetPath, matchPattern, username, accessToken, account string, dereference bool) (*Result, error) {
	options := ""
	if dereference {
		options = "--dereference "
	}
	sourceDir := path.Dir(sourcePath)
	sourceFile := path.Base(sourcePath)

	var line string
	if matchPattern != "" {
		line = fmt.Sprintf("cd %s && find . -type f -regex %s -print0 | tar %s-czvf %s --null --files-from -",
			shQuote(sourceDir), shQuote(matchPattern), options, shQuote(targetPath))
	} else {
		line = fmt.Sprintf("tar %s-czvf %s -C %s %s",
			options, shQuote(targetPath), shQuote(sourceDir), shQuote(sourceFile))
	}
	return o.commandJob(ctx, "f7t_compress_job", line, username, accessToken, account, "compress")
}

// Extract submits an unarchiving job.
func (o *Orchestrator) Extract(ctx context.Context, sourcePath, targetPath, username, accessToken, account string) (*Result, error) {
	line := fmt.Sprintf("tar -xzf %s -C %s", shQuote(sourcePath), shQuote(targetPath))
	return o.commandJob(ctx, "f7t_extract_job", line, username, accessToken, account, "extract")
}

// shQuote single-quotes a string for the remote shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
