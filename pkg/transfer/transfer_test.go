package transfer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/fsops"
	"github.com/eth-cscs/firecrest/pkg/scheduler"
	"github.com/eth-cscs/firecrest/pkg/sshpool"
	"github.com/eth-cscs/firecrest/pkg/streamer"
)

// fakeScheduler records the submitted job description.
type fakeScheduler struct {
	scheduler.Client
	lastJob *scheduler.JobDescription
	nextID  int
}

func (f *fakeScheduler) SubmitJob(ctx context.Context, job *scheduler.JobDescription, username, accessToken string) (int, error) {
	f.lastJob = job
	return f.nextID, nil
}

// fakeStatRunner answers every command with a fixed stat result.
type fakeStatRunner struct {
	size int64
}

func (f *fakeStatRunner) Run(ctx context.Context, username, accessToken string, command sshpool.Command, stdin string) (any, error) {
	return &fsops.Statx{Size: f.size}, nil
}

// fakeStore mints deterministic URLs and records bucket/key usage.
type fakeStore struct {
	buckets []string
	keys    []string
}

func (f *fakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	f.buckets = append(f.buckets, bucket)
	return nil
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	f.keys = append(f.keys, key)
	return "upload-1", nil
}

func (f *fakeStore) presigned(op, bucket, key string, public bool) string {
	side := "private"
	if public {
		side = "public"
	}
	return fmt.Sprintf("https://%s/%s/%s?op=%s", side, bucket, key, op)
}

func (f *fakeStore) PresignGet(ctx context.Context, bucket, key string, public bool) (string, error) {
	return f.presigned("get", bucket, key, public), nil
}

func (f *fakeStore) PresignHead(ctx context.Context, bucket, key string, public bool) (string, error) {
	return f.presigned("head", bucket, key, public), nil
}

func (f *fakeStore) PresignPut(ctx context.Context, bucket, key string, public bool) (string, error) {
	f.keys = append(f.keys, key)
	return f.presigned("put", bucket, key, public), nil
}

func (f *fakeStore) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, public bool) (string, error) {
	return f.presigned(fmt.Sprintf("part%d", partNumber), bucket, key, public), nil
}

func (f *fakeStore) PresignCompleteUpload(ctx context.Context, bucket, key, uploadID string, public bool) (string, error) {
	return f.presigned("complete", bucket, key, public), nil
}

func (f *fakeStore) CheckAccess(ctx context.Context) error { return nil }

func testCluster() *config.Cluster {
	return &config.Cluster{
		Name: "cA",
		FileSystems: []config.FileSystem{
			{Path: "/scratch", DataType: config.DataTypeScratch, DefaultWorkDir: true},
		},
		DatatransferJobsDirectives: []string{"#SBATCH --constraint=mc"},
	}
}

func testStorage() *config.Storage {
	return &config.Storage{
		PrivateURL: "https://s3.internal",
		PublicURL:  "https://s3.example.org",
		TTL:        3600,
		Multipart:  config.MultipartUpload{MaxPartSize: 2147483648},
	}
}

func newTestOrchestrator(sched *fakeScheduler, store ObjectStorage, size int64) *Orchestrator {
	return NewOrchestrator(testCluster(), testStorage(), sched, &fakeStatRunner{size: size}, store)
}

func TestFormatDirectives(t *testing.T) {
	lines, err := formatDirectives([]string{
		"#SBATCH --constraint=mc",
		"#SBATCH --account={account}",
	}, "csstaff")
	require.NoError(t, err)
	assert.Equal(t, "#SBATCH --constraint=mc\n#SBATCH --account=csstaff", lines)

	_, err = formatDirectives([]string{"#SBATCH --account={account}"}, "")
	assert.ErrorIs(t, err, ErrAccountRequired)

	lines, err = formatDirectives(nil, "")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestPartCount(t *testing.T) {
	assert.Equal(t, 3, partCount(5_000_000_000, 2147483648))
	assert.Equal(t, 1, partCount(1, 2147483648))
	assert.Equal(t, 1, partCount(2147483648, 2147483648))
	assert.Equal(t, 2, partCount(2147483649, 2147483648))
}

func TestS3UploadMultipart(t *testing.T) {
	sched := &fakeScheduler{nextID: 77}
	store := &fakeStore{}
	o := newTestOrchestrator(sched, store, 0)

	result, err := o.Upload(context.Background(), "/scratch/alice/data.bin", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodS3, FileSize: 5_000_000_000})
	require.NoError(t, err)

	assert.Equal(t, 77, result.TransferJob.JobID)
	assert.Equal(t, "cA", result.TransferJob.System)
	assert.Equal(t, "/scratch/alice", result.TransferJob.WorkingDirectory)
	assert.Equal(t, []string{"alice"}, store.buckets)

	directives := result.TransferDirectives.(S3Directives)
	assert.Len(t, directives.PartsUploadURLs, 3)
	assert.NotEmpty(t, directives.CompleteUploadURL)
	assert.Empty(t, directives.UploadURL)
	assert.Equal(t, int64(2147483648), directives.MaxPartSize)
	for _, url := range directives.PartsUploadURLs {
		assert.Contains(t, url, "https://public/")
	}

	// the job pulls from the private endpoint into the target path
	require.NotNil(t, sched.lastJob)
	assert.Contains(t, sched.lastJob.Script, "https://private/")
	assert.Contains(t, sched.lastJob.Script, "/scratch/alice/data.bin")
	assert.Contains(t, sched.lastJob.Script, "#SBATCH --constraint=mc")
	assert.Equal(t, "/dev/null", sched.lastJob.StandardInput)
}

func TestS3UploadSmallFileSinglePut(t *testing.T) {
	sched := &fakeScheduler{nextID: 1}
	o := newTestOrchestrator(sched, &fakeStore{}, 0)

	result, err := o.Upload(context.Background(), "/scratch/alice/small.txt", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodS3, FileSize: 1024})
	require.NoError(t, err)

	directives := result.TransferDirectives.(S3Directives)
	assert.NotEmpty(t, directives.UploadURL)
	assert.Empty(t, directives.PartsUploadURLs)
	assert.Empty(t, directives.CompleteUploadURL)
}

func TestS3UploadRequiresFileSize(t *testing.T) {
	o := newTestOrchestrator(&fakeScheduler{}, &fakeStore{}, 0)

	_, err := o.Upload(context.Background(), "/scratch/alice/f", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodS3})
	assert.ErrorIs(t, err, ErrFileSizeRequired)
}

func TestS3DownloadSizesFromStat(t *testing.T) {
	sched := &fakeScheduler{nextID: 9}
	store := &fakeStore{}
	o := newTestOrchestrator(sched, store, 3_000_000_000)

	result, err := o.Download(context.Background(), "/scratch/alice/out.tar", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodS3})
	require.NoError(t, err)

	directives := result.TransferDirectives.(S3Directives)
	assert.Contains(t, directives.DownloadURL, "https://public/")

	// ceil(3e9 / 2^31) = 2 part uploads in the job script
	require.NotNil(t, sched.lastJob)
	assert.Equal(t, 2, strings.Count(sched.lastJob.Script, "op=part"))
	assert.Contains(t, sched.lastJob.Script, "op=complete")
	assert.Contains(t, sched.lastJob.Script, "https://private/")

	// download keys are <basename>_<uuid>
	require.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], "out.tar_"))
}

func TestTransferJobLogNames(t *testing.T) {
	sched := &fakeScheduler{nextID: 5}
	o := newTestOrchestrator(sched, &fakeStore{}, 0)

	result, err := o.Copy(context.Background(), "/scratch/alice/a", "/scratch/alice/b", "alice", "token", "")
	require.NoError(t, err)

	logPattern := regexp.MustCompile(`^/scratch/alice/\.f7t_file_handling_job_[0-9a-f-]{36}\.log$`)
	errPattern := regexp.MustCompile(`^/scratch/alice/\.f7t_file_handling_job_error_[0-9a-f-]{36}\.log$`)
	assert.Regexp(t, logPattern, result.TransferJob.Logs.OutputLog)
	assert.Regexp(t, errPattern, result.TransferJob.Logs.ErrorLog)
	assert.Equal(t, result.TransferJob.Logs.OutputLog, sched.lastJob.StandardOutput)
	assert.Equal(t, result.TransferJob.Logs.ErrorLog, sched.lastJob.StandardError)
	assert.Contains(t, sched.lastJob.Script, "cp -r --preserve=all -- '/scratch/alice/a' '/scratch/alice/b'")
}

func TestNoDefaultWorkDir(t *testing.T) {
	cluster := testCluster()
	cluster.FileSystems[0].DefaultWorkDir = false
	o := NewOrchestrator(cluster, testStorage(), &fakeScheduler{}, &fakeStatRunner{}, &fakeStore{})

	_, err := o.Remove(context.Background(), "/scratch/alice/x", "alice", "token", "")
	assert.ErrorIs(t, err, ErrNoWorkDir)
}

func TestWormholeDownloadGeneratesCode(t *testing.T) {
	sched := &fakeScheduler{nextID: 3}
	o := newTestOrchestrator(sched, &fakeStore{}, 0)

	result, err := o.Download(context.Background(), "/scratch/alice/f", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodWormhole})
	require.NoError(t, err)

	directives := result.TransferDirectives.(WormholeDirectives)
	assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]?-[a-z]+-[a-z]+-[a-z]+$`), directives.Code)
	assert.Contains(t, sched.lastJob.Script, "wormhole send --code '"+directives.Code+"'")
}

func TestWormholeUploadRequiresCode(t *testing.T) {
	o := newTestOrchestrator(&fakeScheduler{}, &fakeStore{}, 0)

	_, err := o.Upload(context.Background(), "/scratch/alice/f", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodWormhole})
	assert.ErrorIs(t, err, ErrCodeRequired)
}

func TestStreamerTransferToken(t *testing.T) {
	cluster := testCluster()
	cluster.Streamer = &config.Streamer{
		PortRangeStart: 22000,
		PortRangeEnd:   22010,
		PublicIPs:      []string{"198.51.100.7"},
		WaitTimeout:    86400,
		MaxSize:        5 << 30,
	}
	sched := &fakeScheduler{nextID: 8}
	o := NewOrchestrator(cluster, testStorage(), sched, &fakeStatRunner{}, &fakeStore{})

	result, err := o.Download(context.Background(), "/scratch/alice/big.bin", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodStreamer})
	require.NoError(t, err)

	directives := result.TransferDirectives.(StreamerDirectives)
	info, err := streamer.DecodeToken(directives.ConnectionToken)
	require.NoError(t, err)
	assert.Equal(t, [2]int{22000, 22010}, info.Ports)
	assert.Equal(t, []string{"198.51.100.7"}, info.IPs)
	assert.NotEmpty(t, info.Secret)

	assert.Contains(t, sched.lastJob.Script, "fc-streamer serve --mode send")
	assert.Contains(t, sched.lastJob.Script, "--wait-timeout 86400")
}

func TestStreamerNotConfigured(t *testing.T) {
	o := newTestOrchestrator(&fakeScheduler{}, &fakeStore{}, 0)

	_, err := o.Upload(context.Background(), "/scratch/alice/f", "alice", "token", "",
		RequestDirectives{TransferMethod: MethodStreamer})
	assert.ErrorIs(t, err, ErrStreamerNotConfigured)
}

func TestUnknownMethod(t *testing.T) {
	o := newTestOrchestrator(&fakeScheduler{}, &fakeStore{}, 0)

	_, err := o.Upload(context.Background(), "/scratch/alice/f", "alice", "token", "",
		RequestDirectives{TransferMethod: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
