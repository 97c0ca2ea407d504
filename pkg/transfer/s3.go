package transfer

import (
	"context"
	"path"

	"github.com/google/uuid"

	"github.com/eth-cscs/firecrest/pkg/fsops"
)

// ObjectStorage is the slice of the S3 API the orchestrator and the health
// prober consume. Every bucket parameter is the plain per-user bucket
// name; tenant prefixing happens inside the implementation so callers
// never see it.
type ObjectStorage interface {
	// EnsureBucket creates the bucket if needed, tolerating "already
	// owned by you", and applies the expiry lifecycle on creation.
	EnsureBucket(ctx context.Context, bucket string) error

	// CreateMultipartUpload starts a multipart upload and returns its id.
	CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error)

	// The presign methods mint time-limited URLs against the private
	// (inside-cluster) or public (user-facing) endpoint.
	PresignGet(ctx context.Context, bucket, key string, public bool) (string, error)
	PresignHead(ctx context.Context, bucket, key string, public bool) (string, error)
	PresignPut(ctx context.Context, bucket, key string, public bool) (string, error)
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, public bool) (string, error)
	PresignCompleteUpload(ctx context.Context, bucket, key, uploadID string, public bool) (string, error)

	// CheckAccess verifies the storage is reachable with the configured
	// credentials; used by the health prober.
	CheckAccess(ctx context.Context) error
}

// partCount returns ceil(size / partSize).
func partCount(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}

// pollInterval is the sleep between object-existence probes of the pull
// job, in seconds.
const pollInterval = 10

func (o *Orchestrator) s3Upload(ctx context.Context, targetPath, username, accessToken, account string, fileSize int64) (*Result, error) {
	if o.store == nil {
		return nil, ErrStorageNotConfigured
	}
	if fileSize <= 0 {
		return nil, ErrFileSizeRequired
	}

	bucket := username
	if err := o.store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	key := uuid.New().String() + "/" + path.Base(targetPath)

	// private URLs feed the downloader job inside the cluster
	headURL, err := o.store.PresignHead(ctx, bucket, key, false)
	if err != nil {
		return nil, err
	}
	getURL, err := o.store.PresignGet(ctx, bucket, key, false)
	if err != nil {
		return nil, err
	}

	maxPartSize := o.storage.Multipart.MaxPartSize
	parts := partCount(fileSize, maxPartSize)

	directives := S3Directives{TransferMethod: MethodS3, MaxPartSize: maxPartSize}
	if parts <= 1 {
		directives.UploadURL, err = o.store.PresignPut(ctx, bucket, key, true)
		if err != nil {
			return nil, err
		}
	} else {
		uploadID, err := o.store.CreateMultipartUpload(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		for part := 1; part <= parts; part++ {
			url, err := o.store.PresignUploadPart(ctx, bucket, key, uploadID, int32(part), true)
			if err != nil {
				return nil, err
			}
			directives.PartsUploadURLs = append(directives.PartsUploadURLs, url)
		}
		directives.CompleteUploadURL, err = o.store.PresignCompleteUpload(ctx, bucket, key, uploadID, true)
		if err != nil {
			return nil, err
		}
	}

	attempts := int(o.storage.TTL / pollInterval)
	if attempts < 1 {
		attempts = 1
	}
	staged, err := o.stageJob(username, "f7t_s3_upload_job", account, func(header string) (string, error) {
		return render("s3_pull.sh.tmpl", s3PullScript{
			Directives:   header,
			HeadURL:      headURL,
			GetURL:       getURL,
			TargetPath:   targetPath,
			Attempts:     attempts,
			SleepSeconds: pollInterval,
		})
	})
	if err != nil {
		return nil, err
	}

	job, err := o.submit(ctx, staged, username, accessToken, "s3", "upload")
	if err != nil {
		return nil, err
	}
	return &Result{TransferJob: job, TransferDirectives: directives}, nil
}

func (o *Orchestrator) s3Download(ctx context.Context, sourcePath, username, accessToken, account string) (*Result, error) {
	if o.store == nil {
		return nil, ErrStorageNotConfigured
	}

	// the multipart is sized from the file as it exists right now
	statResult, err := o.runner.Run(ctx, username, accessToken, &fsops.Stat{Path: sourcePath, Dereference: true}, "")
	if err != nil {
		return nil, err
	}
	fileSize := statResult.(*fsops.Statx).Size

	bucket := username
	if err := o.store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	key := path.Base(sourcePath) + "_" + uuid.New().String()

	uploadID, err := o.store.CreateMultipartUpload(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	maxPartSize := o.storage.Multipart.MaxPartSize
	parts := partCount(fileSize, maxPartSize)

	// private URLs feed the uploader job inside the cluster
	script := s3PushScript{
		SourcePath: sourcePath,
		PartSize:   maxPartSize,
	}
	for part := 1; part <= parts; part++ {
		url, err := o.store.PresignUploadPart(ctx, bucket, key, uploadID, int32(part), false)
		if err != nil {
			return nil, err
		}
		script.Parts = append(script.Parts, s3PushPart{Number: part, Skip: part - 1, URL: url})
	}
	script.CompleteURL, err = o.store.PresignCompleteUpload(ctx, bucket, key, uploadID, false)
	if err != nil {
		return nil, err
	}

	downloadURL, err := o.store.PresignGet(ctx, bucket, key, true)
	if err != nil {
		return nil, err
	}

	staged, err := o.stageJob(username, "f7t_s3_download_job", account, func(header string) (string, error) {
		script.Directives = header
		return render("s3_push.sh.tmpl", script)
	})
	if err != nil {
		return nil, err
	}

	job, err := o.submit(ctx, staged, username, accessToken, "s3", "download")
	if err != nil {
		return nil, err
	}
	return &Result{
		TransferJob: job,
		TransferDirectives: S3Directives{
			TransferMethod: MethodS3,
			DownloadURL:    downloadURL,
			MaxPartSize:    maxPartSize,
		},
	}, nil
}
