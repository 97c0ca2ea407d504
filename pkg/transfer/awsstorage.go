package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/eth-cscs/firecrest/pkg/config"
)

// unsignedPayload is the SigV4 content hash for requests whose body is
// not known at signing time.
const unsignedPayload = "UNSIGNED-PAYLOAD"

// S3Storage implements ObjectStorage against an S3-compatible endpoint
// pair: a private URL reachable from inside the cluster and a public one
// handed to users.
type S3Storage struct {
	cfg            *config.Storage
	creds          aws.CredentialsProvider
	private        *s3.Client
	presignPrivate *s3.PresignClient
	presignPublic  *s3.PresignClient
	signer         *v4.Signer
	ttl            time.Duration
}

// NewS3Storage builds the client pair from the storage settings.
func NewS3Storage(ctx context.Context, storage *config.Storage) (*S3Storage, error) {
	provider := awscreds.NewStaticCredentialsProvider(
		storage.AccessKeyID.Value(), storage.SecretAccessKey.Value(), "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(storage.Region),
		awsconfig.WithCredentialsProvider(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage client: %w", err)
	}

	clientFor := func(endpoint string) *s3.Client {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	private := clientFor(storage.PrivateURL)
	public := clientFor(storage.PublicURL)

	ttl := time.Duration(storage.TTL) * time.Second
	expires := func(o *s3.PresignOptions) { o.Expires = ttl }

	return &S3Storage{
		cfg:            storage,
		creds:          provider,
		private:        private,
		presignPrivate: s3.NewPresignClient(private, expires),
		presignPublic:  s3.NewPresignClient(public, expires),
		signer:         v4.NewSigner(),
		ttl:            ttl,
	}, nil
}

// bucketName applies the tenant prefix, when configured, to every bucket
// parameter before it reaches the API or the signer.
func (s *S3Storage) bucketName(bucket string) string {
	if s.cfg.Tenant != "" {
		return s.cfg.Tenant + ":" + bucket
	}
	return bucket
}

func (s *S3Storage) presigner(public bool) *s3.PresignClient {
	if public {
		return s.presignPublic
	}
	return s.presignPrivate
}

func (s *S3Storage) EnsureBucket(ctx context.Context, bucket string) error {
	name := s.bucketName(bucket)
	_, err := s.private.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	// expire staged objects; the bucket is a transfer area, not storage
	days := s.cfg.BucketLifecycleConfiguration.Days
	_, err = s.private.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(name),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{{
				ID:         aws.String("firecrest-staging-expiry"),
				Status:     types.ExpirationStatusEnabled,
				Filter:     &types.LifecycleRuleFilter{Prefix: aws.String("")},
				Expiration: &types.LifecycleExpiration{Days: aws.Int32(days)},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set bucket lifecycle on %s: %w", bucket, err)
	}
	return nil
}

func (s *S3Storage) CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	out, err := s.private.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Storage) PresignGet(ctx context.Context, bucket, key string, public bool) (string, error) {
	out, err := s.presigner(public).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign GET: %w", err)
	}
	return out.URL, nil
}

func (s *S3Storage) PresignHead(ctx context.Context, bucket, key string, public bool) (string, error) {
	out, err := s.presigner(public).PresignHeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign HEAD: %w", err)
	}
	return out.URL, nil
}

func (s *S3Storage) PresignPut(ctx context.Context, bucket, key string, public bool) (string, error) {
	out, err := s.presigner(public).PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT: %w", err)
	}
	return out.URL, nil
}

func (s *S3Storage) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, public bool) (string, error) {
	out, err := s.presigner(public).PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucketName(bucket)),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	return out.URL, nil
}

// PresignCompleteUpload signs the CompleteMultipartUpload POST with the
// raw query presigner; the generated presign client does not cover that
// operation.
func (s *S3Storage) PresignCompleteUpload(ctx context.Context, bucket, key, uploadID string, public bool) (string, error) {
	endpoint := s.cfg.PrivateURL
	if public {
		endpoint = s.cfg.PublicURL
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	target := base.JoinPath(s.bucketName(bucket), key)

	query := target.Query()
	query.Set("uploadId", uploadID)
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(s.ttl.Seconds()), 10))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build complete-upload request: %w", err)
	}

	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage credentials: %w", err)
	}
	signed, _, err := s.signer.PresignHTTP(ctx, creds, req, unsignedPayload, "s3", s.cfg.Region, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to presign complete-upload: %w", err)
	}
	return signed, nil
}

func (s *S3Storage) CheckAccess(ctx context.Context) error {
	_, err := s.private.ListBuckets(ctx, &s3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

var _ ObjectStorage = (*S3Storage)(nil)
