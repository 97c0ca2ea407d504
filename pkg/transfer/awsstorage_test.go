package transfer

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-cscs/firecrest/pkg/config"
)

func newTestS3Storage(t *testing.T, tenant string) *S3Storage {
	t.Helper()
	storage, err := NewS3Storage(context.Background(), &config.Storage{
		PrivateURL:      "https://s3.internal",
		PublicURL:       "https://s3.example.org",
		AccessKeyID:     config.Secret("test-access-key"),
		SecretAccessKey: config.Secret("test-secret-key"),
		Region:          "us-east-1",
		TTL:             3600,
		Tenant:          tenant,
	})
	require.NoError(t, err)
	return storage
}

func TestBucketNameTenantPrefix(t *testing.T) {
	assert.Equal(t, "alice", newTestS3Storage(t, "").bucketName("alice"))
	assert.Equal(t, "cscs:alice", newTestS3Storage(t, "cscs").bucketName("alice"))
}

func TestPresignCompleteUpload(t *testing.T) {
	storage := newTestS3Storage(t, "cscs")

	signed, err := storage.PresignCompleteUpload(context.Background(), "alice", "file_abc", "upload-1", true)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.org", parsed.Host)
	assert.True(t, strings.Contains(parsed.Path, "cscs:alice") ||
		strings.Contains(parsed.Path, url.PathEscape("cscs:alice")))
	assert.Contains(t, parsed.Path, "file_abc")

	query := parsed.Query()
	assert.Equal(t, "upload-1", query.Get("uploadId"))
	assert.Equal(t, "3600", query.Get("X-Amz-Expires"))
	assert.NotEmpty(t, query.Get("X-Amz-Signature"))
	assert.Equal(t, "AWS4-HMAC-SHA256", query.Get("X-Amz-Algorithm"))
	assert.Contains(t, query.Get("X-Amz-Credential"), "test-access-key")
}

func TestPresignCompleteUploadPrivateEndpoint(t *testing.T) {
	storage := newTestS3Storage(t, "")

	signed, err := storage.PresignCompleteUpload(context.Background(), "alice", "k", "u", false)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "s3.internal", parsed.Host)
}
