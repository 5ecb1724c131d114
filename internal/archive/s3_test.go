package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "w9-filled.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.7 filled"), 0o600))
	return p
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2025, 3, 7, 23, 0, 0, 0, time.UTC)
	key := ObjectKey("alice", "w9-filled.pdf", ts)
	assert.Regexp(t, regexp.MustCompile(`^forms/alice/2025/03/07/[0-9a-f-]{36}-w9-filled\.pdf$`), key)
	assert.NotEqual(t, key, ObjectKey("alice", "w9-filled.pdf", ts))
}

func TestNewS3Archiver_Options(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}

	a, err := NewS3Archiver(context.Background(), S3Config{
		Bucket: "forms", Region: "eu-west-1", BaseEndpoint: "http://minio:9000",
		AccessKey: "minio", SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "forms", a.bucket)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
}

func TestNewS3Archiver_Errors(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3Config{})
	require.Error(t, err)

	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = NewS3Archiver(context.Background(), S3Config{Bucket: "b"})
	require.ErrorContains(t, err, "no config")
}

func TestS3Archiver_ArchiveAgainstHTTPEndpoint(t *testing.T) {
	var gotMethod, gotPath, gotCT string
	var gotBody []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := NewS3Archiver(context.Background(), S3Config{
		Bucket: "forms", Region: "us-east-1", BaseEndpoint: ts.URL,
		AccessKey: "test", SecretKey: "test",
	})
	require.NoError(t, err)

	key, err := a.Archive(context.Background(), "alice", writePDF(t))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/forms/"+key, gotPath)
	assert.True(t, strings.HasPrefix(key, "forms/alice/"))
	assert.Equal(t, "application/pdf", gotCT)
	assert.Contains(t, string(gotBody), "%PDF-1.7 filled")
}

type failingPutter struct{}

func (failingPutter) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return nil, errors.New("access denied")
}

func TestS3Archiver_Errors(t *testing.T) {
	a := &S3Archiver{bucket: "forms", client: failingPutter{}, now: time.Now}

	_, err := a.Archive(context.Background(), "alice", writePDF(t))
	require.ErrorContains(t, err, "access denied")

	_, err = a.Archive(context.Background(), "alice", filepath.Join(t.TempDir(), "missing.pdf"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
