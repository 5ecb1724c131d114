// Package archive keeps a copy of every delivered form in an S3-compatible
// bucket.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver stores a delivered artifact and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, username, path string) (string, error)
}

type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type S3Archiver struct {
	bucket string
	client objectPutter
	now    func() time.Time
}

// NewS3Archiver builds a client for cfg. Static credentials are used when
// an access key is given, otherwise the default AWS credential chain. A
// custom endpoint (MinIO and friends) switches to path-style addressing.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive requires a bucket")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{bucket: cfg.Bucket, client: client, now: time.Now}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, username, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := ObjectKey(username, filepath.Base(path), a.now())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(path)),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey lays archived files out by user and day; the uuid keeps
// repeated deliveries of the same form apart.
func ObjectKey(username, name string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("forms/%s/%d/%02d/%02d/%s-%s", username, t.Year(), t.Month(), t.Day(), uuid.NewString(), name)
}

func contentType(path string) string {
	if filepath.Ext(path) == ".pdf" {
		return "application/pdf"
	}
	return "application/octet-stream"
}
