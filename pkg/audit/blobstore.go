package audit

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader persists an evidence pack's bytes to durable blob storage and
// returns a location string a caller can record alongside the pack's
// checksum. A nil Uploader means packs are only ever served inline.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (location string, err error)
}

// NewUploaderFromURI dispatches on uri's scheme: s3:// (bucket in host,
// optional key prefix in path) or gs:// (Google Cloud Storage, requires
// building with -tags gcp). Empty uri means no remote upload backend.
func NewUploaderFromURI(ctx context.Context, uri string) (Uploader, error) {
	if uri == "" {
		return nil, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("audit: parse evidence_bucket_uri: %w", err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case "s3":
		return NewS3Uploader(ctx, u.Host, prefix)
	case "gs":
		return newGCSUploader(ctx, u.Host, prefix)
	default:
		return nil, fmt.Errorf("audit: unsupported evidence_bucket_uri scheme %q", u.Scheme)
	}
}

// S3Uploader writes evidence packs to an S3 (or S3-compatible) bucket,
// grounded on the teacher's artifacts.S3Store PutObject call.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Uploader(ctx context.Context, bucket, prefix string) (*S3Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}
	return &S3Uploader{client: s3.NewFromConfig(awsCfg), bucket: bucket, prefix: prefix}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) (string, error) {
	fullKey := u.prefix + key
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("audit: s3 put: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, fullKey), nil
}
