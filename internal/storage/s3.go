package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sorenh/backupd/internal/model"
)

type s3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3(cfg model.StorageConfig) (Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &s3Backend{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *s3Backend) key(p string) string {
	return path.Join(b.prefix, p)
}

// relKey strips the configured bucket prefix so List and Delete report
// the same base-relative paths as the other backends.
func (b *s3Backend) relKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.prefix+"/")
}

func (b *s3Backend) Put(ctx context.Context, r io.Reader, p string) (PutResult, error) {
	// Chunks are bounded in size, so buffering gives the SDK a seekable
	// body for its own retries and lets us checksum in one pass.
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("read body for %s: %w", p, err)
	}
	sum := sha256.Sum256(data)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("put s3://%s/%s: %w", b.bucket, b.key(p), err)
	}

	return PutResult{
		BytesWritten: int64(len(data)),
		Checksum:     hex.EncodeToString(sum[:]),
	}, nil
}

func (b *s3Backend) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, b.key(p), ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, b.key(p), err)
	}
	return out.Body, nil
}

func (b *s3Backend) Delete(ctx context.Context, prefix string) ([]string, error) {
	var deleted []string
	key := b.key(prefix)

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list s3://%s/%s: %w", b.bucket, key, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("delete s3://%s/%s: %w", b.bucket, key, err)
		}
		for _, obj := range page.Contents {
			deleted = append(deleted, b.relKey(aws.ToString(obj.Key)))
		}
	}
	return deleted, nil
}

func (b *s3Backend) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	key := b.key(prefix)

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", b.bucket, key, err)
		}
		for _, obj := range page.Contents {
			entries = append(entries, Entry{
				Path:      b.relKey(aws.ToString(obj.Key)),
				SizeBytes: aws.ToInt64(obj.Size),
				ModTime:   aws.ToTime(obj.LastModified),
			})
		}
	}
	return entries, nil
}

func (b *s3Backend) Check(ctx context.Context) (CheckResult, error) {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return CheckResult{Status: model.StorageUnreachable, Latency: time.Since(start)},
			fmt.Errorf("head bucket %s: %w", b.bucket, ErrUnreachable)
	}
	// Object stores do not expose free capacity.
	return CheckResult{Status: model.StorageHealthy, Latency: time.Since(start)}, nil
}
