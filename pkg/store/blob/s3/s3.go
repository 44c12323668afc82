// Package s3 implements blob storage on Amazon S3 or S3-compatible services.
//
// Blob paths are object keys of the form <key_prefix><filename>. Uploads
// smaller than one part are sent with a single PutObject; larger uploads use
// a multipart upload that is aborted on failure, so a failed Put never leaves
// a visible object behind.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrop/pkg/store/blob"
)

const (
	defaultPartSize = 10 * 1024 * 1024 // 10MB
	minPartSize     = 5 * 1024 * 1024  // S3 minimum for all but the last part
	maxPartSize     = 5 * 1024 * 1024 * 1024
)

// Client is the subset of the S3 API used by the store.
//
// *s3.Client satisfies it.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3BlobStore implements blob.Store using S3.
//
// Thread Safety:
// Safe for concurrent use. Concurrent Puts to the same key are
// last-writer-wins, as S3 itself guarantees.
type S3BlobStore struct {
	client    Client
	bucket    string
	keyPrefix string
	partSize  int64
}

// S3BlobStoreConfig contains configuration for the S3 blob store.
type S3BlobStoreConfig struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key.
	// Example: "dittodrop/" results in keys like "dittodrop/report.pdf"
	KeyPrefix string

	// PartSize is the multipart threshold and part size (default: 10MB).
	// Must be between 5MB and 5GB.
	PartSize int64
}

// NewS3BlobStore creates an S3 blob store and verifies bucket access.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3BlobStore: Initialized store
//   - error: If configuration is invalid or the bucket is not accessible
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	// ========================================================================
	// Step 1: Validate configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3BlobStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
	}, nil
}

// PathFor implements blob.Store.
func (s *S3BlobStore) PathFor(filename string) (string, error) {
	name := path.Base(path.Clean(strings.ReplaceAll(filename, "\\", "/")))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("filename %q: %w", filename, blob.ErrInvalidPath)
	}
	return s.keyPrefix + name, nil
}

// checkKey rejects keys that PathFor could not have produced.
func (s *S3BlobStore) checkKey(key string) error {
	name, ok := strings.CutPrefix(key, s.keyPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("key %q: %w", key, blob.ErrInvalidPath)
	}
	return nil
}

// Put implements blob.Store.
func (s *S3BlobStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.checkKey(key); err != nil {
		return 0, err
	}

	// Buffer one part. A short first part means a single PutObject suffices.
	first := make([]byte, s.partSize)
	n, err := io.ReadFull(blob.NewContextReader(ctx, r), first)
	switch {
	case err == nil:
		return s.putMultipart(ctx, key, first, r)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// fits in one request
	default:
		return 0, fmt.Errorf("failed to read upload for %s: %w", key, err)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(first[:n]),
		ContentLength: aws.Int64(int64(n)),
	}); err != nil {
		return 0, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return int64(n), nil
}

// putMultipart uploads first followed by the remainder of r as a multipart
// upload. The upload is aborted on any failure.
func (s *S3BlobStore) putMultipart(ctx context.Context, key string, first []byte, r io.Reader) (int64, error) {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (int64, error) {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		var noSuchUpload *types.NoSuchUpload
		if abortErr != nil && !errors.As(abortErr, &noSuchUpload) {
			return 0, errors.Join(cause, fmt.Errorf("failed to abort multipart upload: %w", abortErr))
		}
		return 0, cause
	}

	var (
		parts []types.CompletedPart
		total int64
		buf   = first
		size  = len(first)
		src   = blob.NewContextReader(ctx, r)
	)
	for partNumber := int32(1); size > 0; partNumber++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(buf[:size]),
		})
		if err != nil {
			return abort(fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err))
		}
		parts = append(parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		total += int64(size)

		if size < len(buf) {
			break
		}
		size, err = io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return abort(fmt.Errorf("failed to read upload for %s: %w", key, err))
		}
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload for %s: %w", key, err))
	}

	return total, nil
}

// Open implements blob.Store.
func (s *S3BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkKey(key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, blob.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	return out.Body, nil
}

// Delete implements blob.Store. S3 DeleteObject is already idempotent.
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkKey(key); err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List implements blob.Store.
func (s *S3BlobStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || s.checkKey(*obj.Key) != nil {
				continue
			}
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

// Close implements blob.Store.
func (s *S3BlobStore) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
