package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend stores a history as a single JSON object. PutObject replaces
// the object atomically, so readers never observe a partial write.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// Compile-time interface check.
var _ Backend = (*S3Backend)(nil)

// NewS3Backend creates a backend for the object at bucket/key.
func NewS3Backend(client S3API, bucket, key string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// Load fetches and decodes the object. A missing object is an empty history.
func (b *S3Backend) Load(ctx context.Context) ([]Entry, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &b.key,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetObject s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return decodeJSON(data)
}

// Save encodes entries and overwrites the object.
func (b *S3Backend) Save(ctx context.Context, entries []Entry) error {
	data, err := encodeJSON(entries)
	if err != nil {
		return err
	}
	contentType := "application/json"
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &b.key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("PutObject s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}
