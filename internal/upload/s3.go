package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/media"
)

// DefaultLinkExpiry is how long a presigned reel link stays valid. It only
// needs to outlive the downstream fetch by Telegram and the webhook target.
const DefaultLinkExpiry = 24 * time.Hour

// ObjectPutter is the subset of *s3.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used to share uploads.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 uploads reels under <prefix>/<yyyy-mm-dd>/<uuid><ext> and returns a
// presigned GET URL.
type S3 struct {
	client    ObjectPutter
	presigner Presigner
	bucket    string
	prefix    string
	expiry    time.Duration
	now       func() time.Time
}

// NewS3 creates an S3 uploader. An empty prefix defaults to "reels".
func NewS3(client ObjectPutter, presigner Presigner, bucket, prefix string) *S3 {
	if prefix == "" {
		prefix = "reels"
	}
	return &S3{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		prefix:    prefix,
		expiry:    DefaultLinkExpiry,
		now:       time.Now,
	}
}

// Upload puts localPath into the bucket and presigns a GET for it.
func (u *S3) Upload(ctx context.Context, localPath string) (string, error) {
	key := path.Join(u.prefix, u.now().UTC().Format("2006-01-02"), uuid.NewString()+filepath.Ext(localPath))

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open reel file: %w", err)
	}
	defer f.Close()

	contentType, ok := media.SupportedVideoExtensions[strings.ToLower(filepath.Ext(localPath))]
	if !ok {
		contentType = "application/octet-stream"
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload reel to S3: %w", err)
	}

	result, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &u.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = u.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}

	log.Info().Str("bucket", u.bucket).Str("key", key).Msg("Reel uploaded to S3")
	return result.URL, nil
}
