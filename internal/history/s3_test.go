package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Backend_MissingObjectIsEmpty(t *testing.T) {
	b := NewS3Backend(&fakeS3{}, "bucket", "history/stock.json")

	entries, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestS3Backend_RoundTrip(t *testing.T) {
	fake := &fakeS3{}
	b := NewS3Backend(fake, "bucket", "history/stock.json")
	at := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	s := Load(context.Background(), b, nil)
	s.Record("42", at)
	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded := Load(context.Background(), b, nil)
	if reloaded.LoadErr() != nil {
		t.Fatalf("reload: %v", reloaded.LoadErr())
	}
	got := reloaded.Entries()
	if len(got) != 1 || got[0].ID != "42" || !got[0].SentAt.Equal(at) {
		t.Errorf("unexpected entries: %+v", got)
	}
}

func TestS3Backend_GetErrorIsAbsorbedByStore(t *testing.T) {
	b := NewS3Backend(&fakeS3{getErr: errors.New("access denied")}, "bucket", "k")

	s := Load(context.Background(), b, nil)
	if !errors.Is(s.LoadErr(), ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", s.LoadErr())
	}
}
