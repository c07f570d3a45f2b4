package drivers

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinio struct {
	objects map[string][]byte
	sizes   map[string]int64
	removed []string
	closed  int
}

func (f *fakeMinio) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	f.sizes[key] = size
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeMinio) PresignedPutObject(ctx context.Context, bucket, key string, expires time.Duration) (*url.URL, error) {
	return url.Parse("http://minio:9000/" + bucket + "/" + key + "?X-Amz-Expires=" + expires.String())
}

// RemoveObjects fails keys starting with "deny" and reports missing keys
// starting with "gone" the way MinIO does.
func (f *fakeMinio) RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	errs := make(chan minio.RemoveObjectError, 16)
	go func() {
		defer close(errs)
		for obj := range objects {
			f.removed = append(f.removed, obj.Key)
			switch {
			case strings.HasPrefix(obj.Key, "deny"):
				errs <- minio.RemoveObjectError{ObjectName: obj.Key, Err: errors.New("Access Denied.")}
			case strings.HasPrefix(obj.Key, "gone"):
				errs <- minio.RemoveObjectError{ObjectName: obj.Key, Err: minio.ErrorResponse{Code: s3CodeNoSuchKey}}
			}
		}
	}()
	return errs
}

func (f *fakeMinio) Close() { f.closed++ }

func newTestMinio(t *testing.T) (*Minio, *fakeMinio) {
	t.Helper()
	cfg := storage.Config{
		Type:      storage.TypeMinio,
		ServerURL: "http://minio:9000",
		Bucket:    "files",
		KeyScheme: storage.SchemeTime,
	}
	p, err := NewMinio(cfg, logger.Discard(), WithClock(testClock))
	require.NoError(t, err)

	fake := &fakeMinio{objects: map[string][]byte{}, sizes: map[string]int64{}}
	p.open = func(context.Context) (minioSession, error) { return fake, nil }
	return p, fake
}

func TestMinioUploadStream(t *testing.T) {
	p, fake := newTestMinio(t)

	res, err := p.UploadStream(context.Background(), "scan.tiff", strings.NewReader("tiff"), -1)
	require.NoError(t, err)

	assert.Regexp(t, `^202401/02/15/[0-9a-f]{24}\.tiff$`, res.FileKey)
	assert.Equal(t, "http://minio:9000/files/"+res.FileKey, res.FilePath)
	assert.Equal(t, []byte("tiff"), fake.objects[res.FileKey])
	assert.Equal(t, int64(-1), fake.sizes[res.FileKey], "unknown size passes through")
	assert.Equal(t, 1, fake.closed)
}

func TestMinioIssueCredentialCarriesBucket(t *testing.T) {
	p, _ := newTestMinio(t)

	cred, err := p.IssueCredential(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.TypeMinio, cred.UploadType)
	assert.Equal(t, storage.MethodPresignedURL, cred.Method)
	assert.Equal(t, "files", cred.Bucket)
	assert.True(t, strings.HasPrefix(cred.ServerURL, "http://minio:9000/files/"+cred.FileKey))
	assert.Equal(t, "http://minio:9000/files/"+cred.FileKey, cred.FilePath)
	assert.Equal(t, testNow.Add(30*time.Minute), cred.ExpiresAt)
}

func TestMinioDelete(t *testing.T) {
	p, fake := newTestMinio(t)

	res := p.Delete(context.Background(), []string{"a.pdf", "deny.pdf", "gone.pdf"})

	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, storage.ErrBackendDelete)
	assert.NoError(t, res[2].Err)
	assert.Equal(t, []string{"a.pdf", "deny.pdf", "gone.pdf"}, fake.removed)
}

func TestMinioEndpoint(t *testing.T) {
	host, secure, err := minioEndpoint(storage.Config{ServerURL: "https://s3.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure, err = minioEndpoint(storage.Config{ServerURL: "https://cdn.example.com", Endpoint: "http://minio:9000"})
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", host)
	assert.False(t, secure)

	_, _, err = minioEndpoint(storage.Config{ServerURL: "minio:9000"})
	assert.ErrorIs(t, err, storage.ErrConfiguration)
}
