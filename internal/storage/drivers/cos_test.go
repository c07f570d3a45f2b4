package drivers

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCOS struct {
	objects map[string][]byte
	ttl     time.Duration
	closed  int
}

func (f *fakeCOS) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeCOS) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.ttl = ttl
	return "https://files-1250000000.cos.ap-guangzhou.myqcloud.com/" + key + "?q-sign-algorithm=sha1", nil
}

func (f *fakeCOS) DeleteMulti(ctx context.Context, keys []string) ([]string, []cosDeleteError, error) {
	var deleted []string
	var failed []cosDeleteError
	for _, key := range keys {
		switch {
		case strings.HasPrefix(key, "deny"):
			failed = append(failed, cosDeleteError{Key: key, Code: "AccessDenied", Message: "denied"})
		case strings.HasPrefix(key, "gone"):
			failed = append(failed, cosDeleteError{Key: key, Code: cosCodeNoSuchKey})
		default:
			deleted = append(deleted, key)
		}
	}
	return deleted, failed, nil
}

func (f *fakeCOS) Close() { f.closed++ }

func newTestCOS(t *testing.T) (*COS, *fakeCOS) {
	t.Helper()
	cfg := storage.Config{
		Type:      storage.TypeCOS,
		ServerURL: "https://files-1250000000.cos.ap-guangzhou.myqcloud.com",
		AccessKey: "AKID",
		SecretKey: "secret",
		Bucket:    "files-1250000000",
		Region:    "ap-guangzhou",
		KeyScheme: storage.SchemeRandom,
	}
	p, err := NewCOS(cfg, logger.Discard(), WithClock(testClock))
	require.NoError(t, err)

	fake := &fakeCOS{objects: map[string][]byte{}}
	p.open = func(context.Context) (cosSession, error) { return fake, nil }
	return p, fake
}

func TestCOSUploadStream(t *testing.T) {
	p, fake := newTestCOS(t)

	res, err := p.UploadStream(context.Background(), "clip.mp4", strings.NewReader("mp4"), 3)
	require.NoError(t, err)

	assert.Equal(t, p.cfg.ServerURL+"/"+res.FileKey, res.FilePath)
	assert.Equal(t, []byte("mp4"), fake.objects[res.FileKey])
	assert.Equal(t, 1, fake.closed)
}

func TestCOSIssueCredential(t *testing.T) {
	p, fake := newTestCOS(t)

	cred, err := p.IssueCredential(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.TypeCOS, cred.UploadType)
	assert.Equal(t, storage.MethodPresignedURL, cred.Method)
	assert.Contains(t, cred.ServerURL, cred.FileKey)
	assert.Equal(t, p.cfg.ServerURL+"/"+cred.FileKey, cred.FilePath)
	assert.Equal(t, testNow.Add(storage.CredentialTTL), cred.ExpiresAt)
	assert.Equal(t, storage.CredentialTTL, fake.ttl)
}

func TestCOSDelete(t *testing.T) {
	p, _ := newTestCOS(t)

	res := p.Delete(context.Background(), []string{"a.pdf", "deny.pdf", "gone.pdf"})

	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, storage.ErrBackendDelete)
	assert.NoError(t, res[2].Err)
}

func TestNewCOSRejectsBadBucket(t *testing.T) {
	_, err := NewCOS(storage.Config{Type: storage.TypeCOS, Bucket: "files", Region: ""}, logger.Discard())
	assert.ErrorIs(t, err, storage.ErrConfiguration)
}
