package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sashko-guz/ferry/internal/cache"
	"github.com/sashko-guz/ferry/internal/fetch"
	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/storage/drivers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOpener struct {
	body      string
	err       error
	urls      []string
	forgotten []string
}

func (s *stubOpener) Forget(url string) {
	s.forgotten = append(s.forgotten, url)
}

func (s *stubOpener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	s.urls = append(s.urls, url)
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func newTestService(t *testing.T) (*Service, string, *stubOpener) {
	t.Helper()
	root := t.TempDir()
	p, err := drivers.New(storage.Config{
		Type:      storage.TypeLocal,
		ServerURL: "http://files.local",
		Bucket:    storage.DefaultLocalSegment,
		RootPath:  root,
		KeyScheme: storage.SchemeDate,
	}, logger.Discard())
	require.NoError(t, err)

	remote := &stubOpener{body: "remote bytes"}
	return NewService(p, remote, logger.Discard()), root, remote
}

func TestServiceUploadAndDelete(t *testing.T) {
	svc, root, remote := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, storage.TypeLocal, svc.Type())
	assert.Equal(t, "http://files.local", svc.ServerURL())

	res, err := svc.Upload(ctx, "photo.jpg", strings.NewReader("jpeg"), -1)
	require.NoError(t, err)
	assert.Equal(t, "http://files.local/file/"+res.FileKey, res.FilePath)

	stored := filepath.Join(root, filepath.FromSlash(res.FileKey))
	require.FileExists(t, stored)

	assert.True(t, svc.Delete(ctx, []string{res.FileKey}))
	assert.NoFileExists(t, stored)
	assert.Equal(t, []string{res.FilePath}, remote.forgotten)

	// already gone
	assert.True(t, svc.Delete(ctx, []string{res.FileKey}))
}

func TestServiceUploadFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	src := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b"), 0o644))

	res, err := svc.UploadFile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "report.csv", res.FileName)
	assert.True(t, strings.HasSuffix(res.FileKey, ".csv"))
}

func TestServiceUploadCredentialLocal(t *testing.T) {
	svc, _, _ := newTestService(t)

	cred, err := svc.UploadCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.Direct())
}

func TestServiceDeleteEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.True(t, svc.Delete(context.Background(), nil))
	assert.Empty(t, svc.DeleteDetailed(context.Background(), []string{}))
}

func TestServiceDeleteInvalidKey(t *testing.T) {
	svc, _, remote := newTestService(t)

	res := svc.DeleteDetailed(context.Background(), []string{"../etc/passwd", "ok.txt"})
	require.Len(t, res, 2)
	assert.ErrorIs(t, res[0].Err, storage.ErrInvalidKey)
	assert.NoError(t, res[1].Err)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"http://files.local/file/ok.txt"}, remote.forgotten, "only deleted keys are forgotten")
}

func TestServiceDeleteFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	path := filepath.Join(t.TempDir(), "tmp.bin")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o600))

	assert.True(t, svc.DeleteFile(path))
	assert.NoFileExists(t, path)
	assert.True(t, svc.DeleteFile(path), "missing file counts as deleted")
	assert.False(t, svc.DeleteFile(""))
}

func TestServiceOpenRemoteStream(t *testing.T) {
	svc, _, remote := newTestService(t)

	rc, err := svc.OpenRemoteStream(context.Background(), "https://cdn.example.com/a.txt")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(data))
	assert.Equal(t, []string{"https://cdn.example.com/a.txt"}, remote.urls)

	remote.err = errors.New("boom")
	_, err = svc.OpenRemoteStream(context.Background(), "https://cdn.example.com/b.txt")
	assert.Error(t, err)
}

func TestServiceDeleteEvictsCachedRemoteStream(t *testing.T) {
	root := t.TempDir()
	srv := httptest.NewServer(http.StripPrefix("/file/", http.FileServer(http.Dir(root))))
	defer srv.Close()

	p, err := drivers.New(storage.Config{
		Type:      storage.TypeLocal,
		ServerURL: srv.URL,
		Bucket:    storage.DefaultLocalSegment,
		RootPath:  root,
		KeyScheme: storage.SchemeRandom,
	}, logger.Discard())
	require.NoError(t, err)

	mc, err := cache.NewMemoryCache(cache.MemoryCacheConfig{Name: "fetch", MaxSize: 1 << 20, TTL: time.Hour}, logger.Discard())
	require.NoError(t, err)
	defer mc.Close()

	svc := NewService(p, fetch.New(srv.Client(), mc, 1024, logger.Discard()), logger.Discard())
	ctx := context.Background()

	res, err := svc.Upload(ctx, "secret.txt", strings.NewReader("secret"), 6)
	require.NoError(t, err)

	rc, err := svc.OpenRemoteStream(ctx, res.FilePath)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "secret", string(data))
	mc.Wait()

	require.True(t, svc.Delete(ctx, []string{res.FileKey}))

	_, err = svc.OpenRemoteStream(ctx, res.FilePath)
	assert.ErrorIs(t, err, storage.ErrBackendRead)
}
