package drivers

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

func testClock() time.Time { return testNow }

// onlyReader hides any Seek method so drivers see a plain stream.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestSpoolCopiesAndCleansUp(t *testing.T) {
	f, n, cleanup, err := spool(onlyReader{bytes.NewReader([]byte("spooled"))})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "spooled", string(data))

	name := f.Name()
	cleanup()
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestSizedPassesKnownLength(t *testing.T) {
	src := onlyReader{bytes.NewReader([]byte("abc"))}
	r, n, cleanup, err := sized(src, 3)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, int64(3), n)
	assert.Equal(t, src, r)
}

func TestSeekableSpoolsPlainStreams(t *testing.T) {
	rs, n, cleanup, err := seekable(onlyReader{bytes.NewReader([]byte("abcd"))}, 4)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, int64(4), n)
	_, isFile := rs.(*os.File)
	assert.True(t, isFile)

	br := bytes.NewReader([]byte("xy"))
	rs, _, cleanup2, err := seekable(br, 2)
	require.NoError(t, err)
	defer cleanup2()
	assert.Same(t, br, rs)
}

func TestUploadPathRejectsDirectories(t *testing.T) {
	_, err := uploadPath(t.Context(), logger.Discard(), storage.TypeLocal, t.TempDir(), func(context.Context, string, io.Reader, int64) (*storage.UploadResult, error) {
		t.Fatal("must not upload a directory")
		return nil, nil
	})
	assert.ErrorIs(t, err, storage.ErrBackendWrite)

	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storage.TypeLocal, serr.Backend)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", contentType("a/b.pdf"))
	assert.Equal(t, "application/octet-stream", contentType("a/b"))
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
