package drivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/sashko-guz/ferry/internal/storage"
)

type streamUploader func(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error)

// uploadPath opens path, hands it to upload and always closes it. Source
// file failures surface as ErrBackendWrite like any other upload failure.
func uploadPath(ctx context.Context, logger *slog.Logger, backend storage.UploadType, path string, upload streamUploader) (*storage.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storage.Fail(logger, storage.ErrBackendWrite, backend, storage.OpUpload, "", fmt.Errorf("open source file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, storage.Fail(logger, storage.ErrBackendWrite, backend, storage.OpUpload, "", fmt.Errorf("stat source file: %w", err))
	}
	if info.IsDir() {
		return nil, storage.Fail(logger, storage.ErrBackendWrite, backend, storage.OpUpload, "", fmt.Errorf("source %s is a directory", path))
	}

	return upload(ctx, filepath.Base(path), f, info.Size())
}

// spool copies r of unknown length into a temp file so SDKs that need a
// size or a seekable body can send it. The returned cleanup removes the file.
func spool(r io.Reader) (*os.File, int64, func(), error) {
	tmp, err := os.CreateTemp("", "ferry-spool-*")
	if err != nil {
		return nil, 0, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	return tmp, n, cleanup, nil
}

// sized makes sure r comes with a known length, spooling when necessary.
func sized(r io.Reader, size int64) (io.Reader, int64, func(), error) {
	if size >= 0 {
		return r, size, func() {}, nil
	}
	f, n, cleanup, err := spool(r)
	if err != nil {
		return nil, 0, nil, err
	}
	return f, n, cleanup, nil
}

func result(cfg storage.Config, bucketSegment, fileName, key string) *storage.UploadResult {
	return &storage.UploadResult{
		FileName: storage.BaseName(fileName),
		FileKey:  key,
		FilePath: storage.ComposeURL(cfg.ServerURL, bucketSegment, key),
	}
}

// seekable returns a ReadSeeker of known length for r, spooling when r is
// not seekable or its size is unknown.
func seekable(r io.Reader, size int64) (io.ReadSeeker, int64, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok && size >= 0 {
		return rs, size, func() {}, nil
	}
	f, n, cleanup, err := spool(r)
	if err != nil {
		return nil, 0, nil, err
	}
	return f, n, cleanup, nil
}

// contentType guesses the MIME type from the key extension.
func contentType(key string) string {
	if ct := mime.TypeByExtension(storage.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
