// Package upload is the application facing entry point: it hides which
// storage backend is active behind a handful of calls.
package upload

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sashko-guz/ferry/internal/storage"
)

// Opener opens a remote object by URL. Forget drops anything it keeps for
// url, and is called once the object behind url has been deleted.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
	Forget(url string)
}

type Service struct {
	provider storage.Provider
	remote   Opener
	logger   *slog.Logger
}

func NewService(provider storage.Provider, remote Opener, logger *slog.Logger) *Service {
	return &Service{provider: provider, remote: remote, logger: logger}
}

// Type reports the active backend
func (s *Service) Type() storage.UploadType {
	return s.provider.Type()
}

func (s *Service) ServerURL() string {
	return s.provider.ServerURL()
}

// UploadCredential returns a direct upload credential, or a server mediated
// marker when the backend has no direct upload.
func (s *Service) UploadCredential(ctx context.Context) (*storage.Credential, error) {
	return s.provider.IssueCredential(ctx)
}

// Upload stores r. size is -1 when unknown.
func (s *Service) Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	return s.provider.UploadStream(ctx, fileName, r, size)
}

// UploadFile stores the content of a file on local disk.
func (s *Service) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return s.provider.UploadFile(ctx, path)
}

// OpenRemoteStream opens url for reading. The caller closes the stream.
func (s *Service) OpenRemoteStream(ctx context.Context, url string) (io.ReadCloser, error) {
	return s.remote.Open(ctx, url)
}

// DeleteFile removes a file from local disk regardless of the active
// backend. A file that is already gone counts as deleted.
func (s *Service) DeleteFile(path string) bool {
	if path == "" {
		return false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("failed to delete local file", slog.String("path", path), slog.Any("error", err))
		return false
	}
	return true
}

// Delete removes keys from the active backend and reports whether every
// key is gone. An empty set is trivially successful.
func (s *Service) Delete(ctx context.Context, keys []string) bool {
	return s.DeleteDetailed(ctx, keys).OK()
}

// DeleteDetailed is Delete with one outcome per distinct key.
func (s *Service) DeleteDetailed(ctx context.Context, keys []string) storage.DeleteResult {
	if len(keys) == 0 {
		return storage.DeleteResult{}
	}

	result := s.provider.Delete(ctx, keys)
	if s.remote != nil {
		for _, o := range result {
			if o.Err == nil {
				s.remote.Forget(s.provider.FilePath(o.Key))
			}
		}
	}
	return result
}
