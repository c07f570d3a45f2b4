package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashko-guz/ferry/internal/storage"
	"golang.org/x/sync/singleflight"
)

// createdDirsSize bounds the memo of directories known to exist
const createdDirsSize = 4096

// Local stores objects on the local filesystem under RootPath and serves
// them as serverURL/<bucket segment>/<key>.
type Local struct {
	cfg    storage.Config
	root   string
	keys   *storage.KeyGenerator
	dirs   *lru.Cache[string, struct{}]
	mkdir  singleflight.Group
	logger *slog.Logger
}

func NewLocal(cfg storage.Config, logger *slog.Logger, opts ...Option) (*Local, error) {
	o := buildOptions(opts)

	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root path: %v", storage.ErrConfiguration, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root path: %v", storage.ErrConfiguration, err)
	}

	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}

	dirs, err := lru.New[string, struct{}](createdDirsSize)
	if err != nil {
		return nil, err
	}

	logger.Info("local storage initialized", slog.String("root", root), slog.String("key_scheme", string(keys.Scheme())))
	return &Local{cfg: cfg, root: root, keys: keys, dirs: dirs, logger: logger}, nil
}

func (l *Local) Type() storage.UploadType { return storage.TypeLocal }

func (l *Local) ServerURL() string { return l.cfg.ServerURL }

func (l *Local) FilePath(key string) string {
	return storage.ComposeURL(l.cfg.ServerURL, l.cfg.Bucket, key)
}

func (l *Local) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := l.keys.Generate(l.cfg.Prefix, fileName)
	full, err := l.resolve(key)
	if err != nil {
		return nil, storage.Fail(l.logger, storage.ErrKeyGeneration, storage.TypeLocal, storage.OpUpload, key, err)
	}

	if err := l.write(ctx, full, r); err != nil {
		return nil, storage.Fail(l.logger, storage.ErrBackendWrite, storage.TypeLocal, storage.OpUpload, key, err)
	}

	l.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", size))
	return result(l.cfg, l.cfg.Bucket, fileName, key), nil
}

func (l *Local) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, l.logger, storage.TypeLocal, path, l.UploadStream)
}

// IssueCredential reports that local storage only accepts server mediated uploads.
func (l *Local) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	return storage.ServerMediated(storage.TypeLocal), nil
}

func (l *Local) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeLocal, Logger: l.logger}
	return d.Each(ctx, keys, func(ctx context.Context, key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		full, err := l.resolve(key)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// write copies r into a temp file next to full and renames it into place,
// so a failed copy never leaves a partial object behind.
func (l *Local) write(ctx context.Context, full string, r io.Reader) error {
	dir := filepath.Dir(full)
	if err := l.ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if errors.Is(err, fs.ErrNotExist) {
		// directory removed behind our back
		l.dirs.Remove(dir)
		if err = l.ensureDir(dir); err == nil {
			tmp, err = os.CreateTemp(dir, ".upload-*")
		}
	}
	if err != nil {
		return err
	}

	_, err = io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), full)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (l *Local) ensureDir(dir string) error {
	if l.dirs.Contains(dir) {
		return nil
	}
	_, err, _ := l.mkdir.Do(dir, func() (any, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		l.dirs.Add(dir, struct{}{})
		return nil, nil
	})
	return err
}

// resolve maps key to an absolute path under the root, rejecting anything
// that would land outside it.
func (l *Local) resolve(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}

	cleanPath := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
		return "", fmt.Errorf("%w: absolute paths and parent references not allowed", storage.ErrInvalidKey)
	}

	full := filepath.Join(l.root, cleanPath)
	rootWithSep := l.root
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}
	if !strings.HasPrefix(full, rootWithSep) {
		return "", fmt.Errorf("%w: directory traversal detected", storage.ErrInvalidKey)
	}
	return full, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
