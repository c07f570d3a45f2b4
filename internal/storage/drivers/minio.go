package drivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/transport"
)

// minioSession is the part of *minio.Client the driver uses.
type minioSession interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedPutObject(ctx context.Context, bucket, key string, expires time.Duration) (*url.URL, error)
	RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	Close()
}

// Minio talks to a MinIO server. ServerURL doubles as the API endpoint
// unless Endpoint is set.
type Minio struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	now    func() time.Time
	logger *slog.Logger
	open   func(ctx context.Context) (minioSession, error)
}

func NewMinio(cfg storage.Config, logger *slog.Logger, opts ...Option) (*Minio, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}
	if _, _, err := minioEndpoint(cfg); err != nil {
		return nil, err
	}

	p := &Minio{cfg: cfg, keys: keys, now: o.now, logger: logger}
	p.open = p.dial
	logger.Info("minio storage configured", slog.String("bucket", cfg.Bucket))
	return p, nil
}

func (p *Minio) Type() storage.UploadType { return storage.TypeMinio }

func (p *Minio) ServerURL() string { return p.cfg.ServerURL }

func (p *Minio) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, p.cfg.Bucket, key)
}

// UploadStream passes size straight through; minio-go buffers when it is -1.
func (p *Minio) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := p.keys.Generate(p.cfg.Prefix, fileName)

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeMinio, storage.OpUpload, key, err)
	}
	defer sess.Close()

	info, err := sess.PutObject(ctx, p.cfg.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeMinio, storage.OpUpload, key, err)
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", info.Size))
	return result(p.cfg, p.cfg.Bucket, fileName, key), nil
}

func (p *Minio) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeMinio, path, p.UploadStream)
}

func (p *Minio) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	key := p.keys.Generate(p.cfg.Prefix, "")
	expiresAt := p.now().Add(storage.CredentialTTL)

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeMinio, storage.OpCredential, key, err)
	}
	defer sess.Close()

	u, err := sess.PresignedPutObject(ctx, p.cfg.Bucket, key, storage.CredentialTTL)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeMinio, storage.OpCredential, key, err)
	}

	return &storage.Credential{
		UploadType: storage.TypeMinio,
		Method:     storage.MethodPresignedURL,
		ServerURL:  u.String(),
		Bucket:     p.cfg.Bucket,
		FileKey:    key,
		FilePath:   storage.ComposeURL(p.cfg.ServerURL, p.cfg.Bucket, key),
		ExpiresAt:  expiresAt,
	}, nil
}

// Delete sends every key through one RemoveObjects stream; minio-go splits
// it into multi-object requests and reports only failures.
func (p *Minio) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeMinio, Logger: p.logger}

	sess, err := p.open(ctx)
	if err != nil {
		return d.Batches(ctx, keys, 0, func(context.Context, []string) (map[string]error, error) {
			return nil, err
		})
	}
	defer sess.Close()

	return d.Batches(ctx, keys, 0, func(ctx context.Context, batch []string) (map[string]error, error) {
		objects := make(chan minio.ObjectInfo, len(batch))
		for _, key := range batch {
			objects <- minio.ObjectInfo{Key: key}
		}
		close(objects)

		failures := make(map[string]error)
		for e := range sess.RemoveObjects(ctx, p.cfg.Bucket, objects, minio.RemoveObjectsOptions{}) {
			if e.Err == nil {
				continue
			}
			if minio.ToErrorResponse(e.Err).Code == s3CodeNoSuchKey {
				continue
			}
			failures[e.ObjectName] = e.Err
		}
		return failures, ctx.Err()
	})
}

func (p *Minio) dial(ctx context.Context) (minioSession, error) {
	host, secure, err := minioEndpoint(p.cfg)
	if err != nil {
		return nil, err
	}

	httpClient := transport.NewClient(p.cfg.HTTP, p.logger)
	client, err := minio.New(host, &minio.Options{
		Creds:     credentials.NewStaticV4(p.cfg.AccessKey, p.cfg.SecretKey, ""),
		Secure:    secure,
		Region:    p.cfg.Region,
		Transport: httpClient.Transport,
	})
	if err != nil {
		transport.CloseIdle(httpClient)
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioConn{Client: client, http: httpClient}, nil
}

// minioEndpoint splits the API URL into the host and TLS flag minio.New wants.
func minioEndpoint(cfg storage.Config) (string, bool, error) {
	raw := cfg.Endpoint
	if raw == "" {
		raw = cfg.ServerURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("%w: minio endpoint %q must be an absolute URL", storage.ErrConfiguration, raw)
	}
	return u.Host, u.Scheme == "https", nil
}

type minioConn struct {
	*minio.Client
	http *http.Client
}

func (c *minioConn) Close() { transport.CloseIdle(c.http) }
