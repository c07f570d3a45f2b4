package drivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/transport"
	"github.com/tencentyun/cos-go-sdk-v5"
)

const (
	cosDeleteBatchMax = 1000
	cosCodeNoSuchKey  = "NoSuchKey"
)

// cosSession narrows the COS object service to what the driver uses.
type cosSession interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteMulti(ctx context.Context, keys []string) (deleted []string, failed []cosDeleteError, err error)
	Close()
}

type cosDeleteError struct {
	Key, Code, Message string
}

// COS talks to Tencent Cloud Object Storage. Bucket is the full
// "<name>-<appid>" bucket id.
type COS struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	now    func() time.Time
	logger *slog.Logger
	open   func(ctx context.Context) (cosSession, error)
}

func NewCOS(cfg storage.Config, logger *slog.Logger, opts ...Option) (*COS, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}
	if _, err := cos.NewBucketURL(cfg.Bucket, cfg.Region, true); err != nil {
		return nil, fmt.Errorf("%w: cos bucket url: %v", storage.ErrConfiguration, err)
	}

	p := &COS{cfg: cfg, keys: keys, now: o.now, logger: logger}
	p.open = p.dial
	logger.Info("cos storage configured", slog.String("bucket", cfg.Bucket), slog.String("region", cfg.Region))
	return p, nil
}

func (p *COS) Type() storage.UploadType { return storage.TypeCOS }

func (p *COS) ServerURL() string { return p.cfg.ServerURL }

func (p *COS) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, "", key)
}

func (p *COS) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := p.keys.Generate(p.cfg.Prefix, fileName)

	body, n, cleanup, err := sized(r, size)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeCOS, storage.OpUpload, key, err)
	}
	defer cleanup()

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeCOS, storage.OpUpload, key, err)
	}
	defer sess.Close()

	if err := sess.Put(ctx, key, body, n); err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeCOS, storage.OpUpload, key, err)
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", n))
	return result(p.cfg, "", fileName, key), nil
}

func (p *COS) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeCOS, path, p.UploadStream)
}

func (p *COS) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	key := p.keys.Generate(p.cfg.Prefix, "")
	expiresAt := p.now().Add(storage.CredentialTTL)

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeCOS, storage.OpCredential, key, err)
	}
	defer sess.Close()

	signed, err := sess.PresignPut(ctx, key, storage.CredentialTTL)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeCOS, storage.OpCredential, key, err)
	}

	return &storage.Credential{
		UploadType: storage.TypeCOS,
		Method:     storage.MethodPresignedURL,
		ServerURL:  signed,
		FileKey:    key,
		FilePath:   storage.ComposeURL(p.cfg.ServerURL, "", key),
		ExpiresAt:  expiresAt,
	}, nil
}

func (p *COS) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeCOS, Logger: p.logger}

	sess, err := p.open(ctx)
	if err != nil {
		return d.Batches(ctx, keys, 0, func(context.Context, []string) (map[string]error, error) {
			return nil, err
		})
	}
	defer sess.Close()

	return d.Batches(ctx, keys, cosDeleteBatchMax, func(ctx context.Context, batch []string) (map[string]error, error) {
		deleted, failed, err := sess.DeleteMulti(ctx, batch)
		if err != nil {
			return nil, err
		}

		reported := make(map[string]struct{}, len(deleted))
		for _, key := range deleted {
			reported[key] = struct{}{}
		}
		failures := make(map[string]error)
		for _, e := range failed {
			if e.Code == cosCodeNoSuchKey {
				reported[e.Key] = struct{}{}
				continue
			}
			failures[e.Key] = fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return storage.MissingFromBatch(batch, reported, failures), nil
	})
}

func (p *COS) dial(ctx context.Context) (cosSession, error) {
	u, err := cos.NewBucketURL(p.cfg.Bucket, p.cfg.Region, true)
	if err != nil {
		return nil, err
	}

	base := transport.NewClient(p.cfg.HTTP, p.logger)
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: base.Timeout,
		Transport: &cos.AuthorizationTransport{
			SecretID:  p.cfg.AccessKey,
			SecretKey: p.cfg.SecretKey,
			Transport: base.Transport,
		},
	})
	return &cosConn{client: client, base: base, ak: p.cfg.AccessKey, sk: p.cfg.SecretKey}, nil
}

type cosConn struct {
	client *cos.Client
	base   *http.Client
	ak, sk string
}

func (c *cosConn) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := c.client.Object.Put(ctx, key, r, &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType(key),
			ContentLength: size,
		},
	})
	return err
}

func (c *cosConn) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := c.client.Object.GetPresignedURL(ctx, http.MethodPut, key, c.ak, c.sk, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *cosConn) DeleteMulti(ctx context.Context, keys []string) ([]string, []cosDeleteError, error) {
	objects := make([]cos.Object, len(keys))
	for i, key := range keys {
		objects[i] = cos.Object{Key: key}
	}
	res, _, err := c.client.Object.DeleteMulti(ctx, &cos.ObjectDeleteMultiOptions{
		Quiet:   false,
		Objects: objects,
	})
	if err != nil {
		return nil, nil, err
	}

	deleted := make([]string, 0, len(res.DeletedObjects))
	for _, obj := range res.DeletedObjects {
		deleted = append(deleted, obj.Key)
	}
	failed := make([]cosDeleteError, 0, len(res.Errors))
	for _, e := range res.Errors {
		failed = append(failed, cosDeleteError{Key: e.Key, Code: e.Code, Message: e.Message})
	}
	return deleted, failed, nil
}

func (c *cosConn) Close() { transport.CloseIdle(c.base) }
