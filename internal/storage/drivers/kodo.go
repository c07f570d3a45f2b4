package drivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qiniu/go-sdk/v7/auth/qbox"
	qstorage "github.com/qiniu/go-sdk/v7/storage"
	"github.com/sashko-guz/ferry/internal/storage"
)

const (
	kodoDeleteBatchMax = 1000
	kodoCodeOK         = 200
	kodoCodeNoSuchFile = 612
)

// kodoOpResult is one entry of a batch response, in request order.
type kodoOpResult struct {
	Code  int
	Error string
}

// kodoSession narrows the Qiniu uploader and bucket manager.
type kodoSession interface {
	Put(ctx context.Context, token, key string, r io.Reader, size int64) error
	Batch(ctx context.Context, ops []string) ([]kodoOpResult, error)
}

// Kodo talks to Qiniu Kodo. Region is the upload host handed to clients
// with each credential.
type Kodo struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	mac    *qbox.Mac
	now    func() time.Time
	logger *slog.Logger
	open   func(ctx context.Context) kodoSession
}

func NewKodo(cfg storage.Config, logger *slog.Logger, opts ...Option) (*Kodo, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}

	p := &Kodo{
		cfg:    cfg,
		keys:   keys,
		mac:    qbox.NewMac(cfg.AccessKey, cfg.SecretKey),
		now:    o.now,
		logger: logger,
	}
	p.open = p.dial
	logger.Info("kodo storage configured", slog.String("bucket", cfg.Bucket), slog.String("upload_host", cfg.Region))
	return p, nil
}

func (p *Kodo) Type() storage.UploadType { return storage.TypeKodo }

func (p *Kodo) ServerURL() string { return p.cfg.ServerURL }

func (p *Kodo) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, "", key)
}

func (p *Kodo) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := p.keys.Generate(p.cfg.Prefix, fileName)

	body, n, cleanup, err := sized(r, size)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeKodo, storage.OpUpload, key, err)
	}
	defer cleanup()

	if err := p.open(ctx).Put(ctx, p.token(key), key, body, n); err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeKodo, storage.OpUpload, key, err)
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", n))
	return result(p.cfg, "", fileName, key), nil
}

func (p *Kodo) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeKodo, path, p.UploadStream)
}

// IssueCredential signs an upload token scoped to a fresh key. ServerURL
// carries the upload host rather than the public base.
func (p *Kodo) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	key := p.keys.Generate(p.cfg.Prefix, "")
	expiresAt := p.now().Add(storage.CredentialTTL)

	return &storage.Credential{
		UploadType: storage.TypeKodo,
		Method:     storage.MethodUploadToken,
		ServerURL:  p.cfg.Region,
		FileKey:    key,
		Token:      p.token(key),
		FilePath:   storage.ComposeURL(p.cfg.ServerURL, "", key),
		ExpiresAt:  expiresAt,
	}, nil
}

func (p *Kodo) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeKodo, Logger: p.logger}
	sess := p.open(ctx)

	return d.Batches(ctx, keys, kodoDeleteBatchMax, func(ctx context.Context, batch []string) (map[string]error, error) {
		ops := make([]string, len(batch))
		for i, key := range batch {
			ops[i] = qstorage.URIDelete(p.cfg.Bucket, key)
		}

		rets, err := sess.Batch(ctx, ops)
		if err != nil {
			return nil, err
		}
		if len(rets) != len(batch) {
			return nil, fmt.Errorf("batch returned %d results for %d operations", len(rets), len(batch))
		}

		failures := make(map[string]error)
		for i, ret := range rets {
			switch ret.Code {
			case kodoCodeOK, kodoCodeNoSuchFile:
			default:
				failures[batch[i]] = fmt.Errorf("code %d: %s", ret.Code, ret.Error)
			}
		}
		return failures, nil
	})
}

func (p *Kodo) token(key string) string {
	policy := qstorage.PutPolicy{
		Scope:   p.cfg.Bucket + ":" + key,
		Expires: uint64(storage.CredentialTTL / time.Second),
	}
	return policy.UploadToken(p.mac)
}

func (p *Kodo) dial(ctx context.Context) kodoSession {
	cfg := qstorage.Config{UseHTTPS: !strings.HasPrefix(p.cfg.Region, "http://")}
	return &kodoConn{
		uploader: qstorage.NewFormUploader(&cfg),
		manager:  qstorage.NewBucketManager(p.mac, &cfg),
	}
}

type kodoConn struct {
	uploader *qstorage.FormUploader
	manager  *qstorage.BucketManager
}

func (c *kodoConn) Put(ctx context.Context, token, key string, r io.Reader, size int64) error {
	var ret qstorage.PutRet
	return c.uploader.Put(ctx, &ret, token, key, r, size, &qstorage.PutExtra{})
}

func (c *kodoConn) Batch(ctx context.Context, ops []string) ([]kodoOpResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rets, err := c.manager.Batch(ops)
	if err != nil && len(rets) == 0 {
		return nil, err
	}

	out := make([]kodoOpResult, len(rets))
	for i, ret := range rets {
		out[i] = kodoOpResult{Code: ret.Code, Error: ret.Data.Error}
	}
	return out, nil
}

