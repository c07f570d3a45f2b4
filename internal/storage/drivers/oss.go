package drivers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/transport"
)

const (
	ossDeleteBatchMax = 1000
	// ossMaxPostSize is the content-length-range upper bound put in POST policies
	ossMaxPostSize = 1048576000
	ossTimeFormat  = "2006-01-02T15:04:05.000Z"
)

// ossSession is the part of *oss.Bucket the driver uses.
type ossSession interface {
	PutObject(key string, r io.Reader, options ...oss.Option) error
	DeleteObjects(keys []string, options ...oss.Option) (oss.DeleteObjectsResult, error)
	Close()
}

// OSS talks to Aliyun Object Storage. Region holds the API endpoint
// (for example oss-cn-hangzhou.aliyuncs.com) unless Endpoint is set.
type OSS struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	now    func() time.Time
	logger *slog.Logger
	open   func(ctx context.Context) (ossSession, error)
}

func NewOSS(cfg storage.Config, logger *slog.Logger, opts ...Option) (*OSS, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}

	p := &OSS{cfg: cfg, keys: keys, now: o.now, logger: logger}
	p.open = p.dial
	logger.Info("oss storage configured", slog.String("endpoint", p.endpoint()), slog.String("bucket", cfg.Bucket))
	return p, nil
}

func (p *OSS) Type() storage.UploadType { return storage.TypeOSS }

func (p *OSS) ServerURL() string { return p.cfg.ServerURL }

func (p *OSS) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, "", key)
}

func (p *OSS) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := p.keys.Generate(p.cfg.Prefix, fileName)

	body, n, cleanup, err := sized(r, size)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeOSS, storage.OpUpload, key, err)
	}
	defer cleanup()

	bucket, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeOSS, storage.OpUpload, key, err)
	}
	defer bucket.Close()

	err = bucket.PutObject(key, body,
		oss.WithContext(ctx),
		oss.ContentLength(n),
		oss.ContentType(contentType(key)),
	)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeOSS, storage.OpUpload, key, err)
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", n))
	return result(p.cfg, "", fileName, key), nil
}

func (p *OSS) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeOSS, path, p.UploadStream)
}

// IssueCredential builds and signs a browser POST policy bound to a fresh key.
// No backend call is made.
func (p *OSS) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	key := p.keys.Generate(p.cfg.Prefix, "")
	expiresAt := p.now().Add(storage.CredentialTTL)

	policy, signature, err := signPostPolicy(p.cfg.SecretKey, key, expiresAt)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeOSS, storage.OpCredential, key, err)
	}

	return &storage.Credential{
		UploadType: storage.TypeOSS,
		Method:     storage.MethodPostPolicy,
		ServerURL:  p.cfg.ServerURL,
		AccessKey:  p.cfg.AccessKey,
		FileKey:    key,
		Policy:     policy,
		Signature:  signature,
		FilePath:   storage.ComposeURL(p.cfg.ServerURL, "", key),
		ExpiresAt:  expiresAt,
	}, nil
}

func (p *OSS) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeOSS, Logger: p.logger}

	bucket, err := p.open(ctx)
	if err != nil {
		return d.Batches(ctx, keys, 0, func(context.Context, []string) (map[string]error, error) {
			return nil, err
		})
	}
	defer bucket.Close()

	return d.Batches(ctx, keys, ossDeleteBatchMax, func(ctx context.Context, batch []string) (map[string]error, error) {
		res, err := bucket.DeleteObjects(batch, oss.DeleteObjectsQuiet(false), oss.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		reported := make(map[string]struct{}, len(res.DeletedObjects))
		for _, key := range res.DeletedObjects {
			reported[key] = struct{}{}
		}
		return storage.MissingFromBatch(batch, reported, nil), nil
	})
}

func (p *OSS) endpoint() string {
	if p.cfg.Endpoint != "" {
		return p.cfg.Endpoint
	}
	return p.cfg.Region
}

func (p *OSS) dial(ctx context.Context) (ossSession, error) {
	httpClient := transport.NewClient(p.cfg.HTTP, p.logger)

	client, err := oss.New(p.endpoint(), p.cfg.AccessKey, p.cfg.SecretKey, oss.HTTPClient(httpClient))
	if err != nil {
		transport.CloseIdle(httpClient)
		return nil, err
	}
	bucket, err := client.Bucket(p.cfg.Bucket)
	if err != nil {
		transport.CloseIdle(httpClient)
		return nil, err
	}
	return &ossConn{Bucket: bucket, http: httpClient}, nil
}

type ossConn struct {
	*oss.Bucket
	http *http.Client
}

func (c *ossConn) Close() { transport.CloseIdle(c.http) }

// signPostPolicy returns the base64 policy document and its HMAC-SHA1
// signature. The policy limits size and pins the object key.
func signPostPolicy(secret, key string, expiresAt time.Time) (string, string, error) {
	doc := map[string]any{
		"expiration": expiresAt.UTC().Format(ossTimeFormat),
		"conditions": []any{
			[]any{"content-length-range", 0, ossMaxPostSize},
			[]any{"eq", "$key", key},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", "", err
	}

	policy := base64.StdEncoding.EncodeToString(raw)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(policy))
	return policy, base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

