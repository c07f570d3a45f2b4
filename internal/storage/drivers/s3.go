package drivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/transport"
)

const (
	s3DefaultRegion  = "us-east-1"
	s3DeleteBatchMax = 1000
	s3CodeNoSuchKey  = "NoSuchKey"
)

// s3Session is the part of the S3 API the driver uses.
type s3Session interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	Close()
}

// S3 talks to AWS S3 or any S3 compatible endpoint.
type S3 struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	now    func() time.Time
	logger *slog.Logger
	open   func(ctx context.Context) (s3Session, error)
}

func NewS3(cfg storage.Config, logger *slog.Logger, opts ...Option) (*S3, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = s3DefaultRegion
	}

	p := &S3{cfg: cfg, keys: keys, now: o.now, logger: logger}
	p.open = p.dial

	if cfg.Endpoint != "" {
		logger.Info("S3-compatible storage configured", slog.String("endpoint", cfg.Endpoint), slog.String("bucket", cfg.Bucket), slog.String("region", cfg.Region))
	} else {
		logger.Info("AWS S3 storage configured", slog.String("bucket", cfg.Bucket), slog.String("region", cfg.Region))
	}
	return p, nil
}

func (p *S3) Type() storage.UploadType { return storage.TypeS3 }

func (p *S3) ServerURL() string { return p.cfg.ServerURL }

func (p *S3) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, p.cfg.Bucket, key)
}

func (p *S3) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	key := p.keys.Generate(p.cfg.Prefix, fileName)

	body, n, cleanup, err := seekable(r, size)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeS3, storage.OpUpload, key, err)
	}
	defer cleanup()

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeS3, storage.OpUpload, key, err)
	}
	defer sess.Close()

	_, err = sess.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(n),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeS3, storage.OpUpload, key, err)
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", n))
	return result(p.cfg, p.cfg.Bucket, fileName, key), nil
}

func (p *S3) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeS3, path, p.UploadStream)
}

// IssueCredential presigns a PUT for a fresh key.
func (p *S3) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	key := p.keys.Generate(p.cfg.Prefix, "")
	expiresAt := p.now().Add(storage.CredentialTTL)

	sess, err := p.open(ctx)
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeS3, storage.OpCredential, key, err)
	}
	defer sess.Close()

	req, err := sess.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(storage.CredentialTTL))
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrCredentialIssuance, storage.TypeS3, storage.OpCredential, key, err)
	}

	return &storage.Credential{
		UploadType: storage.TypeS3,
		Method:     storage.MethodPresignedURL,
		ServerURL:  req.URL,
		Bucket:     p.cfg.Bucket,
		FileKey:    key,
		FilePath:   storage.ComposeURL(p.cfg.ServerURL, p.cfg.Bucket, key),
		ExpiresAt:  expiresAt,
	}, nil
}

func (p *S3) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeS3, Logger: p.logger}

	sess, err := p.open(ctx)
	if err != nil {
		return d.Batches(ctx, keys, 0, func(context.Context, []string) (map[string]error, error) {
			return nil, err
		})
	}
	defer sess.Close()

	return d.Batches(ctx, keys, s3DeleteBatchMax, func(ctx context.Context, batch []string) (map[string]error, error) {
		objects := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		out, err := sess.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.cfg.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		if err != nil {
			return nil, err
		}

		reported := make(map[string]struct{}, len(out.Deleted))
		for _, obj := range out.Deleted {
			reported[aws.ToString(obj.Key)] = struct{}{}
		}
		failures := make(map[string]error)
		for _, e := range out.Errors {
			key := aws.ToString(e.Key)
			if aws.ToString(e.Code) == s3CodeNoSuchKey {
				reported[key] = struct{}{}
				continue
			}
			failures[key] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
		}
		return storage.MissingFromBatch(batch, reported, failures), nil
	})
}

// dial builds a client for a single call. With an Endpoint the S3-compatible
// path is used to avoid AWS-specific credential resolution.
func (p *S3) dial(ctx context.Context) (s3Session, error) {
	httpClient := transport.NewClient(p.cfg.HTTP, p.logger)

	var client *s3.Client
	if p.cfg.Endpoint != "" {
		client = s3.New(s3.Options{
			Region:       p.cfg.Region,
			Credentials:  credentials.NewStaticCredentialsProvider(p.cfg.AccessKey, p.cfg.SecretKey, ""),
			BaseEndpoint: aws.String(p.cfg.Endpoint),
			UsePathStyle: true,
			HTTPClient:   httpClient,
		})
	} else {
		configOpts := []func(*config.LoadOptions) error{
			config.WithRegion(p.cfg.Region),
			config.WithHTTPClient(httpClient),
		}
		if p.cfg.AccessKey != "" && p.cfg.SecretKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(p.cfg.AccessKey, p.cfg.SecretKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			transport.CloseIdle(httpClient)
			return nil, err
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &s3Conn{Client: client, presign: s3.NewPresignClient(client), http: httpClient}, nil
}

type s3Conn struct {
	*s3.Client
	presign *s3.PresignClient
	http    *http.Client
}

func (c *s3Conn) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return c.presign.PresignPutObject(ctx, in, optFns...)
}

func (c *s3Conn) Close() { transport.CloseIdle(c.http) }
