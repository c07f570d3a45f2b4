package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/transport"
)

const fastdfsStatusOK = "ok"

// FastDFS stores objects through a go-fastdfs HTTP gateway. Bucket names the
// group; the key is whatever path the gateway reports, group included.
type FastDFS struct {
	cfg    storage.Config
	keys   *storage.KeyGenerator
	logger *slog.Logger
	client func() *http.Client
}

func NewFastDFS(cfg storage.Config, logger *slog.Logger, opts ...Option) (*FastDFS, error) {
	o := buildOptions(opts)
	keys, err := cfg.Keys(o.keyOpts...)
	if err != nil {
		return nil, err
	}

	p := &FastDFS{cfg: cfg, keys: keys, logger: logger}
	p.client = func() *http.Client { return transport.NewClient(cfg.HTTP, logger) }
	logger.Info("fastdfs storage configured", slog.String("endpoint", p.endpoint()), slog.String("group", cfg.Bucket))
	return p, nil
}

func (p *FastDFS) Type() storage.UploadType { return storage.TypeFastDFS }

func (p *FastDFS) ServerURL() string { return p.cfg.ServerURL }

func (p *FastDFS) FilePath(key string) string {
	return storage.ComposeURL(p.cfg.ServerURL, "", key)
}

type fastdfsUploadResponse struct {
	Path    string `json:"path"`
	RetCode int    `json:"retcode"`
	RetMsg  string `json:"retmsg"`
}

type fastdfsDeleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UploadStream streams a multipart form to the gateway. The generated key
// only suggests directory and file name; the gateway decides the final key.
func (p *FastDFS) UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*storage.UploadResult, error) {
	suggested := p.keys.Generate(p.cfg.Prefix, fileName)

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, suggested, r))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.groupURL("upload"), pr)
	if err != nil {
		pr.Close()
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeFastDFS, storage.OpUpload, suggested, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out fastdfsUploadResponse
	err = p.do(req, &out)
	pr.Close()
	if err == nil && out.RetCode != 0 {
		err = fmt.Errorf("retcode %d: %s", out.RetCode, out.RetMsg)
	}
	if err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeFastDFS, storage.OpUpload, suggested, err)
	}

	key := strings.TrimPrefix(out.Path, "/")
	if err := storage.ValidateKey(key); err != nil {
		return nil, storage.Fail(p.logger, storage.ErrBackendWrite, storage.TypeFastDFS, storage.OpUpload, suggested, fmt.Errorf("gateway returned path %q: %w", out.Path, err))
	}

	p.logger.Debug("stored object", slog.String("key", key), slog.Int64("size", size))
	return result(p.cfg, "", fileName, key), nil
}

func writeUploadForm(form *multipart.Writer, key string, r io.Reader) error {
	if err := form.WriteField("output", "json"); err != nil {
		return err
	}
	if err := form.WriteField("path", path.Dir(key)); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", path.Base(key))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return form.Close()
}

func (p *FastDFS) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	return uploadPath(ctx, p.logger, storage.TypeFastDFS, path, p.UploadStream)
}

// IssueCredential reports that the gateway only accepts server mediated uploads.
func (p *FastDFS) IssueCredential(ctx context.Context) (*storage.Credential, error) {
	return storage.ServerMediated(storage.TypeFastDFS), nil
}

func (p *FastDFS) Delete(ctx context.Context, keys []string) storage.DeleteResult {
	d := storage.Deleter{Backend: storage.TypeFastDFS, Logger: p.logger}
	return d.Each(ctx, keys, func(ctx context.Context, key string) error {
		form := url.Values{"path": {"/" + key}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.groupURL("delete"), strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var out fastdfsDeleteResponse
		if err := p.do(req, &out); err != nil {
			return err
		}
		if out.Status == fastdfsStatusOK || strings.Contains(strings.ToLower(out.Message), "not found") {
			return nil
		}
		return fmt.Errorf("status %s: %s", out.Status, out.Message)
	})
}

func (p *FastDFS) do(req *http.Request, out any) error {
	client := p.client()
	defer transport.CloseIdle(client)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway responded %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func (p *FastDFS) endpoint() string {
	if p.cfg.Endpoint != "" {
		return strings.TrimRight(p.cfg.Endpoint, "/")
	}
	return p.cfg.ServerURL
}

func (p *FastDFS) groupURL(action string) string {
	return storage.ComposeURL(p.endpoint(), p.cfg.Bucket, action)
}
