// Package fetch opens remote objects by URL, typically objects previously
// stored through a provider's public filePath.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashko-guz/ferry/internal/cache"
	"github.com/sashko-guz/ferry/internal/storage"
)

// Remote is the backend name used in fetch errors and logs
const Remote storage.UploadType = "remote"

// Fetcher streams remote objects. Small bodies are kept in an optional
// memory cache once they have been read to the end.
type Fetcher struct {
	client  *http.Client
	cache   *cache.MemoryCache
	maxItem int64
	logger  *slog.Logger
}

// New returns a Fetcher. A nil cache disables caching; maxItem bounds the
// size of a body that may be cached.
func New(client *http.Client, c *cache.MemoryCache, maxItem int64, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, cache: c, maxItem: maxItem, logger: logger}
}

// Open starts a GET for rawURL and returns the body. The caller must close it.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, storage.Fail(f.logger, storage.ErrBackendRead, Remote, storage.OpFetch, stripQuery(rawURL), err)
	}
	logKey := redact(u)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, storage.Fail(f.logger, storage.ErrBackendRead, Remote, storage.OpFetch, logKey, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	key := cache.Key(u.String())
	if f.cache != nil {
		if data, ok := f.cache.Get(key); ok {
			f.logger.Debug("fetch cache hit", slog.String("url", logKey))
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, storage.Fail(f.logger, storage.ErrBackendRead, Remote, storage.OpFetch, logKey, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = logKey
		}
		return nil, storage.Fail(f.logger, storage.ErrBackendRead, Remote, storage.OpFetch, logKey, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, storage.Fail(f.logger, storage.ErrBackendRead, Remote, storage.OpFetch, logKey, fmt.Errorf("unexpected status %s", resp.Status))
	}

	if f.cache == nil || resp.ContentLength > f.maxItem {
		return resp.Body, nil
	}
	return &cachingBody{body: resp.Body, key: key, max: f.maxItem, cache: f.cache}, nil
}

// Forget drops any cached body for rawURL. Deleted objects call it so a
// later Open goes back to the origin.
func (f *Fetcher) Forget(rawURL string) {
	if f.cache == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	f.cache.Delete(cache.Key(u.String()))
}

// redact hides userinfo and drops the query, which carries signatures on
// presigned URLs.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	return c.Redacted()
}

func stripQuery(rawURL string) string {
	before, _, _ := strings.Cut(rawURL, "?")
	return before
}

// cachingBody copies what the caller reads and stores it once the body has
// been consumed completely within max bytes.
type cachingBody struct {
	body     io.ReadCloser
	key      string
	max      int64
	cache    *cache.MemoryCache
	buf      bytes.Buffer
	overflow bool
	stored   bool
}

func (c *cachingBody) Read(p []byte) (int, error) {
	n, err := c.body.Read(p)
	if n > 0 && !c.overflow {
		if int64(c.buf.Len()+n) > c.max {
			c.overflow = true
			c.buf = bytes.Buffer{}
		} else {
			c.buf.Write(p[:n])
		}
	}
	if errors.Is(err, io.EOF) && !c.overflow && !c.stored {
		c.stored = true
		c.cache.Set(c.key, bytes.Clone(c.buf.Bytes()))
	}
	return n, err
}

func (c *cachingBody) Close() error {
	return c.body.Close()
}
