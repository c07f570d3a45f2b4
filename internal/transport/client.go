// Package transport builds the HTTP clients used to reach storage backends
// and remote objects.
package transport

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashko-guz/ferry/internal/storage"
	"golang.org/x/net/http2"
)

// FetchConnectTimeout bounds connection setup when reading remote objects
const FetchConnectTimeout = 5 * time.Second

// NewClient creates an HTTP client with pooled connections and HTTP/2.
// A nil cfg uses the defaults.
func NewClient(cfg *storage.HTTPConfig, logger *slog.Logger) *http.Client {
	// Set sensible defaults if config is nil or values not specified
	maxIdleConns := 100
	maxIdleConnsPerHost := 100
	maxConnsPerHost := 0 // 0 = unlimited
	idleConnTimeout := 90
	connectTimeout := 10
	requestTimeout := 0 // uploads run to completion
	responseHeaderTimeout := 30

	if cfg != nil {
		if cfg.MaxIdleConns > 0 {
			maxIdleConns = cfg.MaxIdleConns
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			maxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.MaxConnsPerHost > 0 {
			maxConnsPerHost = cfg.MaxConnsPerHost
		}
		if cfg.IdleConnTimeout > 0 {
			idleConnTimeout = cfg.IdleConnTimeout
		}
		if cfg.ConnectTimeout > 0 {
			connectTimeout = cfg.ConnectTimeout
		}
		if cfg.RequestTimeout > 0 {
			requestTimeout = cfg.RequestTimeout
		}
		if cfg.ResponseHeaderTimeout > 0 {
			responseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
	}

	transport := newTransport(time.Duration(connectTimeout) * time.Second)
	transport.MaxIdleConns = maxIdleConns
	transport.MaxIdleConnsPerHost = maxIdleConnsPerHost
	transport.MaxConnsPerHost = maxConnsPerHost
	transport.IdleConnTimeout = time.Duration(idleConnTimeout) * time.Second
	transport.ResponseHeaderTimeout = time.Duration(responseHeaderTimeout) * time.Second

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", slog.Any("error", err))
	}

	logger.Debug("http client configured",
		slog.Int("max_idle_conns", maxIdleConns),
		slog.Int("max_idle_conns_per_host", maxIdleConnsPerHost),
		slog.Int("max_conns_per_host", maxConnsPerHost),
		slog.Int("connect_timeout_sec", connectTimeout),
		slog.Int("request_timeout_sec", requestTimeout),
	)

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(requestTimeout) * time.Second,
	}
}

// NewFetchClient creates the client used for remote stream retrieval: a short
// connect timeout and no overall deadline, so large bodies can stream out.
func NewFetchClient(logger *slog.Logger) *http.Client {
	transport := newTransport(FetchConnectTimeout)
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", slog.Any("error", err))
	}
	return &http.Client{Transport: transport}
}

// CloseIdle releases pooled connections held by c, if its transport allows it.
func CloseIdle(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}

func newDialer(connectTimeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           newDialer(connectTimeout).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}
