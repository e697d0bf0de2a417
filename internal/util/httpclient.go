// Package util provides logging, shared HTTP clients and small helpers
package util

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"
)

// UserAgent is sent by every HTTP client and the browser session unless overridden
var UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var (
	sharedClient     *http.Client
	sharedClientOnce sync.Once
)

// httpClientConfig holds configuration for creating HTTP clients
type httpClientConfig struct {
	timeout             time.Duration
	maxIdleConns        int
	maxIdleConnsPerHost int
	idleConnTimeout     time.Duration
	tlsHandshakeTimeout time.Duration
	keepAlive           time.Duration
	dialTimeout         time.Duration
}

func defaultConfig() httpClientConfig {
	return httpClientConfig{
		timeout:             30 * time.Second,
		maxIdleConns:        50,
		maxIdleConnsPerHost: 10,
		idleConnTimeout:     90 * time.Second,
		tlsHandshakeTimeout: 10 * time.Second,
		keepAlive:           30 * time.Second,
		dialTimeout:         10 * time.Second,
	}
}

// createTransport creates an HTTP transport with the given config
func createTransport(cfg httpClientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.dialTimeout,
			KeepAlive: cfg.keepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.maxIdleConns,
		MaxIdleConnsPerHost: cfg.maxIdleConnsPerHost,
		IdleConnTimeout:     cfg.idleConnTimeout,
		TLSHandshakeTimeout: cfg.tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// GetSharedClient returns the shared HTTP client used for host pages and APIs.
func GetSharedClient() *http.Client {
	sharedClientOnce.Do(func() {
		cfg := defaultConfig()
		sharedClient = &http.Client{
			Transport: &DecodingTransport{Base: createTransport(cfg)},
			Timeout:   cfg.timeout,
		}
	})
	return sharedClient
}

// NewSessionClient returns a client with its own cookie jar. Hosts that hand out
// confirmation tokens through cookies need a fresh session per attempt so a
// retry never inherits a stale token.
func NewSessionClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{
		Jar:       jar,
		Transport: &DecodingTransport{Base: createTransport(defaultConfig())},
		Timeout:   timeout,
	}, nil
}

// NewTransferClient returns a client without an overall timeout for long
// streaming transfers; the context bounds the request instead.
func NewTransferClient() *http.Client {
	cfg := defaultConfig()
	cfg.idleConnTimeout = 10 * time.Minute
	return &http.Client{Transport: createTransport(cfg)}
}

// ForTransfer returns a copy of c that keeps its cookie jar and transport but
// drops the overall timeout, which would otherwise cut off a long body read.
func ForTransfer(c *http.Client) *http.Client {
	if c == nil || c.Timeout == 0 {
		return c
	}
	cp := *c
	cp.Timeout = 0
	return &cp
}

// DecodingTransport asks for brotli/gzip bodies and transparently decodes
// brotli, which net/http does not handle on its own.
type DecodingTransport struct {
	Base http.RoundTripper
}

func (t *DecodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br")
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		resp.Body = &brotliBody{Reader: brotli.NewReader(resp.Body), closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return resp, nil
}

type brotliBody struct {
	io.Reader
	closer io.Closer
}

func (b *brotliBody) Close() error { return b.closer.Close() }

// DecorateRequest applies the default browser-like headers to req.
func DecorateRequest(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
}
