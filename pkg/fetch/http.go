package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/logger"
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	RequestTimeout      time.Duration
	DialTimeout         time.Duration
	MaxIdleConnsPerHost int
	EnableHTTP2         bool
}

// HTTPFetcher downloads shards with HTTP GET.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// NewHTTPFetcherWithClient wraps an existing client.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (h *HTTPFetcher) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, transportError(err, location, "invalid request")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, transportError(err, location, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := errors.Newf(errors.ErrorTypeTransport, "unexpected status %d", resp.StatusCode).
			WithDetail("location", location).
			WithDetail("status", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			e = e.WithDetail("permanent", true)
		}
		return nil, e
	}

	data, err := readAll(resp.Body, resp.ContentLength, progress)
	if err != nil {
		return nil, transportError(err, location, "reading response body")
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, transportError(
			fmt.Errorf("short body: got %d of %d bytes", len(data), resp.ContentLength),
			location, "reading response body")
	}
	return data, nil
}
