// Package fetch downloads shard payloads from the locations named in a
// dataset descriptor.
//
// A location is a URL whose scheme selects the transport:
//
//	http://, https://   plain HTTP GET (HTTP/2 when enabled)
//	file://, bare path  local filesystem
//	s3://bucket/key     AWS S3 (or an S3-compatible endpoint)
//	minio://bucket/key  MinIO at the configured endpoint
//	gs://bucket/object  Google Cloud Storage
//
// Every failure is returned as an errors.ErrorTypeTransport error carrying
// the location, so callers can report which shard failed and retry it.
package fetch

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

// ProgressFunc receives the cumulative number of bytes read for one
// location and the expected total, or -1 when the size is unknown.
type ProgressFunc func(loaded, total int64)

// Fetcher retrieves the complete payload stored at a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, location string, progress ProgressFunc) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	return f(ctx, location, progress)
}

// Router dispatches each location to the fetcher registered for its
// scheme. Object-store clients are constructed on first use so that a
// dataset served over HTTP never needs cloud credentials.
type Router struct {
	cfg config.StorageConfig

	mu       sync.Mutex
	bySchema map[string]Fetcher
	factory  map[string]func(ctx context.Context) (Fetcher, error)
}

// NewRouter creates a router with the built-in transports.
func NewRouter(storage config.StorageConfig, reliability config.ReliabilityConfig) *Router {
	r := &Router{
		cfg:      storage,
		bySchema: make(map[string]Fetcher),
	}
	httpFetcher := NewHTTPFetcher(HTTPConfig{
		RequestTimeout: reliability.RequestTimeout,
		EnableHTTP2:    storage.EnableHTTP2,
	})
	r.bySchema["http"] = httpFetcher
	r.bySchema["https"] = httpFetcher
	r.bySchema["file"] = NewFileFetcher()

	r.factory = map[string]func(ctx context.Context) (Fetcher, error){
		"s3": func(ctx context.Context) (Fetcher, error) {
			return NewS3Fetcher(ctx, storage.S3Region, storage.S3Endpoint)
		},
		"minio": func(ctx context.Context) (Fetcher, error) {
			return NewMinioFetcher(storage.MinioEndpoint, storage.MinioAccessKey, storage.MinioSecretKey, storage.MinioSecure)
		},
		"gs": func(ctx context.Context) (Fetcher, error) {
			return NewGCSFetcher(ctx, storage.GCSCredentialsFile)
		},
	}
	return r
}

// Register overrides the fetcher used for a scheme.
func (r *Router) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySchema[scheme] = f
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	scheme := Scheme(location)
	f, err := r.fetcherFor(ctx, scheme)
	if err != nil {
		return nil, transportError(err, location, "no transport for location")
	}
	return f.Fetch(ctx, location, progress)
}

func (r *Router) fetcherFor(ctx context.Context, scheme string) (Fetcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.bySchema[scheme]; ok {
		return f, nil
	}
	build, ok := r.factory[scheme]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported location scheme %q", scheme)
	}
	f, err := build(ctx)
	if err != nil {
		return nil, err
	}
	r.bySchema[scheme] = f
	return f, nil
}

// Scheme returns the lower-cased URL scheme of a location, treating
// scheme-less locations as local files.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "file"
	}
	return strings.ToLower(location[:i])
}

// splitBucketKey parses scheme://bucket/key locations.
func splitBucketKey(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid location")
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "location %q must be of the form scheme://bucket/key", location)
	}
	return bucket, key, nil
}

func transportError(err error, location, msg string) error {
	return errors.Wrap(err, errors.ErrorTypeTransport, msg).WithDetail("location", location)
}

// progressReader reports cumulative bytes as they are read.
type progressReader struct {
	r        io.Reader
	loaded   int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.progress != nil {
			p.progress(p.loaded, p.total)
		}
	}
	return n, err
}

func readAll(r io.Reader, total int64, progress ProgressFunc) ([]byte, error) {
	pr := &progressReader{r: r, total: total, progress: progress}
	if total > 0 {
		buf := make([]byte, 0, total)
		w := &appendWriter{buf: buf}
		_, err := io.Copy(w, pr)
		return w.buf, err
	}
	return io.ReadAll(pr)
}

type appendWriter struct{ buf []byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
