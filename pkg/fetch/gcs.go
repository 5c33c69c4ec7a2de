package fetch

import (
	"context"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/constellation/pkg/errors"
)

// GCSFetcher downloads gs://bucket/object locations.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher creates a GCS fetcher. Without a credentials file the
// client is unauthenticated, which suits public buckets.
func NewGCSFetcher(ctx context.Context, credentialsFile string) (*GCSFetcher, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSFetcher{client: client}, nil
}

// Fetch implements Fetcher.
func (g *GCSFetcher) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	bucket, object, err := splitBucketKey(location)
	if err != nil {
		return nil, transportError(err, location, "invalid gcs location")
	}

	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist || err == storage.ErrBucketNotExist {
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "shard object not found").
				WithDetail("location", location).
				WithDetail("permanent", true)
		}
		return nil, transportError(err, location, "gcs open failed")
	}
	defer r.Close()

	data, err := readAll(r, r.Attrs.Size, progress)
	if err != nil {
		return nil, transportError(err, location, "gcs read failed")
	}
	return data, nil
}

// Close releases the underlying client.
func (g *GCSFetcher) Close() error {
	return g.client.Close()
}
