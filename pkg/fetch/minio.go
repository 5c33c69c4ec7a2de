package fetch

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ajitpratap0/constellation/pkg/errors"
)

// MinioFetcher downloads minio://bucket/key locations.
type MinioFetcher struct {
	client *minio.Client
}

// NewMinioFetcher creates a MinIO fetcher. Empty keys select anonymous access.
func NewMinioFetcher(endpoint, accessKey, secretKey string, secure bool) (*MinioFetcher, error) {
	if endpoint == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "storage.minio_endpoint is required for minio:// locations")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioFetcher{client: client}, nil
}

// Fetch implements Fetcher.
func (m *MinioFetcher) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return nil, transportError(err, location, "invalid minio location")
	}

	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, transportError(err, location, "minio get failed")
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "shard object not found").
				WithDetail("location", location).
				WithDetail("permanent", true)
		}
		return nil, transportError(err, location, "minio stat failed")
	}

	data, err := readAll(obj, info.Size, progress)
	if err != nil {
		return nil, transportError(err, location, "minio read failed")
	}
	return data, nil
}
