package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://example.org/a.shard01.parquet", "https"},
		{"HTTP://example.org/a", "http"},
		{"s3://bucket/key", "s3"},
		{"gs://bucket/key", "gs"},
		{"minio://bucket/key", "minio"},
		{"file:///tmp/a.parquet", "file"},
		{"/tmp/a.parquet", "file"},
		{"relative/a.parquet", "file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scheme(tt.location), tt.location)
	}
}

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("s3://cells/hairfollicle/hf.shard01.parquet")
	require.NoError(t, err)
	assert.Equal(t, "cells", bucket)
	assert.Equal(t, "hairfollicle/hf.shard01.parquet", key)

	_, _, err = splitBucketKey("s3://cells")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard01.tsv")
	require.NoError(t, os.WriteFile(path, []byte("x\ty\tz\n1\t2\t3\n"), 0o644))

	var last, total int64
	f := NewFileFetcher()

	for _, loc := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), loc, func(l, t int64) { last, total = l, t })
		require.NoError(t, err)
		assert.Equal(t, "x\ty\tz\n1\t2\t3\n", string(data))
		assert.Equal(t, int64(len(data)), last)
		assert.Equal(t, int64(len(data)), total)
	}

	_, err := f.Fetch(context.Background(), filepath.Join(dir, "missing"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, IsPermanent(err))
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(config.StorageConfig{}, config.ReliabilityConfig{})

	var got string
	r.Register("mem", FetcherFunc(func(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
		got = location
		return []byte("payload"), nil
	}))

	data, err := r.Fetch(context.Background(), "mem://bucket/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "mem://bucket/a", got)

	_, err = r.Fetch(context.Background(), "ftp://host/a", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestRouterMinioRequiresEndpoint(t *testing.T) {
	r := NewRouter(config.StorageConfig{}, config.ReliabilityConfig{})
	_, err := r.Fetch(context.Background(), "minio://bucket/key", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minio_endpoint")
}
