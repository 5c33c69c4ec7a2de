package fetch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the subset of the S3 API used for downloads.
type S3Client interface {
	manager.DownloadAPIClient
}

// S3Fetcher downloads s3://bucket/key locations with the multipart
// download manager.
type S3Fetcher struct {
	downloader *manager.Downloader
}

// NewS3Fetcher creates an S3 fetcher from the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, region, endpoint string) (*S3Fetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FetcherWithClient(client), nil
}

// NewS3FetcherWithClient creates an S3 fetcher around an existing client.
func NewS3FetcherWithClient(client S3Client) *S3Fetcher {
	return &S3Fetcher{
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 4
		}),
	}
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return nil, transportError(err, location, "invalid s3 location")
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, transportError(err, location, "s3 download failed")
	}
	if progress != nil {
		progress(n, n)
	}
	return buf.Bytes()[:n], nil
}
