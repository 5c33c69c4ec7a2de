package fetch

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/ajitpratap0/constellation/pkg/errors"
)

// FileFetcher reads shards from the local filesystem.
type FileFetcher struct{}

// NewFileFetcher creates a filesystem fetcher.
func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(err, location, "fetch cancelled")
	}

	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, transportError(err, location, "invalid file location")
		}
		path = u.Path
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "shard file not found").
				WithDetail("location", location).
				WithDetail("permanent", true)
		}
		return nil, transportError(err, location, "open failed")
	}
	defer f.Close()

	var total int64 = -1
	if st, err := f.Stat(); err == nil {
		total = st.Size()
	}

	data, err := readAll(f, total, progress)
	if err != nil {
		return nil, transportError(err, location, "read failed")
	}
	return data, nil
}
