// Package testutil provides testing utilities for constellation
package testutil

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/fetch"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TSVShard builds a tab-separated shard payload from a header and rows of
// already tab-joined fields.
func TSVShard(header string, rows ...string) []byte {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Gzip compresses data as a single gzip member.
func Gzip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// MemoryFetcher serves payloads from memory. Locations can be marked as
// failing to simulate transport errors.
type MemoryFetcher struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing map[string]bool
	calls   int32
}

// NewMemoryFetcher creates an empty MemoryFetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{
		objects: make(map[string][]byte),
		failing: make(map[string]bool),
	}
}

// Put stores a payload at location.
func (m *MemoryFetcher) Put(location string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[location] = data
}

// Fail makes fetches of location fail (or succeed again).
func (m *MemoryFetcher) Fail(location string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[location] = fail
}

// Calls returns the number of Fetch calls so far.
func (m *MemoryFetcher) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

// Fetch implements fetch.Fetcher.
func (m *MemoryFetcher) Fetch(ctx context.Context, location string, progress fetch.ProgressFunc) ([]byte, error) {
	atomic.AddInt32(&m.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "fetch cancelled").WithDetail("location", location)
	}

	m.mu.Lock()
	data, ok := m.objects[location]
	failing := m.failing[location]
	m.mu.Unlock()

	if failing {
		return nil, errors.New(errors.ErrorTypeTransport, "connection reset by peer").WithDetail("location", location)
	}
	if !ok {
		return nil, errors.New(errors.ErrorTypeTransport, "object not found").
			WithDetail("location", location).
			WithDetail("permanent", true)
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return data, nil
}
