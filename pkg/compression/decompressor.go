// Package compression decodes compressed shard payloads.
//
// Shards may travel compressed (for example gzipped TSV parts or zstd-framed
// parquet files). The loader passes every downloaded payload through a
// Decompressor before handing the bytes to a shard decoder:
//
//	dec, err := compression.NewDecompressor(compression.Auto)
//	raw, err := dec.Decompress(payload)
//
// Auto inspects the leading magic bytes and falls back to returning the
// payload unchanged when no known frame header is present.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/constellation/pkg/pool"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None passes payloads through unchanged
	None Algorithm = "none"
	// Auto detects the algorithm from the payload's magic bytes
	Auto Algorithm = "auto"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy block compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 block compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// MaxDecompressedSize bounds a single decompressed payload.
const MaxDecompressedSize = 4 << 30

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Decompressor turns a compressed payload back into raw shard bytes.
// All implementations are safe for concurrent use.
type Decompressor interface {
	// Decompress returns the decoded bytes. The input is not modified.
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the algorithm handled by this decompressor.
	Algorithm() Algorithm
}

// ParseAlgorithm maps a configuration string to an Algorithm. The empty
// string selects Auto.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return Auto, nil
	case None, Auto, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// NewDecompressor creates a decompressor for the given algorithm.
func NewDecompressor(alg Algorithm) (Decompressor, error) {
	switch alg {
	case None:
		return noneDecompressor{}, nil
	case Auto:
		return &autoDecompressor{}, nil
	case Gzip:
		return newGzipDecompressor(), nil
	case Snappy:
		return snappyDecompressor{}, nil
	case LZ4:
		return newLZ4Decompressor(), nil
	case Zstd:
		return newZstdDecompressor(), nil
	case S2:
		return s2Decompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// Detect returns the algorithm identified by the payload's magic bytes, or
// None when the payload is not framed by a known format. Block formats
// (snappy, s2) carry no magic and are never detected.
func Detect(data []byte) Algorithm {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return Gzip
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd
	case bytes.HasPrefix(data, lz4Magic):
		return LZ4
	default:
		return None
	}
}

type noneDecompressor struct{}

func (noneDecompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneDecompressor) Algorithm() Algorithm                   { return None }

type autoDecompressor struct {
	mu    sync.Mutex
	byAlg map[Algorithm]Decompressor
}

func (a *autoDecompressor) Algorithm() Algorithm { return Auto }

func (a *autoDecompressor) Decompress(data []byte) ([]byte, error) {
	alg := Detect(data)
	if alg == None {
		return data, nil
	}

	a.mu.Lock()
	if a.byAlg == nil {
		a.byAlg = make(map[Algorithm]Decompressor)
	}
	d, ok := a.byAlg[alg]
	if !ok {
		var err error
		d, err = NewDecompressor(alg)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.byAlg[alg] = d
	}
	a.mu.Unlock()

	return d.Decompress(data)
}

type gzipDecompressor struct {
	readers *pool.Pool[*gzip.Reader]
}

func newGzipDecompressor() *gzipDecompressor {
	return &gzipDecompressor{
		readers: pool.New(func() *gzip.Reader { return new(gzip.Reader) }, nil),
	}
}

func (gd *gzipDecompressor) Algorithm() Algorithm { return Gzip }

func (gd *gzipDecompressor) Decompress(data []byte) ([]byte, error) {
	r := gd.readers.Get()
	defer gd.readers.Put(r)
	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}

	// Multi-member streams (concatenated gzip parts) are read as one.
	return readLimited(r)
}

type zstdDecompressor struct {
	decoders *pool.Pool[*zstd.Decoder]
}

func newZstdDecompressor() *zstdDecompressor {
	return &zstdDecompressor{
		decoders: pool.New(func() *zstd.Decoder {
			// Only fails on invalid options.
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
			return dec
		}, nil),
	}
}

func (zd *zstdDecompressor) Algorithm() Algorithm { return Zstd }

func (zd *zstdDecompressor) Decompress(data []byte) ([]byte, error) {
	dec := zd.decoders.Get()
	defer zd.decoders.Put(dec)

	return dec.DecodeAll(data, nil)
}

type lz4Decompressor struct {
	readers *pool.Pool[*lz4.Reader]
}

func newLZ4Decompressor() *lz4Decompressor {
	return &lz4Decompressor{
		readers: pool.New(func() *lz4.Reader { return lz4.NewReader(nil) }, nil),
	}
}

func (lz4Decompressor) Algorithm() Algorithm { return LZ4 }

func (ld *lz4Decompressor) Decompress(data []byte) ([]byte, error) {
	r := ld.readers.Get()
	defer ld.readers.Put(r)
	r.Reset(bytes.NewReader(data))
	return readLimited(r)
}

type snappyDecompressor struct{}

func (snappyDecompressor) Algorithm() Algorithm { return Snappy }

func (snappyDecompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type s2Decompressor struct{}

func (s2Decompressor) Algorithm() Algorithm { return S2 }

func (s2Decompressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

func readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", int64(MaxDecompressedSize))
	}
	return buf.Bytes(), nil
}
