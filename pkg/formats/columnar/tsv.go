package columnar

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
)

const tsvSeparator = '\t'

// TSVDecoder opens tab-separated shard payloads. The first line is the
// header; later lines identical to the header (from concatenated parts) are
// skipped. Blank lines are ignored and a trailing carriage return is
// stripped.
type TSVDecoder struct {
	chunkRows int
}

// NewTSVDecoder creates a TSV decoder yielding every chunkRows rows.
func NewTSVDecoder(chunkRows int) *TSVDecoder {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	return &TSVDecoder{chunkRows: chunkRows}
}

// Format implements Decoder.
func (d *TSVDecoder) Format() Format { return TSV }

// Open implements Decoder.
func (d *TSVDecoder) Open(data []byte) (Shard, error) {
	header, rest := nextLine(data)
	if len(header) == 0 {
		return nil, fmt.Errorf("tsv shard has no header line")
	}

	names := splitFields(header)
	index := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("tsv header repeats column %q", n)
		}
		index[n] = i
	}

	s := &tsvShard{
		columns:   names,
		index:     index,
		chunkRows: d.chunkRows,
	}
	for len(rest) > 0 {
		var line []byte
		line, rest = nextLine(rest)
		if len(line) == 0 || bytes.Equal(line, header) {
			continue
		}
		s.lines = append(s.lines, line)
	}
	return s, nil
}

type tsvShard struct {
	columns   []string
	index     map[string]int
	lines     [][]byte
	chunkRows int
}

func (s *tsvShard) NumRows() int      { return len(s.lines) }
func (s *tsvShard) Columns() []string { return s.columns }
func (s *tsvShard) Close() error      { return nil }

func (s *tsvShard) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// field returns the col-th field of line, or false if the line is short.
func field(line []byte, col int) ([]byte, bool) {
	for i := 0; i < col; i++ {
		j := bytes.IndexByte(line, tsvSeparator)
		if j < 0 {
			return nil, false
		}
		line = line[j+1:]
	}
	if j := bytes.IndexByte(line, tsvSeparator); j >= 0 {
		line = line[:j]
	}
	return line, true
}

func (s *tsvShard) forEach(ctx context.Context, name string, fn func(v []byte, ok bool)) error {
	col, ok := s.index[name]
	if !ok {
		return &ErrMissingColumn{Column: name}
	}
	for i, line := range s.lines {
		if i > 0 && i%s.chunkRows == 0 {
			if err := yield(ctx); err != nil {
				return err
			}
		}
		fn(field(line, col))
	}
	return nil
}

func (s *tsvShard) DecodeCategorical(ctx context.Context, name string) (*Categorical, error) {
	db := newDictBuilder()
	codes := make([]int32, 0, len(s.lines))
	err := s.forEach(ctx, name, func(v []byte, ok bool) {
		if !ok || len(v) == 0 {
			codes = append(codes, NullCode)
			return
		}
		codes = append(codes, db.code(string(v)))
	})
	if err != nil {
		return nil, err
	}
	return &Categorical{Dictionary: db.values, Codes: codes}, nil
}

func (s *tsvShard) DecodeNumeric(ctx context.Context, name string) (*Numeric, error) {
	out := &Numeric{
		Values: make([]float32, 0, len(s.lines)),
		Valid:  make([]bool, 0, len(s.lines)),
	}
	err := s.forEach(ctx, name, func(v []byte, ok bool) {
		if !ok || len(v) == 0 || isNullToken(v) {
			if !ok {
				out.Malformed++
			}
			out.Values = append(out.Values, 0)
			out.Valid = append(out.Valid, false)
			return
		}
		f, err := strconv.ParseFloat(string(v), 32)
		if err != nil {
			out.Malformed++
			out.Values = append(out.Values, 0)
			out.Valid = append(out.Valid, false)
			return
		}
		out.Values = append(out.Values, float32(f))
		out.Valid = append(out.Valid, true)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isNullToken(v []byte) bool {
	switch string(v) {
	case "NA", "NaN", "nan", "null", "NULL":
		return true
	}
	return false
}

func nextLine(data []byte) (line, rest []byte) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		line, rest = data, nil
	} else {
		line, rest = data[:i], data[i+1:]
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, rest
}

func splitFields(line []byte) []string {
	parts := bytes.Split(line, []byte{tsvSeparator})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
