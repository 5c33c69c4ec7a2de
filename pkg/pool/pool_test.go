package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsAndTracksUsage(t *testing.T) {
	p := New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	buf := p.Get()
	buf.WriteString("payload")
	allocated, inUse, _, misses := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(1), inUse)
	assert.Equal(t, int64(1), misses)

	p.Put(buf)
	assert.Zero(t, buf.Len())

	_, inUse, _, _ = p.Stats()
	assert.Zero(t, inUse)

	again := p.Get()
	assert.Zero(t, again.Len())
	p.Put(again)
}
