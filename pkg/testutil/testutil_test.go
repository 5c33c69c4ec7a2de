package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/constellation/pkg/errors"
)

func TestTSVShard(t *testing.T) {
	got := TSVShard("a\tb", "1\tx", "2\ty")
	assert.Equal(t, "a\tb\n1\tx\n2\ty\n", string(got))
}

func TestMemoryFetcher(t *testing.T) {
	ctx, cancel := TestContext(t)
	defer cancel()

	m := NewMemoryFetcher()
	m.Put("mem://a", []byte("payload"))

	var loaded, total int64
	data, err := m.Fetch(ctx, "mem://a", func(l, tot int64) { loaded, total = l, tot })
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(7), loaded)
	assert.Equal(t, int64(7), total)

	m.Fail("mem://a", true)
	_, err = m.Fetch(ctx, "mem://a", nil)
	assert.True(t, errors.IsRetryable(err))

	_, err = m.Fetch(ctx, "mem://missing", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))

	cancelled, stop := context.WithCancel(ctx)
	stop()
	_, err = m.Fetch(cancelled, "mem://a", nil)
	assert.Error(t, err)
	assert.Equal(t, 4, m.Calls())
}
