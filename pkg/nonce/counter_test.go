package nonce

import (
	"context"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCounter(t *testing.T, c Counter) {
	ctx := context.Background()

	last, err := c.Last(ctx, "did:a")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, c.Advance(ctx, "did:a", 1))
	require.NoError(t, c.Advance(ctx, "did:a", 9))
	require.NoError(t, c.Advance(ctx, "did:a", 3), "lower values are ignored")

	last, err = c.Last(ctx, "did:a")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)

	last, err = c.Last(ctx, "did:b")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, c.Advance(ctx, "did:big", math.MaxUint64-1))
	require.NoError(t, c.Advance(ctx, "did:big", math.MaxUint64-2))
	last, err = c.Last(ctx, "did:big")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), last)
}

func TestMemoryCounter(t *testing.T) {
	exerciseCounter(t, NewMemoryCounter())
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCounter("redis://"+mr.Addr(), "veil:")
	require.NoError(t, err)
	defer c.Close()

	exerciseCounter(t, c)

	v, err := mr.Get("veil:gw:did:a")
	require.NoError(t, err)
	assert.Equal(t, "9", v)
	assert.Zero(t, mr.TTL("veil:gw:did:a"))
}

func TestRedisCounterCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("veil:gw:did:a", "x"))
	c, err := NewRedisCounter("redis://"+mr.Addr(), "veil:")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Last(context.Background(), "did:a")
	assert.ErrorContains(t, err, "corrupt")
}

func TestRedisCounterUnavailable(t *testing.T) {
	c, err := NewRedisCounter("redis://127.0.0.1:1/0", "")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Last(context.Background(), "did:a")
	assert.Error(t, err)
	assert.Error(t, c.Advance(context.Background(), "did:a", 1))
}
