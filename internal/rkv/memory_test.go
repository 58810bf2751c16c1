package rkv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3047/totalizer/internal/errors"
)

func TestMemoryIncrAdditive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		n, err := m.Incr(ctx, "web;/a,200;host1;1000")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	value, err := m.Get(ctx, "web;/a,200;host1;1000")
	require.NoError(t, err)
	assert.Equal(t, "5", value)
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	m.SetClock(func() time.Time { return now })

	_, err := m.Incr(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, m.Expire(ctx, "k", 10*time.Second))

	ttl, ok := m.TTL("k")
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, ttl)

	now = now.Add(11 * time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// A fresh increment recreates the key from 1.
	n, err := m.Incr(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryKeysGlob(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, key := range []string{
		"web;/a,200;host1;1000",
		"web;/b,404;host1;1000",
		"web;/a,200;host2;2000",
		"mail;deferred;host1;1000",
	} {
		_, err := m.Incr(ctx, key)
		require.NoError(t, err)
	}

	keys, err := m.Keys(ctx, "web;*")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"web;/a,200;host1;1000",
		"web;/a,200;host2;2000",
		"web;/b,404;host1;1000",
	}, keys)

	keys, err = m.Keys(ctx, "web;*;host2;*")
	require.NoError(t, err)
	assert.Equal(t, []string{"web;/a,200;host2;2000"}, keys)

	keys, err = m.Keys(ctx, "nomatch;*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryClusterIsolatesEndpoints(t *testing.T) {
	cluster := NewMemoryCluster()
	ctx := context.Background()

	_, err := cluster.Endpoint("ep1").Incr(ctx, "k")
	require.NoError(t, err)

	_, err = cluster.Get(ctx, "ep2", "k")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	value, err := cluster.Get(ctx, "ep1", "k")
	require.NoError(t, err)
	assert.Equal(t, "1", value)
}
