package blockstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerBackendPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewBadgerBackend(BadgerOptions{DataDir: dir, Compression: true, CacheSize: 16})
	require.NoError(t, err)
	s, err := Open(Options{Backend: b})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("compressible "), 200)
	c, err := s.Put(ctx, payload)
	require.NoError(t, err)
	_, err = s.Put(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Close())

	// reopen without compression: existing zstd values stay readable
	b2, err := NewBadgerBackend(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	s2, err := Open(Options{Backend: b2})
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 1, s2.Len())
	got, err := s2.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	other, err := s2.Put(ctx, []byte("uncompressed"))
	require.NoError(t, err)
	got, err = s2.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, []byte("uncompressed"), got)

	var seen []cid.Cid
	require.NoError(t, b2.ForEach(ctx, func(c cid.Cid) error {
		seen = append(seen, c)
		return nil
	}))
	assert.Len(t, seen, 2)
}

func TestBadgerBackendInMemory(t *testing.T) {
	ctx := context.Background()
	b, err := NewBadgerBackend(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer b.Close()

	c, err := SHA256.Sum(CodecRaw, []byte("x"))
	require.NoError(t, err)

	has, err := b.Has(ctx, c)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = b.Get(ctx, c)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, c, []byte("x")))
	has, err = b.Has(ctx, c)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryBackendForEachAndClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	for _, p := range []string{"a", "b", "c"} {
		c, err := SHA256.Sum(CodecRaw, []byte(p))
		require.NoError(t, err)
		require.NoError(t, m.Put(ctx, c, []byte(p)))
	}
	n := 0
	require.NoError(t, m.ForEach(ctx, func(cid.Cid) error { n++; return nil }))
	assert.Equal(t, 3, n)

	require.NoError(t, m.Close())
	_, err := m.Has(ctx, cid.Undef)
	assert.ErrorIs(t, err, ErrClosed)
}
