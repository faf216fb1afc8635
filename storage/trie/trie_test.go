package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyBuilderHasEmptyRoot(t *testing.T) {
	require.Equal(t, EmptyRoot, NewBuilder().Root())
}

func TestRootIsOrderIndependent(t *testing.T) {
	first := NewBuilder()
	require.NoError(t, first.Put([]byte("a"), []byte("1")))
	require.NoError(t, first.Put([]byte("b"), []byte("2")))

	second := NewBuilder()
	require.NoError(t, second.Put([]byte("b"), []byte("2")))
	require.NoError(t, second.Put([]byte("a"), []byte("1")))

	require.Equal(t, first.Root(), second.Root())
	require.NotEqual(t, EmptyRoot, first.Root())

	got, err := first.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestRootChangesWithValue(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Put([]byte("k"), []byte("v1")))
	before := b.Root()
	require.NoError(t, b.Put([]byte("k"), []byte("v2")))
	require.NotEqual(t, before, b.Root())

	require.NoError(t, b.Put([]byte("k"), nil))
	require.Equal(t, EmptyRoot, b.Root())
}
