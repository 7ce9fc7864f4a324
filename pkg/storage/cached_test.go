package storage

import (
	"context"
	"testing"

	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOCacheEvictsOldestOnOverflow(t *testing.T) {
	c := newFIFOCache[string, int](2, "test")
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Size())
}

func TestCachedReadThroughPopulatesOnMiss(t *testing.T) {
	ctx := context.Background()
	inner := newLocalFS(t)
	cached := NewCached(inner, 0)

	name, err := types.NewName("/widgets/alpha")
	require.NoError(t, err)
	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	citation := types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version, Digest: []byte{1}}

	_, err = inner.WriteName(ctx, name, citation)
	require.NoError(t, err)

	_, ok := cached.names.Get(name.Key())
	assert.False(t, ok, "not yet populated before first read")

	read, err := cached.ReadName(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, read)

	_, ok = cached.names.Get(name.Key())
	assert.True(t, ok, "cache should populate on read-through miss")
}

func TestCachedWriteThroughPopulatesCache(t *testing.T) {
	ctx := context.Background()
	inner := newInMemory(t)
	cached := NewCached(inner, 0)
	n, err := notary.New()
	require.NoError(t, err)

	doc := freshDocumentForCache(t)
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)

	citation, err := cached.WriteContract(ctx, contract)
	require.NoError(t, err)

	cachedValue, ok := cached.contracts.Get(citation.Key())
	assert.True(t, ok)
	assert.True(t, contract.Document.Parameters.Tag.Equal(cachedValue.Document.Parameters.Tag))
}

func TestCachedExistsShortCircuitsOnPositiveHitOnly(t *testing.T) {
	ctx := context.Background()
	inner := newLocalFS(t)
	cached := NewCached(inner, 0)

	name, err := types.NewName("/widgets/beta")
	require.NoError(t, err)

	exists, err := cached.NameExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	citation := types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version, Digest: []byte{1}}
	_, err = cached.WriteName(ctx, name, citation)
	require.NoError(t, err)

	exists, err = cached.NameExists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)
}

func freshDocumentForCache(t *testing.T) types.Document {
	t.Helper()
	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	return types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"hello": "world"})
}
