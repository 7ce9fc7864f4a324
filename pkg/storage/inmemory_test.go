package storage

import (
	"context"
	"testing"

	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemory(t *testing.T) *InMemory {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInMemoryNameRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newInMemory(t)
	name, err := types.NewName("/widgets/alpha")
	require.NoError(t, err)

	exists, err := s.NameExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	citation := types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version, Digest: []byte{9}}

	_, err = s.WriteName(ctx, name, citation)
	require.NoError(t, err)

	read, err := s.ReadName(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.True(t, read.Equal(citation))

	_, err = s.WriteName(ctx, name, citation)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.NameExists))
}

func TestInMemoryDocumentAndContractLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newInMemory(t)
	n, err := notary.New()
	require.NoError(t, err)

	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"k": "v"})

	_, err = s.WriteDocument(ctx, doc)
	require.NoError(t, err)

	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	citation, err := s.WriteContract(ctx, contract)
	require.NoError(t, err)

	draft, err := s.ReadDocument(ctx, citation)
	require.NoError(t, err)
	assert.Nil(t, draft)

	read, err := s.ReadContract(ctx, citation)
	require.NoError(t, err)
	require.NotNil(t, read)

	_, err = s.WriteContract(ctx, contract)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.ContractExists))
}

func TestInMemoryMessageClaimAndSweepLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newInMemory(t)
	n, err := notary.New()
	require.NoError(t, err)

	bc := bagContract(t, n, 1)
	bagCitation, err := s.WriteContract(ctx, bc)
	require.NoError(t, err)
	bagName, err := types.NewName("/bags/alpha")
	require.NoError(t, err)

	msgTag := freshTag(t)
	msgVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	msgDoc := types.NewDocument(types.Parameters{Tag: msgTag, Version: msgVersion}, map[string]any{})
	message, err := n.NotarizeMessage(msgDoc, bagName)
	require.NoError(t, err)

	require.NoError(t, s.AddMessage(ctx, bagCitation, message))

	err = s.AddMessage(ctx, bagCitation, message)
	require.Error(t, err)

	claimed, err := s.RemoveMessage(ctx, bagCitation)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	none, err := s.RemoveMessage(ctx, bagCitation)
	require.NoError(t, err)
	assert.Nil(t, none)

	processing, err := s.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.False(t, processing[0].ClaimedAt.IsZero())

	deleted, err := s.DeleteMessage(ctx, bagCitation, processing[0].Citation)
	require.NoError(t, err)
	require.NotNil(t, deleted)

	processing, err = s.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	assert.Len(t, processing, 0)
}

func TestInMemoryReturnMessageRequeues(t *testing.T) {
	ctx := context.Background()
	s := newInMemory(t)
	n, err := notary.New()
	require.NoError(t, err)

	bc := bagContract(t, n, 1)
	bagCitation, err := s.WriteContract(ctx, bc)
	require.NoError(t, err)
	bagName, err := types.NewName("/bags/beta")
	require.NoError(t, err)

	msgTag := freshTag(t)
	msgVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	msgDoc := types.NewDocument(types.Parameters{Tag: msgTag, Version: msgVersion}, map[string]any{})
	message, err := n.NotarizeMessage(msgDoc, bagName)
	require.NoError(t, err)

	require.NoError(t, s.AddMessage(ctx, bagCitation, message))
	claimed, err := s.RemoveMessage(ctx, bagCitation)
	require.NoError(t, err)

	require.NoError(t, s.ReturnMessage(ctx, bagCitation, *claimed))

	available, err := s.MessageAvailable(ctx, bagCitation)
	require.NoError(t, err)
	assert.True(t, available)
}
