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

func newLocalFS(t *testing.T) *LocalFS {
	t.Helper()
	s, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	return s
}

func freshTag(t *testing.T) types.Tag {
	t.Helper()
	tag, err := types.NewTag()
	require.NoError(t, err)
	return tag
}

func bagContract(t *testing.T, n *notary.Notary, capacity int) types.Contract {
	t.Helper()
	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, types.NewBagContent(capacity, 0))
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	return contract
}

func TestLocalFSNameRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
	name, err := types.NewName("/widgets/alpha")
	require.NoError(t, err)

	exists, err := s.NameExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	citation := types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version, Digest: []byte{1, 2, 3}}

	got, err := s.WriteName(ctx, name, citation)
	require.NoError(t, err)
	assert.True(t, got.Equal(citation))

	exists, err = s.NameExists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	read, err := s.ReadName(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.True(t, read.Equal(citation))

	_, err = s.WriteName(ctx, name, citation)
	require.Error(t, err)
}

func TestLocalFSDocumentDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
	tag := freshTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"k": "v"})

	citation, err := s.WriteDocument(ctx, doc)
	require.NoError(t, err)

	read, err := s.ReadDocument(ctx, citation)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, "v", read.Content["k"])

	deleted, err := s.DeleteDocument(ctx, citation)
	require.NoError(t, err)
	require.NotNil(t, deleted)

	read, err = s.ReadDocument(ctx, citation)
	require.NoError(t, err)
	assert.Nil(t, read)
}

func TestLocalFSContractWriteOnceRemovesDraft(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
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

	exists, err := s.ContractExists(ctx, citation)
	require.NoError(t, err)
	assert.True(t, exists)

	draft, err := s.ReadDocument(ctx, citation)
	require.NoError(t, err)
	assert.Nil(t, draft)

	_, err = s.WriteContract(ctx, contract)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.ContractExists))
}

func TestLocalFSMessageClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
	n, err := notary.New()
	require.NoError(t, err)

	bc := bagContract(t, n, 2)
	bagCitation, err := s.WriteContract(ctx, bc)
	require.NoError(t, err)

	bagName, err := types.NewName("/bags/alpha")
	require.NoError(t, err)
	_, err = s.WriteName(ctx, bagName, bagCitation)
	require.NoError(t, err)

	msgTag := freshTag(t)
	msgVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	msgDoc := types.NewDocument(types.Parameters{Tag: msgTag, Version: msgVersion}, map[string]any{"body": "hi"})
	message, err := n.NotarizeMessage(msgDoc, bagName)
	require.NoError(t, err)

	require.NoError(t, s.AddMessage(ctx, bagCitation, message))

	available, err := s.MessageAvailable(ctx, bagCitation)
	require.NoError(t, err)
	assert.True(t, available)

	claimed, err := s.RemoveMessage(ctx, bagCitation)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	available, err = s.MessageAvailable(ctx, bagCitation)
	require.NoError(t, err)
	assert.False(t, available)

	processing, err := s.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	require.Len(t, processing, 1)

	claimedCitation := processing[0].Citation
	deleted, err := s.DeleteMessage(ctx, bagCitation, claimedCitation)
	require.NoError(t, err)
	require.NotNil(t, deleted)

	processing, err = s.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	assert.Len(t, processing, 0)
}

func TestLocalFSReturnMessageBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
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
	require.NotNil(t, claimed)

	require.NoError(t, s.ReturnMessage(ctx, bagCitation, *claimed))

	available, err := s.MessageAvailable(ctx, bagCitation)
	require.NoError(t, err)
	assert.True(t, available)

	reclaimed, err := s.RemoveMessage(ctx, bagCitation)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "2", reclaimed.Document.Parameters.Version.Key())
}

func TestLocalFSAddMessageRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
	n, err := notary.New()
	require.NoError(t, err)

	bc := bagContract(t, n, 1)
	bagCitation, err := s.WriteContract(ctx, bc)
	require.NoError(t, err)
	bagName, err := types.NewName("/bags/gamma")
	require.NoError(t, err)

	newMessage := func() types.Message {
		tag := freshTag(t)
		version, err := types.NewVersion(1)
		require.NoError(t, err)
		doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{})
		message, err := n.NotarizeMessage(doc, bagName)
		require.NoError(t, err)
		return message
	}

	require.NoError(t, s.AddMessage(ctx, bagCitation, newMessage()))
	err = s.AddMessage(ctx, bagCitation, newMessage())
	require.Error(t, err)
}
