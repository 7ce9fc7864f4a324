package storage

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

// A contract tampered with on disk reads fine through the bare backend
// but fails the citation check through Validated — the wrapper's whole
// point.
func TestTamperedContractDetectedByValidatedOnly(t *testing.T) {
	ctx := context.Background()
	inner := newLocalFS(t)
	n, err := notary.New()
	require.NoError(t, err)

	doc := freshDocumentForCache(t)
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	citation, err := inner.WriteContract(ctx, contract)
	require.NoError(t, err)

	path := inner.contractPath(citation)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"world"`), []byte(`"w0rld"`), 1)
	require.NotEqual(t, data, tampered, "tampering must actually change the bytes")
	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	read, err := inner.ReadContract(ctx, citation)
	require.NoError(t, err)
	require.NotNil(t, read, "bare backend does not notice the tampering")

	_, err = NewValidated(inner).ReadContract(ctx, citation)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.ModifiedDocument))
}

// Two concurrent claims on a one-message bag: exactly one wins, the
// message is neither lost nor duplicated.
func TestConcurrentRemoveMessageDeliversAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := newLocalFS(t)
	n, err := notary.New()
	require.NoError(t, err)

	bc := bagContract(t, n, 1)
	bagCitation, err := s.WriteContract(ctx, bc)
	require.NoError(t, err)
	bagName, err := types.NewName("/bags/race")
	require.NoError(t, err)

	msgTag := freshTag(t)
	msgVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	msgDoc := types.NewDocument(types.Parameters{Tag: msgTag, Version: msgVersion}, map[string]any{})
	message, err := n.NotarizeMessage(msgDoc, bagName)
	require.NoError(t, err)
	require.NoError(t, s.AddMessage(ctx, bagCitation, message))

	const claimants = 2
	results := make([]*types.Message, claimants)
	errs := make([]error, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.RemoveMessage(ctx, bagCitation)
		}(i)
	}
	wg.Wait()

	delivered := 0
	for i := 0; i < claimants; i++ {
		require.NoError(t, errs[i])
		if results[i] != nil {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered, "exactly one claimant should receive the message")

	processing, err := s.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	assert.Len(t, processing, 1, "the claimed message must land in processing exactly once")
}
