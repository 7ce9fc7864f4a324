package bali

import (
	"testing"

	"github.com/cuemby/nebula/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTag(t *testing.T) types.Tag {
	t.Helper()
	tag, err := types.NewTag()
	require.NoError(t, err)
	return tag
}

func TestCitationRoundTrip(t *testing.T) {
	tag := mustTag(t)
	version, err := types.NewVersion(1, 2, 3)
	require.NoError(t, err)

	c := types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version, Digest: []byte{0xde, 0xad, 0xbe, 0xef}}

	encoded := EncodeCitation(c)
	assert.Equal(t, byte('\n'), encoded[len(encoded)-1])
	assert.Equal(t, 1, countTrailingNewlines(encoded))

	decoded, err := DecodeCitation(encoded)
	require.NoError(t, err)
	assert.True(t, c.Equal(decoded))
}

func TestDocumentRoundTrip(t *testing.T) {
	tag := mustTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	typeName, err := types.NewName("/acme/schema/order/v1")
	require.NoError(t, err)

	prevTag := mustTag(t)
	prevVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	previous := types.Citation{Protocol: types.CitationProtocol, Tag: prevTag, Version: prevVersion, Digest: []byte{1, 2, 3}}

	doc := types.NewDocument(types.Parameters{
		Tag:         tag,
		Version:     version,
		Type:        typeName,
		Permissions: types.PermissionsPublic,
		Previous:    &previous,
	}, map[string]any{
		"customer": "acme",
		"total":    float64(42),
		"nested":   map[string]any{"a": []any{float64(1), float64(2)}},
	})

	encoded, err := EncodeDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, countTrailingNewlines(encoded))

	decoded, err := DecodeDocument(encoded)
	require.NoError(t, err)
	assert.True(t, doc.Parameters.Tag.Equal(decoded.Parameters.Tag))
	assert.True(t, doc.Parameters.Version.Equal(decoded.Parameters.Version))
	assert.Equal(t, doc.Parameters.Type.String(), decoded.Parameters.Type.String())
	assert.Equal(t, doc.Parameters.Permissions, decoded.Parameters.Permissions)
	require.NotNil(t, decoded.Parameters.Previous)
	assert.True(t, previous.Equal(*decoded.Parameters.Previous))
	assert.Equal(t, "acme", decoded.Content["customer"])

	// re-encoding the decoded value must reproduce the same bytes.
	reencoded, err := EncodeDocument(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), string(reencoded))
}

func TestDocumentRoundTripNoPrevious(t *testing.T) {
	tag := mustTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)

	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"k": "v"})
	encoded, err := EncodeDocument(doc)
	require.NoError(t, err)

	decoded, err := DecodeDocument(encoded)
	require.NoError(t, err)
	assert.Nil(t, decoded.Parameters.Previous)
	assert.True(t, decoded.Parameters.Type.IsZero())
}

func TestContractRoundTrip(t *testing.T) {
	tag := mustTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)

	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"k": "v"})
	contract := types.Contract{Document: doc, Certificate: nil, Signature: []byte{0xAB, 0xCD}}

	encoded, err := EncodeContract(contract)
	require.NoError(t, err)
	assert.Equal(t, 1, countTrailingNewlines(encoded))

	decoded, err := DecodeContract(encoded)
	require.NoError(t, err)
	assert.Nil(t, decoded.Certificate)
	assert.Equal(t, contract.Signature, decoded.Signature)
	assert.True(t, contract.Document.Parameters.Tag.Equal(decoded.Document.Parameters.Tag))
}

func TestMessageRoundTripCarriesBag(t *testing.T) {
	tag := mustTag(t)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	bagName, err := types.NewName("/nebula/events/bag/v1")
	require.NoError(t, err)

	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version, Bag: bagName}, map[string]any{"event": "started"})
	msg := types.Message{Contract: types.Contract{Document: doc}}

	encoded, err := EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, bagName.String(), decoded.BagName().String())
}

func countTrailingNewlines(b []byte) int {
	n := 0
	for i := len(b) - 1; i >= 0 && b[i] == '\n'; i-- {
		n++
	}
	return n
}
