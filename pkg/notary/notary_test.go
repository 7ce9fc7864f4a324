package notary

import (
	"testing"

	"github.com/cuemby/nebula/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshDocument(t *testing.T) types.Document {
	t.Helper()
	tag, err := types.NewTag()
	require.NoError(t, err)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	return types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"hello": "world"})
}

func TestCiteDocumentIsPureFunctionOfBytes(t *testing.T) {
	doc := freshDocument(t)
	c1, err := CiteDocument(doc)
	require.NoError(t, err)
	c2, err := CiteDocument(doc)
	require.NoError(t, err)
	assert.True(t, c1.Equal(c2))
	assert.True(t, CitationMatches(c1, doc))
}

func TestCitationMatchesDetectsTampering(t *testing.T) {
	doc := freshDocument(t)
	citation, err := CiteDocument(doc)
	require.NoError(t, err)

	tampered := doc.Clone()
	tampered.Content["hello"] = "tampered"
	assert.False(t, CitationMatches(citation, tampered))
}

func TestGenerateCredentialsIsSelfSigned(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	cred, err := n.GenerateCredentials()
	require.NoError(t, err)
	assert.True(t, cred.IsSelfSigned())
	assert.True(t, ValidContract(cred, nil))
}

func TestNotarizeDocumentBindsCertificateAfterCredentials(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	cred, err := n.GenerateCredentials()
	require.NoError(t, err)

	doc := freshDocument(t)
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	require.NotNil(t, contract.Certificate)

	credCitation, err := CiteDocument(cred.Document)
	require.NoError(t, err)
	assert.True(t, credCitation.Equal(*contract.Certificate))
	assert.True(t, ValidContract(contract, &cred))
}

func TestNotarizeDocumentSelfSignedWithoutCredentials(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	doc := freshDocument(t)
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	assert.True(t, contract.IsSelfSigned())
}

func TestNotarizeMessageSignsAfterStampingBag(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	cred, err := n.GenerateCredentials()
	require.NoError(t, err)
	bag, err := types.NewName("/bags/demo")
	require.NoError(t, err)

	doc := freshDocument(t)
	message, err := n.NotarizeMessage(doc, bag)
	require.NoError(t, err)

	// The signature must cover the stamped bag reference.
	assert.True(t, message.BagName().Equal(bag))
	assert.True(t, ValidContract(message.Contract, &cred))

	citation, err := CiteDocument(message.Document)
	require.NoError(t, err)
	assert.True(t, CitationMatches(citation, message.Document))

	// The caller's document is untouched.
	assert.True(t, doc.Parameters.Bag.IsZero())
}

func TestValidContractRejectsWrongSigner(t *testing.T) {
	n1, err := New()
	require.NoError(t, err)
	n2, err := New()
	require.NoError(t, err)

	cred1, err := n1.GenerateCredentials()
	require.NoError(t, err)
	cred2, err := n2.GenerateCredentials()
	require.NoError(t, err)

	doc := freshDocument(t)
	contract, err := n1.NotarizeDocument(doc)
	require.NoError(t, err)

	assert.True(t, ValidContract(contract, &cred1))
	assert.False(t, ValidContract(contract, &cred2))
}
