package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/storage"
	"github.com/cuemby/nebula/pkg/types"
)

func newTestServer(t *testing.T, authenticate bool) (*httptest.Server, *storage.InMemory) {
	t.Helper()
	store, err := storage.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	srv := httptest.NewServer(NewServer(store, authenticate).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func freshContract(t *testing.T, n *notary.Notary, content map[string]any) (types.Contract, types.Citation) {
	t.Helper()
	tag, err := types.NewTag()
	require.NoError(t, err)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, content)
	contract, err := n.NotarizeDocument(doc)
	require.NoError(t, err)
	citation, err := notary.CiteDocument(doc)
	require.NoError(t, err)
	return contract, citation
}

func doRequest(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNameLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, false)
	n, err := notary.New()
	require.NoError(t, err)

	contract, citation := freshContract(t, n, map[string]any{"kind": "cert"})
	contractBytes, err := bali.EncodeContract(contract)
	require.NoError(t, err)

	contractURL := srv.URL + "/repository/contracts/" + citation.Key()
	resp := doRequest(t, http.MethodPut, contractURL, contractBytes)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	nameURL := srv.URL + "/repository/names/demo/cert/v1"
	resp = doRequest(t, http.MethodHead, nameURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPut, nameURL, bali.EncodeCitation(citation))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodHead, nameURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, nameURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Write-once: rebinding collides.
	resp = doRequest(t, http.MethodPut, nameURL, bali.EncodeCitation(citation))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, false)

	tag, err := types.NewTag()
	require.NoError(t, err)
	version, err := types.NewVersion(1)
	require.NoError(t, err)
	doc := types.NewDocument(types.Parameters{Tag: tag, Version: version}, map[string]any{"draft": true})
	citation, err := notary.CiteDocument(doc)
	require.NoError(t, err)
	docBytes, err := bali.EncodeDocument(doc)
	require.NoError(t, err)

	url := srv.URL + "/repository/documents/" + citation.Key()

	resp := doRequest(t, http.MethodPut, url, docBytes)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Overwrite is allowed and reported distinctly.
	resp = doRequest(t, http.MethodPut, url, docBytes)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContractConflictAndCacheControl(t *testing.T) {
	srv, _ := newTestServer(t, false)
	n, err := notary.New()
	require.NoError(t, err)

	contract, citation := freshContract(t, n, nil)
	contractBytes, err := bali.EncodeContract(contract)
	require.NoError(t, err)
	url := srv.URL + "/repository/contracts/" + citation.Key()

	resp := doRequest(t, http.MethodPut, url, contractBytes)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodPut, url, contractBytes)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "immutable", resp.Header.Get("cache-control"))
}

func TestMessageNamespaceOverHTTP(t *testing.T) {
	srv, store := newTestServer(t, false)
	n, err := notary.New()
	require.NoError(t, err)
	ctx := context.Background()

	bagTag, err := types.NewTag()
	require.NoError(t, err)
	bagVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	bagDoc := types.NewDocument(types.Parameters{Tag: bagTag, Version: bagVersion}, types.NewBagContent(2, time.Minute))
	bagContract, err := n.NotarizeDocument(bagDoc)
	require.NoError(t, err)
	bagCitation, err := store.WriteContract(ctx, bagContract)
	require.NoError(t, err)

	bagName, err := types.NewName("/bags/http")
	require.NoError(t, err)
	bagURL := srv.URL + "/repository/messages/" + bagCitation.Key()

	// Empty bag: no availability, borrow misses.
	resp := doRequest(t, http.MethodHead, bagURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doRequest(t, http.MethodDelete, bagURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	msgTag, err := types.NewTag()
	require.NoError(t, err)
	msgVersion, err := types.NewVersion(1)
	require.NoError(t, err)
	msgDoc := types.NewDocument(types.Parameters{Tag: msgTag, Version: msgVersion}, map[string]any{"n": float64(1)})
	message, err := n.NotarizeMessage(msgDoc, bagName)
	require.NoError(t, err)
	msgBytes, err := bali.EncodeMessage(message)
	require.NoError(t, err)

	resp = doRequest(t, http.MethodPost, bagURL, msgBytes)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodHead, bagURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Borrow moves it to processing.
	resp = doRequest(t, http.MethodDelete, bagURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	borrowed, err := store.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	subURL := bagURL + "/" + borrowed[0].Citation.Key()

	// Reject requeues; a second reject of the same lease conflicts.
	borrowedBytes, err := bali.EncodeMessage(borrowed[0].Message)
	require.NoError(t, err)
	resp = doRequest(t, http.MethodPut, subURL, borrowedBytes)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doRequest(t, http.MethodPut, subURL, borrowedBytes)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Borrow again, then accept for good.
	resp = doRequest(t, http.MethodDelete, bagURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	borrowed, err = store.ListProcessing(ctx, bagCitation)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	resp = doRequest(t, http.MethodDelete, bagURL+"/"+borrowed[0].Citation.Key(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCredentialsRequired(t *testing.T) {
	srv, _ := newTestServer(t, true)

	resp := doRequest(t, http.MethodHead, srv.URL+"/repository/names/demo/v1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestRemoteBackendLoopback drives the Remote client backend against this
// engine end to end, credentials included.
func TestRemoteBackendLoopback(t *testing.T) {
	srv, _ := newTestServer(t, true)
	n, err := notary.New()
	require.NoError(t, err)
	ctx := context.Background()

	remote := storage.NewRemote(srv.URL, n, nil)

	contract, citation := freshContract(t, n, map[string]any{"via": "remote"})
	written, err := remote.WriteContract(ctx, contract)
	require.NoError(t, err)
	assert.True(t, written.Equal(citation))

	read, err := remote.ReadContract(ctx, citation)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.True(t, notary.CitationMatches(citation, read.Document))

	name, err := types.NewName("/remote/demo/v1")
	require.NoError(t, err)
	_, err = remote.WriteName(ctx, name, citation)
	require.NoError(t, err)

	exists, err := remote.NameExists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	resolved, err := remote.ReadName(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.True(t, resolved.Equal(citation))
}
