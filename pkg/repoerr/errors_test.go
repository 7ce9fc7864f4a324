package repoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NameExists, "storage.localfs", "WriteName", map[string]any{"name": "/a/b/v1"}, cause)

	assert.True(t, Is(err, NameExists))
	assert.False(t, Is(err, ContractExists))
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := New(BagFull, "repository", "PostMessage", map[string]any{"bag": "/nebula/events/bag/v1"})
	msg := err.Error()
	assert.Contains(t, msg, string(BagFull))
	assert.Contains(t, msg, "repository.PostMessage")
	assert.Contains(t, msg, "/nebula/events/bag/v1")
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", New(LeaseExpired, "storage", "ReturnMessage", nil))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, LeaseExpired, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestStatusError(t *testing.T) {
	err := NewStatus(503, "storage.remote", "ReadContract", map[string]any{"tag": "#abc"})
	assert.True(t, Is(err, StatusN))
	assert.Equal(t, 503, err.Status)
	assert.Contains(t, err.Error(), "status 503")
}
