package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryEmbedderCaches(t *testing.T) {
	p := newScriptedProvider()
	q, err := NewQueryEmbedder(p, "", 2)
	require.NoError(t, err)

	v1, err := q.EmbedQuery(context.Background(), "find the cache")
	require.NoError(t, err)
	v2, err := q.EmbedQuery(context.Background(), "find the cache")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, p.callCount())

	v2[0] = 42
	v3, err := q.EmbedQuery(context.Background(), "find the cache")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), v3[0], "cached vector must not be shared with callers")

	_, _ = q.EmbedQuery(context.Background(), "second")
	_, _ = q.EmbedQuery(context.Background(), "third")
	assert.Equal(t, 2, q.Len())

	q.Purge()
	assert.Equal(t, 0, q.Len())
}

func TestQueryEmbedderRejectsBlank(t *testing.T) {
	q, err := NewQueryEmbedder(NewLocalProvider(4), "", 0)
	require.NoError(t, err)

	_, err = q.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyText)
}
