package embedder

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryEmbedder embeds search queries through an LRU cache keyed by text hash
type QueryEmbedder struct {
	provider Provider
	model    string
	cache    *lru.Cache[string, []float32]
}

// NewQueryEmbedder creates a query embedder caching up to size vectors
func NewQueryEmbedder(provider Provider, model string, size int) (*QueryEmbedder, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	if model == "" {
		model = provider.Model()
	}
	return &QueryEmbedder{provider: provider, model: model, cache: cache}, nil
}

// EmbedQuery returns the embedding for query. Callers get their own copy.
func (q *QueryEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := ValidateTexts([]string{query}); err != nil {
		return nil, err
	}

	key := ComputeHash(q.model + "\x00" + query)
	if v, ok := q.cache.Get(key); ok {
		return cloneVector(v), nil
	}

	res, err := q.provider.Embed(ctx, []string{query}, q.model)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrInvalidInput, len(res.Embeddings))
	}

	v := res.Embeddings[0]
	q.cache.Add(key, cloneVector(v))
	return v, nil
}

// Len returns the number of cached queries
func (q *QueryEmbedder) Len() int {
	return q.cache.Len()
}

// Purge empties the cache
func (q *QueryEmbedder) Purge() {
	q.cache.Purge()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
