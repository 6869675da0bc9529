package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/pkg/types"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []float32{1, 0}, f.err
}

type fakeIndex struct {
	mu        sync.Mutex
	hits      []vectorstore.Hit
	lastLimit int
	calls     int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, limit int) ([]vectorstore.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLimit = limit
	return f.hits[:min(limit, len(f.hits))], nil
}

func hit(id string, score float64, path, name, content string, kind types.BlockKind) vectorstore.Hit {
	return vectorstore.Hit{
		ID:    id,
		Score: score,
		Block: types.Block{FilePath: path, Name: name, Content: content, Kind: kind, StartLine: 1, EndLine: 3},
	}
}

func sampleHits() []vectorstore.Hit {
	return []vectorstore.Hit{
		hit("1", 0.90, "internal/net/client.go", "Dial", "func Dial() {}", types.BlockFunction),
		hit("2", 0.85, "internal/retry/backoff.go", "Backoff", "func Backoff() { retry retry }", types.BlockFunction),
		hit("3", 0.80, "docs/retry.md", "", "retry notes", types.BlockWindow),
		hit("4", 0.10, "internal/net/types.go", "Conn", "type Conn struct{}", types.BlockType),
	}
}

func newTestSearcher(t *testing.T) (*Searcher, *fakeIndex, *fakeEmbedder) {
	t.Helper()
	idx := &fakeIndex{hits: sampleHits()}
	emb := &fakeEmbedder{}
	s, err := NewSearcher(idx, emb, 8)
	require.NoError(t, err)
	return s, idx, emb
}

func TestSearchVectorMode(t *testing.T) {
	s, idx, _ := newTestSearcher(t)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "dial", Limit: 2, Mode: SearchModeVector})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, idx.lastLimit)
	assert.Equal(t, "Dial", resp.Results[0].Name)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
	assert.Equal(t, SearchModeVector, resp.SearchMode)
	for _, r := range resp.Results {
		assert.NotEmpty(t, r.FilePath)
		assert.NotEmpty(t, r.Content)
		assert.InDelta(t, 0, r.Score, 1.0001)
	}
}

func TestSearchHybridPromotesTermMatches(t *testing.T) {
	s, idx, _ := newTestSearcher(t)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "retry backoff", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, SearchModeHybrid, resp.SearchMode)
	assert.Equal(t, 9, idx.lastLimit, "hybrid mode over-fetches")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Backoff", resp.Results[0].Name)
	assert.InDelta(t, 0.85, resp.Results[0].Score, 1e-9, "score stays the cosine similarity")
}

func TestSearchFilters(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	ctx := context.Background()

	resp, err := s.Search(ctx, SearchRequest{
		Query:   "anything",
		Mode:    SearchModeVector,
		Filters: &Filters{FilePattern: "internal/net"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Contains(t, r.FilePath, "internal/net/")
	}

	resp, err = s.Search(ctx, SearchRequest{
		Query:   "anything",
		Mode:    SearchModeVector,
		Filters: &Filters{Kinds: []types.BlockKind{types.BlockFunction}, MinScore: 0.86},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Dial", resp.Results[0].Name)

	resp, err = s.Search(ctx, SearchRequest{Query: "anything", Filters: &Filters{FilePattern: "*.md"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "docs/retry.md", resp.Results[0].FilePath)
}

func TestSearchCache(t *testing.T) {
	s, idx, emb := newTestSearcher(t)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	req := SearchRequest{Query: "dial", UseCache: true, CacheTTL: time.Minute}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, idx.calls)

	second.Results[0].Name = "mutated"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Dial", third.Results[0].Name, "cached responses are copies")

	now = now.Add(2 * time.Minute)
	_, err = s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls, "expired entries are refreshed")

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
}

func TestSearchValidation(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	ctx := context.Background()

	_, err := s.Search(ctx, SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(ctx, SearchRequest{Query: "x", Mode: "keyword"})
	assert.ErrorContains(t, err, "unsupported search mode")
}

func TestSearchEmbedderError(t *testing.T) {
	s, idx, emb := newTestSearcher(t)
	emb.err = errors.New("rate limited")

	_, err := s.Search(context.Background(), SearchRequest{Query: "dial"})
	assert.ErrorContains(t, err, "rate limited")
	assert.Zero(t, idx.calls)
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"retry", "backoff", "http_client"}, queryTerms("Retry a backoff, of http_client retry"))
	assert.Empty(t, queryTerms("a an"))
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("internal/*/client.go", "internal/net/client.go"))
	assert.True(t, matchPath("*.go", "internal/net/client.go"))
	assert.True(t, matchPath("internal/", "internal/net/client.go"))
	assert.False(t, matchPath("pkg", "internal/net/client.go"))
}
