package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/pkg/types"
)

func newTestHTTPProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	profile, err := Profile(ProviderOpenAI)
	require.NoError(t, err)
	p, err := NewHTTPProvider(profile, "sk-test", "", srv.URL, 5*time.Second)
	require.NoError(t, err)
	return p
}

func TestHTTPProviderEmbed(t *testing.T) {
	p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// Out of order on purpose
		_, _ = w.Write([]byte(`{
			"data": [
				{"index": 1, "embedding": [0.2, 0.2]},
				{"index": 0, "embedding": [0.1, 0.1]}
			],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	})

	res, err := p.Embed(context.Background(), []string{"first", "second"}, "")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.1}, {0.2, 0.2}}, res.Embeddings)
	assert.Equal(t, types.Usage{PromptTokens: 4, TotalTokens: 4}, res.Usage)
}

func TestHTTPProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		kind       types.ErrorKind
		wantDelay  time.Duration
	}{
		{"rate limit", 429, `{"error":"rate limit"}`, "2", types.KindRateLimit, 2 * time.Second},
		{"auth", 401, `{"error":"invalid api key"}`, "", types.KindAuth, 0},
		{"server", 502, "bad gateway", "", types.KindTransient, 0},
		{"bad request", 400, "too long", "", types.KindInvalidRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Embed(context.Background(), []string{"x"}, "")
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.wantDelay, pe.RetryAfter)
		})
	}
}

func TestHTTPProviderCountMismatch(t *testing.T) {
	p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})

	_, err := p.Embed(context.Background(), []string{"a", "b"}, "")
	assert.Equal(t, types.KindInvalidRequest, Classify(err))
}

func TestHTTPProviderConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	profile, err := Profile(ProviderOpenAI)
	require.NoError(t, err)
	p, err := NewHTTPProvider(profile, "sk", "", url, time.Second)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"a"}, "")
	assert.Equal(t, types.KindTransient, Classify(err))
}

func TestHTTPProviderRequiresKey(t *testing.T) {
	profile, err := Profile(ProviderOpenAI)
	require.NoError(t, err)
	_, err = NewHTTPProvider(profile, "", "", "", 0)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	ollama, err := Profile(ProviderOllama)
	require.NoError(t, err)
	_, err = NewHTTPProvider(ollama, "", "", "", 0)
	assert.NoError(t, err)
}

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider(0)
	assert.Equal(t, LocalDimension, p.Dimension())

	a, err := p.Embed(context.Background(), []string{"alpha", "beta", "alpha"}, "")
	require.NoError(t, err)
	require.Len(t, a.Embeddings, 3)
	assert.Equal(t, a.Embeddings[0], a.Embeddings[2])
	assert.NotEqual(t, a.Embeddings[0], a.Embeddings[1])
	assert.Len(t, a.Embeddings[0], LocalDimension)
	assert.Positive(t, a.Usage.TotalTokens)

	var norm float64
	for _, v := range a.Embeddings[0] {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	_, err = p.Embed(context.Background(), []string{""}, "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
}

func TestNewProviderFromConfig(t *testing.T) {
	p, profile, err := NewProvider(config.EmbedderConfig{Provider: "local", Dimension: 16})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, p.Name())
	assert.Equal(t, 16, p.Dimension())
	assert.Equal(t, ProviderLocal, profile.Name)

	_, profile, err = NewProvider(config.EmbedderConfig{Provider: "openai", APIKey: "k", MaxRetries: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, profile.MaxRetries)

	_, _, err = NewProvider(config.EmbedderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	b, err := NewBatcherFromConfig(config.EmbedderConfig{Provider: "local", Tokenizer: "heuristic"})
	require.NoError(t, err)
	assert.Equal(t, "local-hash", b.Model())
}
