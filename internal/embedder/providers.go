package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/gocontext-index/pkg/types"
)

// LocalDimension is the vector size of LocalProvider
const LocalDimension = 384

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 64 << 10

// HTTPProvider calls an OpenAI-compatible /embeddings endpoint. OpenAI, Jina,
// Gemini (OpenAI compatibility endpoint) and Ollama all speak this format.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for profile. Empty model and baseURL fall
// back to the profile defaults.
func NewHTTPProvider(profile ProviderProfile, apiKey, model, baseURL string, timeout time.Duration) (*HTTPProvider, error) {
	if apiKey == "" && profile.Name != ProviderOllama {
		return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, profile.Name)
	}
	if model == "" {
		model = profile.DefaultModel
	}
	if baseURL == "" {
		baseURL = profile.BaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		name:      profile.Name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		dimension: profile.Dimension,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string      `json:"model"`
	Usage types.Usage `json:"usage"`
}

func (p *HTTPProvider) Embed(ctx context.Context, texts []string, model string) (*types.EmbeddingBatchResult, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := Classify(err)
		if kind == types.KindUnknown {
			kind = types.KindTransient
		}
		return nil, &ProviderError{Kind: kind, Message: "api call failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, NewStatusError(resp.StatusCode, string(bodyBytes), parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &ProviderError{Kind: types.KindTransient, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}

	if len(apiResp.Data) != len(texts) {
		return nil, &ProviderError{
			Kind:       types.KindInvalidRequest,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(apiResp.Data)),
		}
	}

	// Responses carry an explicit index; do not trust array order
	embeddings := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, &ProviderError{
				Kind:       types.KindInvalidRequest,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("invalid embedding index %d", d.Index),
			}
		}
		embeddings[d.Index] = d.Embedding
	}

	return &types.EmbeddingBatchResult{Embeddings: embeddings, Usage: apiResp.Usage}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Model() string { return p.model }

func (p *HTTPProvider) Dimension() int { return p.dimension }

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// parseRetryAfter understands the delta-seconds and HTTP-date forms
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// LocalProvider produces deterministic hash-derived vectors. It needs no
// network and is meant for offline use and tests; vectors carry no semantics.
type LocalProvider struct {
	model     string
	dimension int
	estimator TokenEstimator
}

// NewLocalProvider creates a local provider with the given dimension
// (LocalDimension when <= 0)
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     "local-hash",
		dimension: dimension,
		estimator: HeuristicEstimator{CharsPerToken: CharsPerToken},
	}
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string, _ string) (*types.EmbeddingBatchResult, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &types.EmbeddingBatchResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		res.Embeddings[i] = HashVector(text, l.dimension)
		tokens := l.estimator.Estimate(text)
		res.Usage.PromptTokens += tokens
		res.Usage.TotalTokens += tokens
	}
	return res, nil
}

func (l *LocalProvider) Name() string { return ProviderLocal }

func (l *LocalProvider) Model() string { return l.model }

func (l *LocalProvider) Dimension() int { return l.dimension }

func (l *LocalProvider) Close() error { return nil }

// HashVector expands sha256(text) into a unit vector of the given dimension
func HashVector(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	seed := sha256.Sum256([]byte(text))
	var counter [4]byte
	for i := 0; i < dimension; i += 8 {
		binary.LittleEndian.PutUint32(counter[:], uint32(i))
		block := sha256.Sum256(append(seed[:], counter[:]...))
		for j := 0; j < 8 && i+j < dimension; j++ {
			bits := binary.LittleEndian.Uint32(block[j*4:])
			vector[i+j] = float32(bits)/float32(math.MaxUint32)*2 - 1
		}
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
