package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

// Hooks observe batcher activity, typically for metrics. Any field may be nil.
type Hooks struct {
	OnBatch   func(size int, usage types.Usage)
	OnRetry   func(kind types.ErrorKind)
	OnFailure func(kind types.ErrorKind)
	OnDrop    func()
}

// Result is the aggregated output of Batcher.Embed.
// Embeddings[i] belongs to the input text at Indices[i]; Indices is ascending.
type Result struct {
	Embeddings [][]float32
	Indices    []int
	Dropped    []int // inputs too large for a single provider call
	Batches    int
	Usage      types.Usage
}

// Batcher splits texts into token-bounded batches and embeds them with retry
type Batcher struct {
	provider  Provider
	profile   ProviderProfile
	model     string
	estimator TokenEstimator
	logger    *slog.Logger
	sleep     sleepFunc
	rnd       func() float64
	hooks     Hooks
	seq       atomic.Uint64
}

// BatcherOption configures a Batcher
type BatcherOption func(*Batcher)

// WithEstimator sets the token estimator
func WithEstimator(e TokenEstimator) BatcherOption {
	return func(b *Batcher) { b.estimator = e }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = l }
}

// WithSleep replaces the backoff sleep, used by tests to observe delays
func WithSleep(fn func(ctx context.Context, d time.Duration) error) BatcherOption {
	return func(b *Batcher) { b.sleep = fn }
}

// WithJitterSource replaces the random source used for jitter
func WithJitterSource(fn func() float64) BatcherOption {
	return func(b *Batcher) { b.rnd = fn }
}

// WithHooks installs observation hooks
func WithHooks(h Hooks) BatcherOption {
	return func(b *Batcher) { b.hooks = h }
}

// WithModel overrides the provider's default model
func WithModel(model string) BatcherOption {
	return func(b *Batcher) { b.model = model }
}

// NewBatcher creates a batcher for provider. The profile is tuned for the
// effective model via ProviderProfile.ForModel.
func NewBatcher(provider Provider, profile ProviderProfile, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider:  provider,
		model:     provider.Model(),
		estimator: HeuristicEstimator{CharsPerToken: CharsPerToken},
		sleep:     sleepContext,
		rnd:       rand.Float64,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewModuleLogger("embedder", "batcher")
	}
	b.profile = profile.normalized().ForModel(b.model)
	return b
}

// Profile returns the effective profile
func (b *Batcher) Profile() ProviderProfile { return b.profile }

// Provider returns the wrapped provider
func (b *Batcher) Provider() Provider { return b.provider }

// Model returns the effective model
func (b *Batcher) Model() string { return b.model }

// Plan partitions texts into batches of input indices. Each batch stays under
// MaxBatchTokens and MaxBatchItems. Texts above MaxItemTokens, or blank, are
// returned in dropped. Batches preserve input order.
func (b *Batcher) Plan(texts []string) (batches [][]int, dropped []int) {
	remaining := make([]int, len(texts))
	for i := range texts {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		var current []int
		tokens := 0
		consumed := 0

		for _, idx := range remaining {
			text := texts[idx]
			itemTokens := b.estimator.Estimate(text)

			if strings.TrimSpace(text) == "" || itemTokens > b.profile.MaxItemTokens {
				b.logger.Warn("dropping text that cannot be embedded",
					"index", idx, "tokens", itemTokens, "max_item_tokens", b.profile.MaxItemTokens)
				dropped = append(dropped, idx)
				if b.hooks.OnDrop != nil {
					b.hooks.OnDrop()
				}
				consumed++
				continue
			}
			if tokens+itemTokens > b.profile.MaxBatchTokens || len(current) >= b.profile.MaxBatchItems {
				break
			}
			current = append(current, idx)
			tokens += itemTokens
			consumed++
		}

		if len(current) > 0 {
			batches = append(batches, current)
		}
		remaining = remaining[consumed:]
	}
	return batches, dropped
}

// Embed embeds texts in token-bounded batches. On a terminal batch failure it
// returns the embeddings gathered so far together with a *BatchError.
func (b *Batcher) Embed(ctx context.Context, texts []string) (*Result, error) {
	batches, dropped := b.Plan(texts)
	res := &Result{Dropped: dropped}

	for _, batch := range batches {
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		out, err := b.embedBatch(ctx, batchTexts)
		if err != nil {
			return res, err
		}

		res.Embeddings = append(res.Embeddings, out.Embeddings...)
		res.Indices = append(res.Indices, batch...)
		res.Usage.Add(out.Usage)
		res.Batches++
	}
	return res, nil
}

// embedBatch submits one batch through the retry loop
func (b *Batcher) embedBatch(ctx context.Context, texts []string) (*types.EmbeddingBatchResult, error) {
	batchID := fmt.Sprintf("%s-%d", b.profile.Name, b.seq.Add(1))

	hooks := retryHooks{
		sleep: b.sleep,
		rnd:   b.rnd,
		onRetry: func(kind types.ErrorKind, attempt int, delay time.Duration, err error) {
			b.logger.Warn("embedding batch failed, retrying",
				"batch", batchID, "kind", kind, "attempt", attempt+1,
				"max_attempts", b.profile.MaxRetries, "delay", delay, "error", err)
			if b.hooks.OnRetry != nil {
				b.hooks.OnRetry(kind)
			}
		},
	}

	out, attempts, kind, err := retryWithBackoff(ctx, b.profile, hooks, func(int) (*types.EmbeddingBatchResult, error) {
		r, err := b.provider.Embed(ctx, texts, b.model)
		if err != nil {
			return nil, err
		}
		if len(r.Embeddings) != len(texts) {
			return nil, &ProviderError{
				Kind:    types.KindInvalidRequest,
				Message: fmt.Sprintf("provider returned %d embeddings for %d texts", len(r.Embeddings), len(texts)),
			}
		}
		return r, nil
	})
	if err != nil {
		if kind == "" {
			kind = Classify(err)
		}
		b.logger.Error("embedding batch failed",
			"batch", batchID, "kind", kind, "attempts", attempts, "size", len(texts), "error", err)
		if b.hooks.OnFailure != nil {
			b.hooks.OnFailure(kind)
		}
		return nil, &BatchError{BatchID: batchID, Kind: kind, Attempts: attempts, Err: err}
	}

	if b.hooks.OnBatch != nil {
		b.hooks.OnBatch(len(texts), out.Usage)
	}
	b.logger.Debug("embedded batch", "batch", batchID, "size", len(texts), "attempts", attempts,
		"prompt_tokens", out.Usage.PromptTokens)
	return out, nil
}
