// Package embedder turns text blocks into vector embeddings through a remote
// or local provider, in token-bounded batches with retry.
//
// # Basic Usage
//
//	batcher, err := embedder.NewBatcherFromConfig(cfg.Embedder)
//	if err != nil {
//	    return err
//	}
//	res, err := batcher.Embed(ctx, texts)
//	// res.Embeddings[i] belongs to texts[res.Indices[i]]
//
// # Batching
//
// Plan walks the remaining texts from the front and adds each one to the
// current batch while the running token estimate stays within
// MaxBatchTokens. The first text that does not fit closes the batch, so the
// concatenation of all batches keeps input order. Texts whose own estimate
// exceeds MaxItemTokens can never be sent and are dropped with a warning.
//
// Token counts are estimates. HeuristicEstimator divides length by four;
// TiktokenEstimator uses the cl100k_base encoding from offline tables.
//
// # Retry
//
// Each batch runs through a bounded retry loop. Failures are classified:
//
//   - rate_limit: exponential backoff from RateLimitBaseDelay with jitter
//   - transient (timeouts, resets, 5xx) and unknown: backoff from TransientBaseDelay
//   - auth, quota, invalid_request: fail at once
//
// A terminal failure is returned as *BatchError carrying the kind and attempt
// count, so callers can count it instead of aborting a whole scan.
//
// # Provider Profiles
//
// ProviderProfile holds everything that differs between providers: base URL,
// token ceilings, retry budget and delays. Models listed in StrictModels get
// a smaller batch ceiling and longer delays through ForModel.
//
// # Providers
//
// HTTPProvider speaks the OpenAI-compatible /embeddings API used by OpenAI,
// Jina, Gemini and Ollama. LocalProvider returns deterministic hash vectors
// for offline use and tests.
//
// # Query Cache
//
// QueryEmbedder caches search query embeddings in an LRU keyed by model and
// text hash.
package embedder
