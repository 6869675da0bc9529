package types

// Usage aggregates token consumption reported by an embedding provider
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.TotalTokens += other.TotalTokens
}

// EmbeddingBatchResult is the outcome of one provider call.
// Embeddings are in the same order as the texts that were submitted.
type EmbeddingBatchResult struct {
	Embeddings [][]float32
	Usage      Usage
}
