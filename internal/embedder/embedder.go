package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/gocontext-index/pkg/types"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrEmptyText           = errors.New("text cannot be empty")
	ErrNoProviderEnabled   = errors.New("no embedding provider configured")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
)

// Provider is a remote or local embedding model. Embed returns one vector per
// input text, in input order, and reports failures as *ProviderError so the
// batcher can classify them.
type Provider interface {
	Embed(ctx context.Context, texts []string, model string) (*types.EmbeddingBatchResult, error)

	// Name returns the provider identifier (openai, gemini, ...)
	Name() string

	// Model returns the default model id
	Model() string

	// Dimension returns the embedding dimension for the default model
	Dimension() int

	Close() error
}

// ComputeHash returns the hex sha256 of text, used as a cache key
func ComputeHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// ValidateTexts rejects empty batches and blank texts
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts", ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: text %d", ErrEmptyText, i)
		}
	}
	return nil
}
