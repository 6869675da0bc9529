package embedder

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// CharsPerToken is the heuristic used when no tokenizer is configured
const CharsPerToken = 4

// TokenEstimator estimates how many tokens a provider will count for text
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates tokens as ceil(len/CharsPerToken)
type HeuristicEstimator struct {
	CharsPerToken int
}

func (h HeuristicEstimator) Estimate(text string) int {
	cpt := h.CharsPerToken
	if cpt <= 0 {
		cpt = CharsPerToken
	}
	return (len(text) + cpt - 1) / cpt
}

var bpeLoaderOnce sync.Once

// TiktokenEstimator counts tokens with a BPE encoding loaded from the
// embedded offline tables, so no network access is needed
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (cl100k_base when empty)
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	bpeLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (t *TiktokenEstimator) Estimate(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewEstimator builds the estimator selected by name
func NewEstimator(name string) (TokenEstimator, error) {
	switch name {
	case "", "heuristic":
		return HeuristicEstimator{CharsPerToken: CharsPerToken}, nil
	case "tiktoken":
		return NewTiktokenEstimator("")
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q", ErrInvalidInput, name)
	}
}
