package embedder

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dshills/gocontext-index/pkg/types"
)

// Provider identifiers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderJina   = "jina"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"
)

// Classifier maps a provider failure to an error kind
type Classifier func(error) types.ErrorKind

// ProviderProfile parameterizes batching and retry for one provider. Every
// provider runs the same batch and retry algorithm; only these numbers differ.
type ProviderProfile struct {
	Name         string
	BaseURL      string
	DefaultModel string
	Dimension    int

	// Batching
	MaxBatchTokens int
	MaxItemTokens  int
	MaxBatchItems  int

	// Retry
	MaxRetries         int // total attempts per batch
	RateLimitBaseDelay time.Duration
	TransientBaseDelay time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	JitterFactor       float64 // delay is scaled by a random factor in [1-j, 1+j]

	// Models with tighter provider limits. For these the batch ceiling is
	// divided by StrictScale and base delays multiplied by it.
	StrictModels []string
	StrictScale  int

	Classify Classifier
}

var builtinProfiles = map[string]ProviderProfile{
	ProviderOpenAI: {
		Name:               ProviderOpenAI,
		BaseURL:            "https://api.openai.com/v1",
		DefaultModel:       "text-embedding-3-small",
		Dimension:          1536,
		MaxBatchTokens:     100000,
		MaxItemTokens:      8191,
		MaxBatchItems:      2048,
		MaxRetries:         5,
		RateLimitBaseDelay: 500 * time.Millisecond,
		TransientBaseDelay: 250 * time.Millisecond,
		MaxDelay:           30 * time.Second,
		Multiplier:         2,
		JitterFactor:       0.2,
		StrictModels:       []string{"text-embedding-3-large"},
		StrictScale:        2,
	},
	ProviderGemini: {
		Name:               ProviderGemini,
		BaseURL:            "https://generativelanguage.googleapis.com/v1beta/openai",
		DefaultModel:       "text-embedding-004",
		Dimension:          768,
		MaxBatchTokens:     20000,
		MaxItemTokens:      2048,
		MaxBatchItems:      100,
		MaxRetries:         5,
		RateLimitBaseDelay: 2 * time.Second,
		TransientBaseDelay: 500 * time.Millisecond,
		MaxDelay:           60 * time.Second,
		Multiplier:         2,
		JitterFactor:       0.2,
		StrictModels:       []string{"gemini-embedding-001"},
		StrictScale:        2,
	},
	ProviderJina: {
		Name:               ProviderJina,
		BaseURL:            "https://api.jina.ai/v1",
		DefaultModel:       "jina-embeddings-v3",
		Dimension:          1024,
		MaxBatchTokens:     64000,
		MaxItemTokens:      8192,
		MaxBatchItems:      512,
		MaxRetries:         3,
		RateLimitBaseDelay: time.Second,
		TransientBaseDelay: 200 * time.Millisecond,
		MaxDelay:           20 * time.Second,
		Multiplier:         2,
		JitterFactor:       0.2,
	},
	ProviderOllama: {
		Name:               ProviderOllama,
		BaseURL:            "http://localhost:11434/v1",
		DefaultModel:       "nomic-embed-text",
		Dimension:          768,
		MaxBatchTokens:     16000,
		MaxItemTokens:      2048,
		MaxBatchItems:      64,
		MaxRetries:         3,
		RateLimitBaseDelay: time.Second,
		TransientBaseDelay: 200 * time.Millisecond,
		MaxDelay:           10 * time.Second,
		Multiplier:         2,
		JitterFactor:       0.1,
	},
	ProviderLocal: {
		Name:               ProviderLocal,
		DefaultModel:       "local-hash",
		Dimension:          LocalDimension,
		MaxBatchTokens:     100000,
		MaxItemTokens:      8192,
		MaxBatchItems:      256,
		MaxRetries:         1,
		RateLimitBaseDelay: 10 * time.Millisecond,
		TransientBaseDelay: 10 * time.Millisecond,
		MaxDelay:           time.Second,
		Multiplier:         2,
	},
}

// Profile returns the built-in profile for a provider
func Profile(name string) (ProviderProfile, error) {
	p, ok := builtinProfiles[strings.ToLower(name)]
	if !ok {
		return ProviderProfile{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	p.StrictModels = append([]string(nil), p.StrictModels...)
	return p.normalized(), nil
}

// IsStrict reports whether model has tighter limits than the profile default
func (p ProviderProfile) IsStrict(model string) bool {
	for _, m := range p.StrictModels {
		if strings.HasPrefix(model, m) {
			return true
		}
	}
	return false
}

// ForModel returns the profile tuned for model: strict models get a smaller
// batch ceiling and longer base delays
func (p ProviderProfile) ForModel(model string) ProviderProfile {
	if !p.IsStrict(model) || p.StrictScale <= 1 {
		return p
	}
	scale := p.StrictScale
	p.MaxBatchTokens /= scale
	p.MaxBatchItems = max(1, p.MaxBatchItems/scale)
	p.RateLimitBaseDelay *= time.Duration(scale)
	p.TransientBaseDelay *= time.Duration(scale)
	p.StrictScale = 1
	return p.normalized()
}

// Backoff returns the wait before attempt+1 after a failure of kind on
// attempt (0-based). rnd returns a value in [0, 1).
func (p ProviderProfile) Backoff(kind types.ErrorKind, attempt int, rnd func() float64) time.Duration {
	base := p.TransientBaseDelay
	if kind == types.KindRateLimit {
		base = p.RateLimitBaseDelay
	}

	d := float64(base) * math.Pow(p.Multiplier, float64(attempt))
	if p.JitterFactor > 0 && rnd != nil {
		d *= 1 + p.JitterFactor*(2*rnd()-1)
	}
	if maxDelay := float64(p.MaxDelay); p.MaxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p ProviderProfile) normalized() ProviderProfile {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxBatchItems < 1 {
		p.MaxBatchItems = math.MaxInt
	}
	if p.MaxBatchTokens < 1 {
		p.MaxBatchTokens = 1
	}
	if p.MaxItemTokens < 1 || p.MaxItemTokens > p.MaxBatchTokens {
		p.MaxItemTokens = p.MaxBatchTokens
	}
	if p.Classify == nil {
		p.Classify = Classify
	}
	return p
}
