package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/gocontext-index/internal/config"
)

// NewProvider builds the provider selected by cfg and returns it with its profile
func NewProvider(cfg config.EmbedderConfig) (Provider, ProviderProfile, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = ProviderLocal
	}
	profile, err := Profile(name)
	if err != nil {
		return nil, ProviderProfile{}, err
	}

	if cfg.MaxRetries > 0 {
		profile.MaxRetries = cfg.MaxRetries
	}
	if cfg.MaxBatchTokens > 0 {
		profile.MaxBatchTokens = cfg.MaxBatchTokens
	}
	profile = profile.normalized()

	if name == ProviderLocal {
		return NewLocalProvider(cfg.Dimension), profile, nil
	}

	if cfg.Dimension > 0 {
		profile.Dimension = cfg.Dimension
	}
	p, err := NewHTTPProvider(profile, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, ProviderProfile{}, err
	}
	return p, profile, nil
}

// NewBatcherFromConfig builds a provider, its token estimator and a batcher
func NewBatcherFromConfig(cfg config.EmbedderConfig, opts ...BatcherOption) (*Batcher, error) {
	provider, profile, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	estimator, err := NewEstimator(cfg.Tokenizer)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("token estimator: %w", err)
	}
	opts = append([]BatcherOption{WithEstimator(estimator)}, opts...)
	return NewBatcher(provider, profile, opts...), nil
}
