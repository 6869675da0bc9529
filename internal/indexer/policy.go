package indexer

import (
	"fmt"

	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/pkg/types"
)

// OutcomeKind classifies a finished scan
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeDegraded
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Thresholds are failure rates in [0, 1]. A rate above Degraded completes
// with warnings, a rate above Fatal fails the run.
type Thresholds struct {
	Degraded float64
	Fatal    float64
}

// DefaultThresholds matches the config defaults
var DefaultThresholds = Thresholds{Degraded: 0.1, Fatal: 0.5}

// ThresholdsFromConfig falls back to DefaultThresholds for unset values
func ThresholdsFromConfig(cfg config.IndexingConfig) Thresholds {
	t := Thresholds{Degraded: cfg.DegradedThreshold, Fatal: cfg.FatalThreshold}
	if t.Fatal <= 0 {
		t.Fatal = DefaultThresholds.Fatal
	}
	if t.Degraded <= 0 || t.Degraded > t.Fatal {
		t.Degraded = min(DefaultThresholds.Degraded, t.Fatal)
	}
	return t
}

// Outcome is the verdict of the failure policy
type Outcome struct {
	Kind        OutcomeKind
	FailureRate float64
	Message     string
}

// EvaluateFailures applies the failure policy to the blocks of one scan.
// found excludes blocks that were dropped for size. issues are the batch
// failures in the order they were observed.
func EvaluateFailures(found, indexed int, issues []types.Issue, t Thresholds) Outcome {
	if found <= 0 {
		return Outcome{Kind: OutcomeSuccess, Message: "Index up to date"}
	}
	indexed = min(max(indexed, 0), found)
	failed := found - indexed
	rate := float64(failed) / float64(found)

	switch {
	case indexed == 0:
		return Outcome{Kind: OutcomeFatal, FailureRate: rate, Message: zeroIndexedMessage(found, issues)}
	case rate > t.Fatal:
		return Outcome{
			Kind:        OutcomeFatal,
			FailureRate: rate,
			Message: fmt.Sprintf("Indexing failed: %d of %d blocks could not be indexed (%.0f%%). "+
				"Check network connectivity and the embedding provider configuration.", failed, found, rate*100),
		}
	case rate > t.Degraded:
		return Outcome{
			Kind:        OutcomeDegraded,
			FailureRate: rate,
			Message: fmt.Sprintf("Indexing completed with warnings: %d of %d blocks failed (%.0f%%)",
				failed, found, rate*100),
		}
	case failed > 0:
		return Outcome{
			Kind:        OutcomeSuccess,
			FailureRate: rate,
			Message:     fmt.Sprintf("Indexed %d of %d blocks", indexed, found),
		}
	default:
		return Outcome{Kind: OutcomeSuccess, Message: fmt.Sprintf("Indexed %d blocks", indexed)}
	}
}

func zeroIndexedMessage(found int, issues []types.Issue) string {
	var first types.Issue
	if len(issues) > 0 {
		first = issues[0]
	}

	switch first.Kind {
	case types.KindRateLimit:
		return fmt.Sprintf("Indexing failed: the embedding provider rate limited every request (%d blocks). "+
			"Wait a few minutes or lower scanner.embed_concurrency, then start indexing again.", found)
	case types.KindAuth:
		return "Indexing failed: the embedding provider rejected the credentials. " +
			"Check the API key in the config file or environment."
	case types.KindQuota:
		return "Indexing failed: the embedding provider quota is exhausted. " +
			"Check the billing and plan limits of the provider account."
	}

	msg := fmt.Sprintf("Indexing failed: none of %d blocks could be indexed", found)
	if first.Message != "" {
		msg += ": " + first.Message
	}
	return msg
}
