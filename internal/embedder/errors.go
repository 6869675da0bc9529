package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/gocontext-index/pkg/types"
)

// ProviderError is a classified failure of a single provider call
type ProviderError struct {
	Kind       types.ErrorKind
	StatusCode int // 0 when the request never got a response
	Message    string
	RetryAfter time.Duration // server hint, 0 when absent
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("embedding provider %s: %s", e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewStatusError classifies an HTTP error response
func NewStatusError(status int, body string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{
		Kind:       classifyStatus(status, body),
		StatusCode: status,
		Message:    strings.TrimSpace(body),
		RetryAfter: retryAfter,
	}
}

// BatchError is returned when a batch fails terminally, either because the
// error was not retryable or because retries were exhausted
type BatchError struct {
	BatchID  string
	Kind     types.ErrorKind
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s failed after %d attempt(s): %v", e.BatchID, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Classify maps any error to an ErrorKind using, in order: typed errors,
// network errors and message patterns
func Classify(err error) types.ErrorKind {
	if err == nil {
		return types.KindUnknown
	}

	var be *BatchError
	if errors.As(err, &be) {
		return be.Kind
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrEmptyText) || errors.Is(err, ErrInvalidInput) {
		return types.KindInvalidRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return types.KindTransient
	}
	return classifyMessage(err.Error())
}

func classifyStatus(status int, body string) types.ErrorKind {
	// Some providers report exhausted billing quota as 429 or 403
	if kind := classifyMessage(body); kind == types.KindQuota {
		return kind
	}

	switch {
	case status == http.StatusTooManyRequests:
		return types.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.KindAuth
	case status == http.StatusPaymentRequired:
		return types.KindQuota
	case status == http.StatusRequestTimeout || status >= 500:
		return types.KindTransient
	case status >= 400:
		return types.KindInvalidRequest
	}
	return types.KindUnknown
}

var messagePatterns = []struct {
	kind     types.ErrorKind
	patterns []string
}{
	{types.KindQuota, []string{"insufficient_quota", "exceeded your current quota", "billing"}},
	{types.KindRateLimit, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "resource_exhausted", "status 429"}},
	{types.KindAuth, []string{"unauthorized", "invalid api key", "incorrect api key", "invalid_api_key", "permission denied", "status 401", "status 403"}},
	{types.KindTransient, []string{
		"timeout", "timed out", "connection reset", "connection refused", "broken pipe",
		"eof", "temporarily unavailable", "service unavailable", "bad gateway", "status 5",
	}},
}

func classifyMessage(msg string) types.ErrorKind {
	lower := strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.kind
			}
		}
	}
	return types.KindUnknown
}
