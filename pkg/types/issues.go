package types

import "sync"

// ErrorKind classifies a failure so callers can decide whether to retry and
// what guidance to show
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuth           ErrorKind = "auth"
	KindQuota          ErrorKind = "quota"
	KindTransient      ErrorKind = "transient"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnknown        ErrorKind = "unknown"
)

// Retryable reports whether errors of this kind are worth another attempt.
// Unknown errors are retried like transient ones.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAuth, KindQuota, KindInvalidRequest:
		return false
	}
	return true
}

// Issue is a non-fatal problem recorded during a scan
type Issue struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// IssueLog accumulates issues from concurrent workers. The zero value is ready to use.
type IssueLog struct {
	mu     sync.Mutex
	issues []Issue
}

// Add appends an issue
func (l *IssueLog) Add(kind ErrorKind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issues = append(l.issues, Issue{Kind: kind, Message: message})
}

// Len returns the number of recorded issues
func (l *IssueLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.issues)
}

// Issues returns a copy of the recorded issues in insertion order
func (l *IssueLog) Issues() []Issue {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Issue, len(l.issues))
	copy(out, l.issues)
	return out
}

// First returns the earliest issue, if any
func (l *IssueLog) First() (Issue, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.issues) == 0 {
		return Issue{}, false
	}
	return l.issues[0], true
}

// CountByKind groups issue counts by kind
func (l *IssueLog) CountByKind() map[ErrorKind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[ErrorKind]int)
	for _, is := range l.issues {
		counts[is.Kind]++
	}
	return counts
}
