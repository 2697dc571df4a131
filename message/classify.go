package message

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyError maps an arbitrary error from model resolution, stream
// start, or a mid-stream error part into one of the categorical
// ErrorType values of spec.md §7, grounded on the teacher's
// isContextLimitError/isTransientNetworkError heuristics
// (genai/service/core/generate.go): a case-insensitive substring scan
// over the error text, net.Error inspected for Timeout/Temporary, and
// context.Canceled recognized explicitly before falling through to the
// text scan.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrAborted
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return ErrNetwork
		}
		type temporary interface{ Temporary() bool }
		if t, ok := any(nerr).(temporary); ok && t.Temporary() {
			return ErrNetwork
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "context length exceeded", "maximum context length",
		"exceeds context length", "exceeds the context window", "prompt is too long",
		"prompt too long", "token limit", "too many tokens", "input is too long",
		"request too large", "context_length_exceeded"):
		return ErrContextExceeded
	case containsAny(msg, "401", "unauthorized", "invalid api key", "authentication failed", "invalid_api_key"):
		return ErrAuthentication
	case containsAny(msg, "429", "rate limit", "rate_limit", "too many requests"):
		return ErrRateLimit
	case containsAny(msg, "quota", "insufficient_quota", "billing"):
		return ErrQuota
	case containsAny(msg, "connection reset", "connection refused", "dial tcp", "i/o timeout", "no such host"):
		return ErrNetwork
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"):
		return ErrServerError
	case containsAny(msg, "api key not found", "missing api key", "no api key"):
		return ErrAPIKeyNotFound
	case containsAny(msg, "cancelled", "canceled", "aborted"):
		return ErrAborted
	default:
		return ErrUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
