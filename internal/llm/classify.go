package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorClass partitions provider failures by how the cascade reacts.
type ErrorClass int

const (
	// ClassTransient covers transport errors, timeouts and 5xx: try the
	// next attempt or candidate.
	ClassTransient ErrorClass = iota
	// ClassFatal covers auth, authorization and rate-limit failures: abort
	// the entire cascade, no further candidates.
	ClassFatal
	// ClassUnsupportedParam means the provider rejected an optional knob.
	// The same attempt is retried without it and does not count against the
	// retry budget.
	ClassUnsupportedParam
)

func (c ErrorClass) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassUnsupportedParam:
		return "unsupported_param"
	default:
		return "transient"
	}
}

// Classify maps a provider error to its class. For unsupported-parameter
// rejections the offending parameter name is returned when the provider
// identified it.
func Classify(err error) (ErrorClass, string) {
	if err == nil {
		return ClassTransient, ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient, ""
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return ClassFatal, ""
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			if param := unsupportedParam(apiErr); param != "" {
				return ClassUnsupportedParam, param
			}
			return ClassTransient, ""
		}
		return ClassTransient, ""
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return ClassFatal, ""
		}
		return ClassTransient, ""
	}
	return ClassTransient, ""
}

// unsupportedParam extracts the rejected parameter name from a 4xx error.
func unsupportedParam(apiErr *openai.APIError) string {
	msg := strings.ToLower(apiErr.Message)
	if apiErr.Param != nil && *apiErr.Param != "" {
		if strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported") ||
			strings.Contains(msg, "unknown parameter") || strings.Contains(msg, "unexpected") {
			return *apiErr.Param
		}
	}
	for _, p := range []string{"reasoning_effort", "verbosity"} {
		if strings.Contains(msg, p) && (strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported") || strings.Contains(msg, "unknown")) {
			return p
		}
	}
	return ""
}
