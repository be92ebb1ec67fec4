package client

import (
	"context"
	"errors"
)

// ErrorCategory is a stable label for error classification in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout   ErrorCategory = "timeout"
	ErrorCategoryTransport ErrorCategory = "transport"
	ErrorCategoryStatus    ErrorCategory = "upstream_status"
	ErrorCategoryMalformed ErrorCategory = "malformed"
	ErrorCategoryConfig    ErrorCategory = "config"
	ErrorCategoryUnknown   ErrorCategory = "unknown"
)

// CategorizeError maps a FetchHumidity error to a stable ErrorCategory.
// The monitor shows one generic alert for all of them; the category only feeds logs.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrTransport):
		return ErrorCategoryTransport
	case errors.Is(err, ErrUpstreamStatus):
		return ErrorCategoryStatus
	case errors.Is(err, ErrMalformedBody):
		return ErrorCategoryMalformed
	case errors.Is(err, ErrInvalidURL):
		return ErrorCategoryConfig
	}
	return ErrorCategoryUnknown
}

// UpstreamStatus returns the status code carried by err, if any.
func UpstreamStatus(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}
