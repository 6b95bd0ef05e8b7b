package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ValidationError is returned before any network call when a payload breaks
// a WhatsApp formatting constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("whatsapp: invalid %s: %s", e.Field, e.Reason)
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp: API error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("whatsapp: unexpected status %d: %s", e.StatusCode, e.Message)
}

var retryableStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Graph codes 4 (rate limited), 100 and 190 are treated as transient. Code 100 is
// also used for some invalid-parameter errors; those resolve after the retry budget.
var retryableGraphCodes = map[int]bool{4: true, 100: true, 190: true}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatuses[apiErr.StatusCode] || retryableGraphCodes[apiErr.Code]
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
