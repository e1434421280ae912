package reliability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusError carries the upstream status of a failed model request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "upstream status " + http.StatusText(e.StatusCode)
	}
	return "upstream status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// IsRetryable reports whether a model request that failed before producing
// any output is worth repeating. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsRetryableHTTPStatus(statusErr.StatusCode)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
