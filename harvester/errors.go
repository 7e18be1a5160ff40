package harvester

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError indicates the request never produced a response: DNS,
// connection or timeout failures. Always retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline rather than a refused
// or reset connection.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ProviderError indicates the API answered but refused the request, either via
// HTTP status or via the status field of the payload.
type ProviderError struct {
	Op         string
	HTTPStatus int
	Status     string
	Message    string
	// PageToken is set when the request carried a continuation token.
	PageToken bool
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("%s: provider status %s: %s", e.Op, e.Status, e.Message)
	case e.Status != "":
		return fmt.Sprintf("%s: provider status %s", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: provider http status %d", e.Op, e.HTTPStatus)
	}
}

// RateLimited reports quota and throttling responses.
func (e *ProviderError) RateLimited() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.Status == "OVER_QUERY_LIMIT"
}

// Retryable reports whether repeating the same request may succeed.
// INVALID_REQUEST on a token request usually means the token has not
// propagated yet on the provider side.
func (e *ProviderError) Retryable() bool {
	if e.RateLimited() {
		return true
	}
	if e.HTTPStatus >= http.StatusInternalServerError {
		return true
	}
	switch e.Status {
	case "UNKNOWN_ERROR":
		return true
	case "INVALID_REQUEST":
		return e.PageToken
	}
	return false
}

// SchemaError indicates a response that could not be decoded or lacked a
// required field. Never retryable.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		return provider.Retryable()
	}
	return false
}

// ErrorKind returns the metrics/log label for err.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		if transport.Timeout() {
			return "timeout"
		}
		return "transport"
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		if provider.RateLimited() {
			return "rate_limited"
		}
		return "provider"
	}
	var schema *SchemaError
	if errors.As(err, &schema) {
		return "schema"
	}
	return "other"
}
