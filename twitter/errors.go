package twitter

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets the Twitter API error space into the categories the rest of
// the service cares about. Anything unrecognized stays Unknown.
type Kind int

const (
	Unknown Kind = iota
	RateLimited
	Unauthorized
	Forbidden
	MalformedRequest
	PayloadTooLarge
)

// String returns a short operator-facing label for the error kind.
func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate limited"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case MalformedRequest:
		return "malformed request"
	case PayloadTooLarge:
		return "payload too large"
	default:
		return "unknown error"
	}
}

// APIError is a classified failure from the Twitter API.
type APIError struct {
	Detail     string
	Kind       Kind
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("twitter: %s (HTTP %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("twitter: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Detail)
}

// KindOf extracts the classification from an error chain.
// Returns Unknown for nil or non-API errors.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Unknown
}

// classifyStatus maps a Twitter HTTP status code onto the error taxonomy.
func classifyStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusUnauthorized:
		return Unauthorized
	case http.StatusForbidden:
		return Forbidden
	case http.StatusBadRequest:
		return MalformedRequest
	case http.StatusRequestEntityTooLarge:
		return PayloadTooLarge
	default:
		return Unknown
	}
}

// retryable reports whether a request should be attempted again: network
// errors, 5xx and rate limiting. Caller errors and auth problems are final.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == RateLimited || apiErr.StatusCode >= 500
	}
	return true
}
