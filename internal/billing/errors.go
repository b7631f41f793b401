package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound          = errors.New("billing_resource_not_found")
	ErrPaginationStalled = errors.New("billing_pagination_stalled")
	ErrInvalidCredential = errors.New("invalid_billing_credential")
)

type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindAuthentication ErrorKind = "authentication"
	KindPermission     ErrorKind = "permission"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindNetwork        ErrorKind = "network"
	KindTimeout        ErrorKind = "timeout"
	KindProvider       ErrorKind = "provider"
	KindUnknown        ErrorKind = "unknown"
)

// Retryable reports whether the next scheduled attempt may succeed without operator action.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindNetwork, KindTimeout, KindProvider:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider SDK failure with a stable classification.
type ProviderError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("billing %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCredential):
		return KindAuthentication
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return ClassifyError(err).Retryable()
}
