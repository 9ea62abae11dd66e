package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound  = errors.New("source not found")
	ErrNoProxyAvailable = errors.New("no proxy available")
	ErrFetchTimeout    = errors.New("fetch timed out")
	ErrAlreadyFetching = errors.New("source is already being fetched")
)

// TransportError covers connect, DNS, TLS, timeout and retryable HTTP
// failures. It is retried with backoff before surfacing.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error for %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError covers malformed payloads: bad JSON, HTML with no item
// matches, unparseable feeds. Never retried.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error for %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ProxyError marks a transport failure attributable to the proxy itself, so
// the substrate can report health and retry direct when fallback is allowed.
type ProxyError struct {
	ProxyID string
	Err     error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s failed: %v", e.ProxyID, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// StrategyError covers dead browser sessions and items that all failed
// normalisation; it may trigger the HTTP fallback path once.
type StrategyError struct {
	SourceID string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy error for %s: %v", e.SourceID, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// IsRetryable reports whether a fetch failure should go through the backoff
// loop. Protocol errors are final; transport errors are not.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		// 4xx except 429 is final
		if te.StatusCode >= 400 && te.StatusCode < 500 && te.StatusCode != 429 {
			return false
		}
		return true
	}
	var xe *ProxyError
	return errors.As(err, &xe)
}
