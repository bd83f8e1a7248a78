package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a collaborator failure.
type Kind int

const (
	// KindTransient covers timeouts, 5xx, 429 and exhausted rate limits.
	// The call is retried with backoff.
	KindTransient Kind = iota
	// KindPermanent covers categorical 4xx failures. The item moves to its
	// stage's failure state without retry.
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError is a classified failure of an external collaborator.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	// RetryAfter is the server-requested delay before the next attempt.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient marks err as a retryable failure of provider.
func Transient(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

// Permanent marks err as a categorical failure of provider.
func Permanent(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}
}

// FromResponse classifies a non-2xx HTTP response. body is a short excerpt
// of the response used in the message.
func FromResponse(provider string, resp *http.Response, body string) *ProviderError {
	kind := KindPermanent
	if IsTransientHTTPStatus(resp.StatusCode) {
		kind = KindTransient
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: resp.StatusCode,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Err:        fmt.Errorf("%s %s", resp.Status, strings.TrimSpace(body)),
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the header is absent or malformed.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// IsTransient reports whether err is safe to retry: an explicit transient
// ProviderError, an open circuit, a timeout, or a common network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether err is a categorical failure. Errors that are
// neither classified nor recognizably transient count as permanent, except
// cancellation, which is not a provider failure at all.
func IsPermanent(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !IsTransient(err)
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return statusCode != http.StatusNotImplemented
	}
	return false
}

// IsRateLimited reports whether err carries a 429 response.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusTooManyRequests
}
