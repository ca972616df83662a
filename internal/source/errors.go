package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a fetch failure for retry policy.
type Kind int

const (
	// KindTransient covers network errors, timeouts, and 5xx responses;
	// the scheduler retries these with backoff.
	KindTransient Kind = iota
	// KindPermanent covers bad credentials and other non-retryable 4xx
	// responses; the scheduler halts the affected asset class.
	KindPermanent
	// KindRateLimited covers provider backoff requests (429), optionally
	// carrying a retry-after hint.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// FetchError wraps an upstream failure with its retry classification.
type FetchError struct {
	Kind       Kind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(provider string, err error) error {
	return &FetchError{Kind: KindTransient, Provider: provider, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(provider string, err error) error {
	return &FetchError{Kind: KindPermanent, Provider: provider, Err: err}
}

// RateLimited wraps err as a provider backoff request.
func RateLimited(provider string, retryAfter time.Duration, err error) error {
	return &FetchError{Kind: KindRateLimited, Provider: provider, RetryAfter: retryAfter, Err: err}
}

func kindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err should be retried with backoff. Unknown
// errors count as transient so the pipeline never gives up on a glitch.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return !ok || k == KindTransient
}

// IsPermanent reports whether err requires operator intervention.
func IsPermanent(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermanent
}

// IsRateLimited reports whether the provider asked for backoff.
func IsRateLimited(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRateLimited
}

// RetryAfterHint extracts the provider's retry-after hint, if any.
func RetryAfterHint(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// classifyHTTP maps an HTTP response status onto the failure taxonomy.
func classifyHTTP(provider string, resp *http.Response, err error) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return RateLimited(provider, parseRetryAfter(resp.Header.Get("Retry-After")), err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Permanent(provider, err)
	}
	if resp.StatusCode >= 500 {
		return Transient(provider, err)
	}
	if resp.StatusCode >= 400 {
		return Permanent(provider, err)
	}
	return Transient(provider, err)
}

// classifyRequest maps a transport-level error onto the taxonomy. Context
// timeouts and network failures are retryable.
func classifyRequest(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return Transient(provider, err)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
