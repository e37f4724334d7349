package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind tags an error with the category callers branch on.
type ErrorKind string

const (
	KindUnknown              ErrorKind = ""
	KindValidation           ErrorKind = "validation"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindRateLimited          ErrorKind = "rate_limited"
	KindConfiguration        ErrorKind = "configuration"
	KindStoreUnavailable     ErrorKind = "store_unavailable"
)

var (
	// ErrValidation indicates malformed input such as a missing email or an unparsable token.
	ErrValidation = errors.New("validation error")
	// ErrAuthenticationFailed covers bad credentials and expired, invalid, revoked or mistyped tokens.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrRateLimited indicates a rate-limit tier rejected the attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrConfiguration indicates the process must not serve traffic.
	ErrConfiguration = errors.New("configuration error")
	// ErrStoreUnavailable indicates the shared store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindRateLimited, ErrRateLimited},
	{KindConfiguration, ErrConfiguration},
	{KindStoreUnavailable, ErrStoreUnavailable},
	{KindValidation, ErrValidation},
	{KindAuthenticationFailed, ErrAuthenticationFailed},
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

// RateLimitError carries the tier that rejected an attempt and how long to wait.
type RateLimitError struct {
	Tier       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by tier %s, retry after %s", e.Tier, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the wait up to whole seconds for client display.
func (e *RateLimitError) RetryAfterSeconds() int {
	return CeilSeconds(e.RetryAfter)
}

// CeilSeconds rounds d up to whole seconds, never negative.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}
