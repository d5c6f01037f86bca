package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Fetch error kinds.
const (
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindAuth        = "auth"
	KindMissing     = "missing_element"
	KindMissingFile = "missing_file"
	KindStatus      = "http_status"
	KindRead        = "read"
	KindOther       = "other"
)

// ErrAuthUnavailable is returned by Authenticate when a fetcher has no way
// to re-establish its session.
var ErrAuthUnavailable = errors.New("scraper: authentication unavailable")

// FetchTimeoutError reports that a period's result did not appear within
// the bounded wait. It is a hard failure for the period.
type FetchTimeoutError struct {
	Period string
	Step   string
	Err    error
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Errorf("timeout fetching %s (%s): %w", e.Period, e.Step, e.Err).Error()
}

func (e *FetchTimeoutError) Unwrap() error {
	return e.Err
}

// FetchError reports any other failure to fetch one period.
type FetchError struct {
	Period string
	Step   string
	Kind   string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Errorf("fetch %s (%s, %s): %w", e.Period, e.Step, e.Kind, e.Err).Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth another attempt: connection
// failures and rate limiting are, timeouts and everything else are not.
func Retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == KindConnection || fe.Kind == KindRateLimited
}

// ErrorKind returns a short label for err, used in logs and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout *FetchTimeoutError
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindOther
}

// classifyError maps a transport error and/or HTTP status to a typed fetch
// error for period p at step.
func classifyError(p, step string, err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &FetchTimeoutError{Period: p, Step: step, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchTimeoutError{Period: p, Step: step, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &FetchError{Period: p, Step: step, Kind: KindConnection, Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		kind := KindStatus
		switch statusCode {
		case http.StatusUnauthorized:
			kind = KindAuth
		case http.StatusForbidden:
			kind = KindForbidden
		case http.StatusNotFound:
			kind = KindNotFound
		case http.StatusTooManyRequests:
			kind = KindRateLimited
		}
		return &FetchError{Period: p, Step: step, Kind: kind, Err: wrapped}
	}

	if err == nil {
		return nil
	}
	return &FetchError{Period: p, Step: step, Kind: KindOther, Err: err}
}
