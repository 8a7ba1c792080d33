package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed        = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError    = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError    = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError     = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrDisallowedByRobots = errors.New("disallowed by robots.txt")
	ErrParsing            = errors.New("parsing error")  // Wraps specific parsing error (HTML, URL, JSON)
	ErrDatabase           = errors.New("database error") // Wraps badger/sql/redis errors
	ErrNotFound           = errors.New("record not found")
	ErrStoreContention    = errors.New("store contention, retry the operation")
	ErrLeaseLost          = errors.New("lease not held by worker")
	ErrFrontierEmpty      = errors.New("no claimable link in frontier")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// IsRetryable reports whether a fetch error is worth another lease of the same link
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRetryFailed), errors.Is(err, ErrResponseBodyRead):
		return true
	case errors.Is(err, ErrClientHTTPError), errors.Is(err, ErrOtherHTTPError),
		errors.Is(err, ErrDisallowedByRobots), errors.Is(err, ErrRequestCreation), errors.Is(err, ErrParsing):
		return false
	case errors.Is(err, ErrServerHTTPError):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// retryCause finds the error joined with ErrRetryFailed by fmt.Errorf("%w: %w", ...).
// errors.Unwrap returns nil for such multi-wrapped errors, so the tree is walked by hand.
func retryCause(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		errs := e.Unwrap()
		for i, inner := range errs {
			if inner != ErrRetryFailed {
				continue
			}
			for j, other := range errs {
				if j != i && other != nil {
					return other
				}
			}
			return nil
		}
		for _, inner := range errs {
			if cause := retryCause(inner); cause != nil {
				return cause
			}
		}
	case interface{ Unwrap() error }:
		return retryCause(e.Unwrap())
	}
	return nil
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		cause := retryCause(err)
		if cause == nil {
			return "RetryFailed_Unknown"
		}
		errMsg := strings.ToLower(cause.Error())
		switch {
		case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
			return "RetryFailed_NetworkTimeout"
		case strings.Contains(errMsg, "connection refused"):
			return "RetryFailed_ConnectionRefused"
		case strings.Contains(errMsg, "no such host"):
			return "RetryFailed_DNSLookup"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"400", "401", "403", "404", "408", "410", "429"} {
			if strings.Contains(errMsg, " "+code+" ") {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrDisallowedByRobots):
		return "Policy_Robots"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrLeaseLost):
		return "Frontier_LeaseLost"
	case errors.Is(err, ErrFrontierEmpty):
		return "Frontier_Empty"
	case errors.Is(err, ErrStoreContention):
		return "Database_Contention"
	case errors.Is(err, ErrNotFound):
		return "Database_NotFound"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
