package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"DisallowedByRobots", ErrDisallowedByRobots, "Policy_Robots"},
		{"LeaseLost", ErrLeaseLost, "Frontier_LeaseLost"},
		{"FrontierEmpty", ErrFrontierEmpty, "Frontier_Empty"},
		{"NotFound", ErrNotFound, "Database_NotFound"},
		{"Contention", fmt.Errorf("%w: %w", ErrDatabase, ErrStoreContention), "Database_Contention"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"RetryFailedBare", ErrRetryFailed, "RetryFailed_Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"HTTP404", fmt.Errorf("HTTP status 404 : %w", ErrClientHTTPError), "HTTP_404"},
		{"HTTP408", fmt.Errorf("HTTP status 408 : %w", ErrClientHTTPError), "HTTP_408"},
		{"Generic4xx", fmt.Errorf("HTTP status 418: %w", ErrClientHTTPError), "HTTP_4xx"},
		{"RetryServer", fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("status 503: %w", ErrServerHTTPError)), "RetryFailed_HTTPServer"},
		{"RetryTimeout", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("i/o timeout")), "RetryFailed_NetworkTimeout"},
		{"RetryRefused", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused")), "RetryFailed_ConnectionRefused"},
		{"RetryClient", fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("status 404 : %w", ErrClientHTTPError)), "RetryFailed_HTTPClient"},
		{"RetryDNS", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("lookup nope.invalid: no such host")), "RetryFailed_DNSLookup"},
		{"RetryOther", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("EOF")), "RetryFailed_NetworkOther"},
		{"RetryServerWrappedAgain", fmt.Errorf("fetch https://example.com: %w", fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("status 502: %w", ErrServerHTTPError))), "RetryFailed_HTTPServer"},
		{"RetryWithoutCause", fmt.Errorf("fetch: %w", ErrRetryFailed), "RetryFailed_Unknown"},
		{"ParsingURL", fmt.Errorf("URL parsing failed: %w", ErrParsing), "Content_ParsingURL"},
		{"ParsingHTML", fmt.Errorf("HTML parsing failed: %w", ErrParsing), "Content_ParsingHTML"},
		{"DoubleWrappedDB", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrDatabase)), "Database_Other"},
		{"NotFoundBeatsDatabase", fmt.Errorf("%w: %w", ErrNotFound, ErrDatabase), "Database_NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Canceled", context.Canceled, "System_ContextCanceled"},
		{"Deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), "System_ContextDeadlineExceeded"},
		{"GenericTimeout", errors.New("read Timeout reached"), "Network_TimeoutGeneric"},
		{"DNS", errors.New("lookup foo: no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("x509: certificate signed by unknown authority"), "Network_TLS"},
		{"Unknown", errors.New("something odd"), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retry budget spent", fmt.Errorf("%w: boom", ErrRetryFailed), true},
		{"client error", fmt.Errorf("status 410: %w", ErrClientHTTPError), false},
		{"robots", ErrDisallowedByRobots, false},
		{"server error", ErrServerHTTPError, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// --- Hash Tests ---

func TestCalculateStringSHA256(t *testing.T) {
	// Known vector for "abc"
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := CalculateStringSHA256("abc"); got != want {
		t.Errorf("CalculateStringSHA256(abc) = %q, want %q", got, want)
	}
	if CalculateBytesSHA256([]byte("abc")) != want {
		t.Error("CalculateBytesSHA256 disagrees with CalculateStringSHA256")
	}
	if len(CalculateStringSHA256("")) != 64 {
		t.Error("expected 64 hex chars for empty input")
	}
}
