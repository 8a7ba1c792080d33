package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/config"
	"github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

var noRobots = false

// testConfig returns a FetchConfig with fast retry delays and robots.txt disabled
func testConfig(maxRetries int) config.FetchConfig {
	return config.FetchConfig{
		MaxRetries:        maxRetries,
		RetryStatusCodes:  config.DefaultRetryStatusCodes,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
		RespectRobots:     &noRobots,
		UserAgent:         "test-agent",
		Headers:           map[string]string{"X-Test": "1"},
		MaxBodyBytes:      1 << 20,
	}
}

func testLogger() *logrus.Entry {
	return log.Discard()
}

func newTestFetcher(cfg config.FetchConfig) *Fetcher {
	client := NewClient(config.HTTPClientConfig{}, 5*time.Second, testLogger())
	return NewFetcher(client, cfg, NewHostGate(4, 0, testLogger()), testLogger())
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetch_Success(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"204 No Content", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.statusCode})

			resp, err := newTestFetcher(testConfig(3)).Fetch(context.Background(), server.URL)

			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if resp.StatusCode != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, resp.StatusCode)
			}
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts.Load())
			}
		})
	}
}

func TestFetch_BodyHeadersAndLimit(t *testing.T) {
	var gotAgent, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Test")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.MaxBodyBytes = 10
	resp, err := newTestFetcher(cfg).Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(resp.Body) != 10 {
		t.Errorf("expected body truncated to 10 bytes, got %d", len(resp.Body))
	}
	if !resp.IsHTML() {
		t.Error("expected HTML content type to be preserved")
	}
	if resp.URL != server.URL+"/page" {
		t.Errorf("expected URL %s, got %s", server.URL+"/page", resp.URL)
	}
	if gotAgent != "test-agent" || gotCustom != "1" {
		t.Errorf("expected configured headers, got agent=%q custom=%q", gotAgent, gotCustom)
	}
}

func TestFetch_RedirectIsNotFollowed(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/from" {
			http.Redirect(w, r, "/to", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	resp, err := newTestFetcher(testConfig(3)).Fetch(context.Background(), server.URL+"/from")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !resp.IsRedirect() {
		t.Errorf("expected redirect response, got %d", resp.StatusCode)
	}
	if resp.Location() != "/to" {
		t.Errorf("expected Location /to, got %q", resp.Location())
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestFetch_RetryableStatus_RetrySuccess(t *testing.T) {
	// 503 → 404 → 200 (both in the retry set)
	server, attempts := mockServer(t, []int{503, 404, 200})

	resp, err := newTestFetcher(testConfig(3)).Fetch(context.Background(), server.URL)

	if err != nil {
		t.Fatalf("expected no error after retry, got: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetch_AllRetriesFail(t *testing.T) {
	// 500 × 4 (initial + 3 retries = 4 attempts)
	server, attempts := mockServer(t, []int{500})

	resp, err := newTestFetcher(testConfig(3)).Fetch(context.Background(), server.URL)

	if err == nil {
		t.Fatal("expected error after all retries failed")
	}
	if resp != nil {
		t.Error("expected nil response when all retries fail")
	}
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Errorf("expected ErrRetryFailed, got: %v", err)
	}
	if !errors.Is(err, utils.ErrServerHTTPError) {
		t.Errorf("expected wrapped ErrServerHTTPError, got: %v", err)
	}
	if attempts.Load() != 4 {
		t.Errorf("expected 4 attempts (initial + 3 retries), got %d", attempts.Load())
	}
	if got := utils.CategorizeError(err); got != "RetryFailed_HTTPServer" {
		t.Errorf("CategorizeError = %q, want RetryFailed_HTTPServer", got)
	}
}

func TestFetch_NonRetryableStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"410 Gone", http.StatusGone, utils.ErrClientHTTPError},
		{"429 Too Many Requests", http.StatusTooManyRequests, utils.ErrClientHTTPError},
		{"501 Not Implemented", http.StatusNotImplemented, utils.ErrServerHTTPError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.status})

			resp, err := newTestFetcher(testConfig(3)).Fetch(context.Background(), server.URL)

			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got: %v", tt.sentinel, err)
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Errorf("expected response with status %d", tt.status)
			}
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts.Load())
			}
		})
	}
}

func TestFetch_ContextCancelledDuringBackoff(t *testing.T) {
	server, _ := mockServer(t, []int{500})
	cfg := testConfig(3)
	cfg.InitialRetryDelay = time.Second
	cfg.MaxRetryDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestFetcher(cfg).Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
	if errors.Is(err, utils.ErrRetryFailed) {
		t.Errorf("cancellation must not be reported as exhausted retries: %v", err)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("expected fetch to stop at cancellation, not after the full backoff")
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestFetcher(testConfig(0)).Fetch(context.Background(), "ftp://example.com/file")
	if !errors.Is(err, utils.ErrParsing) {
		t.Errorf("expected ErrParsing, got: %v", err)
	}
}

func TestFetch_RobotsDisallow(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		pageHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.RespectRobots = nil
	f := newTestFetcher(cfg)

	_, err := f.Fetch(context.Background(), server.URL+"/private/page")
	if !errors.Is(err, utils.ErrDisallowedByRobots) {
		t.Errorf("expected ErrDisallowedByRobots, got: %v", err)
	}
	if _, err := f.Fetch(context.Background(), server.URL+"/public"); err != nil {
		t.Errorf("expected public page allowed, got: %v", err)
	}
	if pageHits.Load() != 1 {
		t.Errorf("expected only the public page to be fetched, got %d hits", pageHits.Load())
	}
}

func TestFetch_RobotsMissingAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.RespectRobots = nil
	if _, err := newTestFetcher(cfg).Fetch(context.Background(), server.URL+"/anything"); err != nil {
		t.Errorf("expected fetch allowed without robots.txt, got: %v", err)
	}
}
