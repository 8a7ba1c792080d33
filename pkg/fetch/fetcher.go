package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/config"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// Fetcher fetches one URL with retries on transport errors and on the configured status codes.
// Redirects are returned, not followed.
type Fetcher struct {
	client     *http.Client
	cfg        config.FetchConfig
	retryCodes map[int]bool
	gate       *HostGate
	robots     *RobotsHandler // nil when robots.txt is ignored
	log        *logrus.Entry
}

// NewFetcher creates a Fetcher. cfg is expected to be validated.
func NewFetcher(client *http.Client, cfg config.FetchConfig, gate *HostGate, log *logrus.Entry) *Fetcher {
	f := &Fetcher{
		client:     client,
		cfg:        cfg,
		retryCodes: make(map[int]bool, len(cfg.RetryStatusCodes)),
		gate:       gate,
		log:        log,
	}
	for _, code := range cfg.RetryStatusCodes {
		f.retryCodes[code] = true
	}
	if config.GetEffectiveRespectRobots(cfg) {
		f.robots = NewRobotsHandler(client, gate, 0, cfg.UserAgent, log.WithField("component", "robots"))
	}
	return f
}

// Fetch retrieves rawURL.
// 2xx and 3xx return a response and nil. Other statuses that are not retried return the response
// with an ErrClientHTTPError/ErrServerHTTPError/ErrOtherHTTPError. Exhausted retries return ErrRetryFailed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.Response, error) {
	_, target, err := parse.ParseAndNormalize(rawURL)
	if err != nil {
		return nil, err
	}
	if f.robots != nil && !f.robots.Allowed(ctx, target) {
		return nil, fmt.Errorf("%w: %s", utils.ErrDisallowedByRobots, rawURL)
	}

	reqLog := f.log.WithField("url", rawURL)
	host := target.Host
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": f.cfg.MaxRetries, "delay": delay}).Warn("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		if err := f.gate.Acquire(ctx, host); err != nil {
			return nil, err
		}
		resp, err := f.do(ctx, rawURL)
		f.gate.Release(host)

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, utils.ErrRequestCreation) {
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			lastErr = err
			continue
		}

		code := resp.StatusCode
		switch {
		case code >= 200 && code < 400:
			reqLog.WithField("status_code", code).Debug("Fetched")
			return resp, nil
		case f.retryCodes[code]:
			lastErr = statusError(code)
			reqLog.WithFields(logrus.Fields{"status_code": code, "attempt": attempt}).Warn("Retryable status")
			continue
		default:
			return resp, statusError(code)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.cfg.MaxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*models.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return &models.Response{
		URL:        rawURL,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// backoff is initial * 2^(attempt-1), capped at the max delay, with +/-10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.cfg.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.cfg.MaxRetryDelay > 0 && delay > f.cfg.MaxRetryDelay) {
		delay = f.cfg.MaxRetryDelay
	}
	if spread := int64(delay) / 5; spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/10
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func statusError(code int) error {
	switch {
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, http.StatusText(code))
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, http.StatusText(code))
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, http.StatusText(code))
	}
}
