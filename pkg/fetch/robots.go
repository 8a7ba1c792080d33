package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/semaphore"
)

const (
	maxRobotsBytes       = 512 << 10
	robotsAcquireTimeout = 30 * time.Second
)

// RobotsHandler fetches, parses and caches robots.txt per host
type RobotsHandler struct {
	client    *http.Client
	gate      *HostGate
	globalSem *semaphore.Weighted // Caps concurrent robots.txt fetches
	userAgent string
	cache     map[string]*robotstxt.RobotsData // host -> parsed data, nil when unavailable
	cacheMu   sync.Mutex
	log       *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. maxConcurrent bounds parallel robots.txt fetches.
func NewRobotsHandler(client *http.Client, gate *HostGate, maxConcurrent int64, userAgent string, log *logrus.Entry) *RobotsHandler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &RobotsHandler{
		client:    client,
		gate:      gate,
		globalSem: semaphore.NewWeighted(maxConcurrent),
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether the user agent may fetch target.
// Hosts whose robots.txt cannot be fetched or parsed allow everything.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}

func (rh *RobotsHandler) cached(host string) (*robotstxt.RobotsData, bool) {
	rh.cacheMu.Lock()
	defer rh.cacheMu.Unlock()
	data, ok := rh.cache[host]
	return data, ok
}

func (rh *RobotsHandler) store(host string, data *robotstxt.RobotsData) *robotstxt.RobotsData {
	rh.cacheMu.Lock()
	rh.cache[host] = data
	rh.cacheMu.Unlock()
	return data
}

func (rh *RobotsHandler) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host
	if data, ok := rh.cached(host); ok {
		return data
	}

	robotsURL := (&url.URL{Scheme: target.Scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})
	robotsLog.Info("Fetching robots.txt...")

	acquireCtx, cancel := context.WithTimeout(ctx, robotsAcquireTimeout)
	err := rh.globalSem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		// Not cached: the next link on this host tries again
		robotsLog.Warnf("Error acquiring robots semaphore: %v", err)
		return nil
	}
	defer rh.globalSem.Release(1)

	// Another worker may have filled the cache while we waited
	if data, ok := rh.cached(host); ok {
		return data
	}

	if err := rh.gate.Acquire(ctx, host); err != nil {
		robotsLog.Warnf("Error acquiring host gate: %v", err)
		return nil
	}
	defer rh.gate.Release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return rh.store(host, nil)
	}
	req.Header.Set("User-Agent", rh.userAgent)

	resp, err := rh.client.Do(req)
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed: %v", err)
		return rh.store(host, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		robotsLog.WithField("status_code", resp.StatusCode).Debug("robots.txt redirects, allowing all")
		return rh.store(host, nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return rh.store(host, nil)
	}
	// FromStatusAndBytes allows all on 4xx and disallows all on 5xx
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		return rh.store(host, nil)
	}
	robotsLog.WithField("status_code", resp.StatusCode).Debug("Parsed robots.txt")
	return rh.store(host, data)
}
