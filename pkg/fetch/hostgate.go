package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostEntry tracks one host's concurrency permits and request spacing
type hostEntry struct {
	sem         *semaphore.Weighted
	active      int64     // held + waiting permits
	lastRequest time.Time // zero until the first request completes
}

// HostGate bounds concurrent requests per host and spaces consecutive requests to a host
// by at least delay (with +/-10% jitter). One gate is shared by every worker in a process.
type HostGate struct {
	mu      sync.Mutex
	entries map[string]*hostEntry
	limit   int64
	delay   time.Duration
	log     *logrus.Entry
}

// NewHostGate creates a gate allowing maxPerHost concurrent requests per host
func NewHostGate(maxPerHost int, delay time.Duration, log *logrus.Entry) *HostGate {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 1
	}
	return &HostGate{entries: make(map[string]*hostEntry), limit: limit, delay: delay, log: log}
}

// Acquire takes a permit for host and then waits out the politeness delay.
// Every successful Acquire must be paired with Release.
func (g *HostGate) Acquire(ctx context.Context, host string) error {
	g.mu.Lock()
	entry, ok := g.entries[host]
	if !ok {
		entry = &hostEntry{sem: semaphore.NewWeighted(g.limit)}
		g.entries[host] = entry
	}
	entry.active++
	g.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		g.mu.Lock()
		entry.active--
		g.mu.Unlock()
		return err
	}

	wait := g.remainingDelay(entry)
	if wait <= 0 {
		return nil
	}
	g.log.WithFields(logrus.Fields{"host": host, "sleep": wait}).Debug("Host delay applying sleep")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		g.release(host, false)
		return ctx.Err()
	}
}

func (g *HostGate) remainingDelay(entry *hostEntry) time.Duration {
	if g.delay <= 0 {
		return 0
	}
	g.mu.Lock()
	last := entry.lastRequest
	g.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	wait := g.delay - time.Since(last)
	if wait <= 0 {
		return 0
	}
	if spread := int64(wait) / 5; spread > 0 {
		wait += time.Duration(rand.Int63n(spread)) - wait/10
	}
	return wait
}

// Release returns host's permit and stamps the request time used for spacing
func (g *HostGate) Release(host string) {
	g.release(host, true)
}

func (g *HostGate) release(host string, stamp bool) {
	g.mu.Lock()
	entry, ok := g.entries[host]
	if !ok {
		g.mu.Unlock()
		g.log.Errorf("hostgate: Release called for unknown host: %s", host)
		return
	}
	entry.active--
	if stamp {
		entry.lastRequest = time.Now()
	}
	g.mu.Unlock()
	entry.sem.Release(1)
}

// RunEviction drops hosts idle for longer than interval until ctx ends
func (g *HostGate) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.evictIdle(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (g *HostGate) evictIdle(maxIdle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for host, entry := range g.entries {
		if entry.active == 0 && !entry.lastRequest.IsZero() && now.Sub(entry.lastRequest) >= maxIdle {
			delete(g.entries, host)
		}
	}
}

// Len returns the number of tracked hosts
func (g *HostGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
