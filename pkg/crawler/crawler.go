// Package crawler runs the per-worker crawl loop over a shared frontier.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/crawl-frontier/pkg/fleet"
	"github.com/Sriram-PR/crawl-frontier/pkg/frontier"
	"github.com/Sriram-PR/crawl-frontier/pkg/guard"
	"github.com/Sriram-PR/crawl-frontier/pkg/metrics"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/process"
)

// Fetcher retrieves one URL. *fetch.Fetcher is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.Response, error)
}

// Options controls one crawler process
type Options struct {
	CrawlerID        string        // Prefix of every worker ID
	NumWorkers       int           // Coordinators run in parallel
	MaxDepth         int           // Links deeper than this are not enqueued, 0 is unlimited
	AllowedDomains   []string      // Redirect targets outside these are dropped, empty allows all
	StopWhenEmpty    bool          // Stop workers once nothing is pending or leased
	IdleBackoff      time.Duration // Wait between claims on an empty frontier
	ProgressInterval time.Duration // 0 disables the progress reporter
}

// Deps are the components a crawler drives
type Deps struct {
	Frontier *frontier.Frontier
	Registry *fleet.Registry
	Fetcher  Fetcher
	Guard    *guard.Guard
	Content  *process.ContentExtractor
	Links    *process.LinkExtractor
	Deduper  *Deduper
	Metrics  *metrics.Metrics
}

// Crawler is one process of the fleet: NumWorkers coordinators sharing a guard, a deduper and the stores
type Crawler struct {
	opts Options
	log  *logrus.Entry

	frontier *frontier.Frontier
	registry *fleet.Registry
	fetcher  Fetcher
	guard    *guard.Guard
	content  *process.ContentExtractor
	links    *process.LinkExtractor
	deduper  *Deduper
	metrics  *metrics.Metrics

	processed atomic.Int64 // Links taken to a final transition by any worker
}

// New validates deps and builds a crawler
func New(opts Options, deps Deps, log *logrus.Entry) (*Crawler, error) {
	var missing []string
	if deps.Frontier == nil {
		missing = append(missing, "frontier")
	}
	if deps.Registry == nil {
		missing = append(missing, "registry")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Guard == nil {
		missing = append(missing, "guard")
	}
	if deps.Deduper == nil {
		missing = append(missing, "deduper")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("crawler missing components: %s", strings.Join(missing, ", "))
	}
	if opts.CrawlerID == "" {
		return nil, errors.New("crawler ID is required")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if deps.Content == nil {
		deps.Content = process.NewContentExtractor()
	}
	if deps.Links == nil {
		deps.Links = process.NewLinkExtractor(opts.AllowedDomains, log)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	return &Crawler{
		opts:     opts,
		log:      log.WithField("crawler_id", opts.CrawlerID),
		frontier: deps.Frontier,
		registry: deps.Registry,
		fetcher:  deps.Fetcher,
		guard:    deps.Guard,
		content:  deps.Content,
		links:    deps.Links,
		deduper:  deps.Deduper,
		metrics:  deps.Metrics,
	}, nil
}

// Seed enqueues start URLs at depth 0 and returns how many were new
func (c *Crawler) Seed(ctx context.Context, urls []string) (int, error) {
	added := 0
	for _, u := range urls {
		created, err := c.frontier.EnqueueAt(ctx, u, 0)
		if err != nil {
			return added, fmt.Errorf("seeding %s: %w", u, err)
		}
		if created {
			added++
			c.metrics.LinksEnqueued.Inc()
		}
	}
	c.log.WithFields(logrus.Fields{"seeds": len(urls), "added": added}).Info("Frontier seeded")
	return added, nil
}

// Worker returns the coordinator for worker n (1-based)
func (c *Crawler) Worker(n int) *Coordinator {
	id := fleet.WorkerID(c.opts.CrawlerID, n)
	return &Coordinator{c: c, id: id, log: c.log.WithField("worker_id", id)}
}

// Processed returns how many links the workers have finished with
func (c *Crawler) Processed() int64 {
	return c.processed.Load()
}

// Run starts the workers and blocks until all of them stop
func (c *Crawler) Run(ctx context.Context) error {
	started := time.Now()
	c.log.Infof("Starting %d workers...", c.opts.NumWorkers)

	progCtx, stopProgress := context.WithCancel(ctx)
	progDone := make(chan struct{})
	go func() {
		defer close(progDone)
		c.reportProgress(progCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= c.opts.NumWorkers; i++ {
		w := c.Worker(i)
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()

	stopProgress()
	<-progDone
	c.logProgress(context.WithoutCancel(ctx))
	c.log.WithFields(logrus.Fields{
		"duration":        time.Since(started).Round(time.Millisecond).String(),
		"processed_tasks": c.processed.Load(),
	}).Info("Crawl finished")
	return err
}

func (c *Crawler) reportProgress(ctx context.Context) {
	if c.opts.ProgressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logProgress(ctx)
		}
	}
}

func (c *Crawler) logProgress(ctx context.Context) {
	stats, err := c.frontier.Stats(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Reading frontier stats failed")
		return
	}
	c.metrics.SetFrontierStats(stats)
	c.log.WithFields(logrus.Fields{
		"pending":         stats.Pending,
		"leased":          stats.Leased,
		"done":            stats.Done,
		"failed":          stats.Failed,
		"finished":        stats.Finished,
		"processed_tasks": c.processed.Load(),
	}).Info("Crawl Progress")
}
