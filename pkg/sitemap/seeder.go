// Package sitemap seeds the frontier from XML sitemaps and sitemap indexes.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
)

// DefaultMaxSitemaps bounds how many sitemap documents one Seed call fetches
const DefaultMaxSitemaps = 500

// Fetcher retrieves one URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.Response, error)
}

// Enqueuer adds a URL to the frontier
type Enqueuer interface {
	EnqueueAt(ctx context.Context, rawURL string, depth int) (bool, error)
}

// Result summarizes one Seed call
type Result struct {
	Sitemaps int // Documents fetched and parsed
	URLs     int // Page URLs found in scope
	Added    int // Of those, new to the frontier
	Errors   int // Fetch, parse and enqueue failures
}

// Seeder walks sitemaps and enqueues the pages they list at depth 0
type Seeder struct {
	fetcher        Fetcher
	frontier       Enqueuer
	allowedDomains []string // Empty allows every host
	maxSitemaps    int
	log            *logrus.Entry
}

// NewSeeder creates a Seeder
func NewSeeder(fetcher Fetcher, frontier Enqueuer, allowedDomains []string, log *logrus.Entry) *Seeder {
	return &Seeder{
		fetcher:        fetcher,
		frontier:       frontier,
		allowedDomains: allowedDomains,
		maxSitemaps:    DefaultMaxSitemaps,
		log:            log.WithField("component", "sitemap"),
	}
}

// Seed processes roots breadth-first, following index files to nested sitemaps.
// Failures on individual sitemaps or URLs are logged and counted; only cancellation is returned.
func (s *Seeder) Seed(ctx context.Context, roots []string) (Result, error) {
	var res Result
	queue := make([]string, 0, len(roots))
	seen := make(map[string]bool)
	push := func(raw string) {
		key, _, err := parse.ParseAndNormalize(raw)
		if err != nil {
			s.log.Warnf("Invalid sitemap URL '%s': %v", raw, err)
			res.Errors++
			return
		}
		if !seen[key] {
			seen[key] = true
			queue = append(queue, raw)
		}
	}
	for _, r := range roots {
		push(r)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.Sitemaps >= s.maxSitemaps {
			s.log.Warnf("Sitemap limit of %d reached, %d sitemaps not processed", s.maxSitemaps, len(queue))
			break
		}
		smURL := queue[0]
		queue = queue[1:]
		sitemapLog := s.log.WithField("sitemap_url", smURL)

		body, err := s.fetch(ctx, smURL)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			sitemapLog.Errorf("Fetch failed: %v", err)
			res.Errors++
			continue
		}
		res.Sitemaps++

		// --- Try Parsing as Sitemap Index ---
		var index xmlSitemapIndex
		errIndex := xml.Unmarshal(body, &index)
		if errIndex == nil && len(index.Sitemaps) > 0 {
			sitemapLog.Infof("Parsed as Sitemap Index, found %d references.", len(index.Sitemaps))
			for _, entry := range index.Sitemaps {
				if loc := strings.TrimSpace(entry.Loc); loc != "" {
					push(loc)
				}
			}
			continue
		}

		// --- Try Parsing as URL Set ---
		var urlSet xmlURLSet
		if errURLSet := xml.Unmarshal(body, &urlSet); errURLSet != nil {
			sitemapLog.Errorf("Failed parse XML (Index err=%v; URLSet err=%v)", errIndex, errURLSet)
			res.Errors++
			continue
		}

		added := s.enqueueURLSet(ctx, urlSet, sitemapLog, &res)
		sitemapLog.Infof("Finished URL Set. Queued %d new URLs.", added)
	}

	s.log.WithFields(logrus.Fields{
		"sitemaps": res.Sitemaps, "urls": res.URLs, "added": res.Added, "errors": res.Errors,
	}).Info("Sitemap seeding finished")
	return res, nil
}

func (s *Seeder) fetch(ctx context.Context, smURL string) ([]byte, error) {
	resp, err := s.fetcher.Fetch(ctx, smURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *Seeder) enqueueURLSet(ctx context.Context, urlSet xmlURLSet, sitemapLog *logrus.Entry, res *Result) int {
	added := 0
	for _, entry := range urlSet.URLs {
		pageURL := strings.TrimSpace(entry.Loc)
		parsed, err := url.Parse(pageURL)
		if err != nil {
			sitemapLog.Warnf("Sitemap URL parse error: %v", err)
			res.Errors++
			continue
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			continue
		}
		if !parse.HostAllowed(parsed.Hostname(), s.allowedDomains) {
			continue
		}
		res.URLs++

		created, err := s.frontier.EnqueueAt(ctx, pageURL, 0)
		if err != nil {
			sitemapLog.Errorf("Sitemap URL enqueue error: %v", err)
			res.Errors++
			continue
		}
		if created {
			added++
			res.Added++
		}
	}
	return added
}
