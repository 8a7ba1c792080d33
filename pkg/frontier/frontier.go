// Package frontier is the crawl frontier: URL identity, scoring and the retry policy on top of a LinkStore.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
	"github.com/Sriram-PR/crawl-frontier/pkg/priority"
	"github.com/Sriram-PR/crawl-frontier/pkg/storage"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const (
	maxClaimContentionRetries = 20
	claimContentionBackoff    = 5 * time.Millisecond
)

// Config holds the lease and retry policy
type Config struct {
	MaxAttempts  int           // Retryable releases at or past this many attempts fail the link
	LeaseTimeout time.Duration // Leases older than this are claimable again, 0 disables reclaim
}

// Frontier is safe for concurrent use by many workers; every state change is a single store operation
type Frontier struct {
	store  storage.LinkStore
	scorer *priority.Scorer
	cfg    Config
	now    func() time.Time
	log    *logrus.Entry
}

// New builds a frontier over store
func New(store storage.LinkStore, scorer *priority.Scorer, cfg Config, logger *logrus.Entry) *Frontier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Frontier{store: store, scorer: scorer, cfg: cfg, now: time.Now, log: logger}
}

// SetClock replaces the time source, for tests
func (f *Frontier) SetClock(now func() time.Time) {
	f.now = now
}

// Enqueue adds a seed URL at depth 0. See EnqueueAt.
func (f *Frontier) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	return f.EnqueueAt(ctx, rawURL, 0)
}

// EnqueueAt adds rawURL as Pending with its score as priority.
// Returns false without error if the URL is already live or finished.
func (f *Frontier) EnqueueAt(ctx context.Context, rawURL string, depth int) (bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	return f.enqueue(ctx, rawURL, depth, f.scorer.Score(rawURL))
}

// EnqueueDiscovered adds a link found on a page with sourceLinks outgoing links,
// so hub pages can raise the priority of what they point to
func (f *Frontier) EnqueueDiscovered(ctx context.Context, rawURL string, depth, sourceLinks int) (bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	return f.enqueue(ctx, rawURL, depth, f.scorer.ScoreDiscovered(rawURL, sourceLinks))
}

func (f *Frontier) enqueue(ctx context.Context, rawURL string, depth, score int) (bool, error) {
	hash, _, err := parse.URLHash(rawURL)
	if err != nil {
		return false, err
	}
	rec := &models.LinkRecord{
		URLHash:  hash,
		URL:      rawURL,
		AddedAt:  f.now(),
		Priority: score,
		Depth:    depth,
	}
	created, err := f.store.Insert(ctx, rec)
	if err != nil {
		return false, err
	}
	if created {
		f.log.WithFields(logrus.Fields{"url": rawURL, "priority": rec.Priority, "depth": depth}).Debug("Enqueued link")
	}
	return created, nil
}

// ClaimNext leases the next link to workerID. Returns utils.ErrFrontierEmpty when nothing is claimable.
// Store contention is a lost race, not a failure: the claim is retried.
func (f *Frontier) ClaimNext(ctx context.Context, workerID string) (*models.LinkRecord, error) {
	for attempt := 0; ; attempt++ {
		rec, err := f.store.Claim(ctx, workerID, f.now(), f.cfg.LeaseTimeout)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, utils.ErrStoreContention) || attempt >= maxClaimContentionRetries {
			return nil, err
		}
		f.log.WithField("worker_id", workerID).Debugf("Claim contention (attempt %d), retrying", attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimContentionBackoff):
		}
	}
}

// Complete marks a leased link Done
func (f *Frontier) Complete(ctx context.Context, urlHash, workerID string) error {
	_, err := f.store.Transition(ctx, urlHash, workerID, models.LinkStateDone)
	return err
}

// Release ends workerID's lease on rec after a failed attempt and returns the state it moved to.
// A retryable outcome returns the link to Pending until rec.Attempts reaches MaxAttempts, then fails it.
// A terminal outcome fails it immediately.
func (f *Frontier) Release(ctx context.Context, rec *models.LinkRecord, workerID string, outcome models.Outcome) (models.LinkState, error) {
	to := models.LinkStateFailed
	if outcome == models.OutcomeRetry && rec.Attempts < f.cfg.MaxAttempts {
		to = models.LinkStatePending
	}
	if _, err := f.store.Transition(ctx, rec.URLHash, workerID, to); err != nil {
		return models.LinkStateUnset, err
	}
	entry := f.log.WithFields(logrus.Fields{
		"url": rec.URL, "attempts": rec.Attempts, "outcome": outcome, "state": to,
	})
	if to == models.LinkStateFailed {
		entry.Warn("Link failed")
	} else {
		entry.Debug("Link released for retry")
	}
	return to, nil
}

// Remove drops a finished link from the live frontier. The link can never be enqueued again.
func (f *Frontier) Remove(ctx context.Context, urlHash, crawlerID string) error {
	if err := f.store.Remove(ctx, urlHash, crawlerID); err != nil {
		return fmt.Errorf("removing link %s: %w", urlHash, err)
	}
	return nil
}

// Stats reports record counts per state
func (f *Frontier) Stats(ctx context.Context) (models.FrontierStats, error) {
	return f.store.Stats(ctx)
}
