package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
)

// LinkStore is the frontier's persistence contract. Every method is a single atomic step;
// callers never read-modify-write a record outside these methods.
type LinkStore interface {
	// Insert adds rec as Pending unless a live or finished record already exists for rec.URLHash
	// The store assigns Seq and AddedAt (if zero). Returns true if the record was created
	Insert(ctx context.Context, rec *models.LinkRecord) (created bool, err error)

	// Claim leases the best claimable record to workerID: highest priority first, then lowest Seq.
	// Pending records are claimable, and so are Leased records whose lease is older than leaseTimeout
	// (0 disables reclaim). Returns utils.ErrFrontierEmpty if nothing is claimable
	Claim(ctx context.Context, workerID string, now time.Time, leaseTimeout time.Duration) (*models.LinkRecord, error)

	// Transition moves a record leased by workerID to Done, Failed or back to Pending.
	// Returns utils.ErrLeaseLost if the record is not leased by workerID, utils.ErrNotFound if absent
	Transition(ctx context.Context, urlHash, workerID string, to models.LinkState) (*models.LinkRecord, error)

	// Remove deletes the live record and appends it to the finished log under crawlerID
	Remove(ctx context.Context, urlHash, crawlerID string) error

	// Get returns the live record, or utils.ErrNotFound
	Get(ctx context.Context, urlHash string) (*models.LinkRecord, error)

	// GetFinished returns the finished-log entry, or utils.ErrNotFound
	GetFinished(ctx context.Context, urlHash string) (*models.FinishedRecord, error)

	// Stats counts records per state
	Stats(ctx context.Context) (models.FrontierStats, error)
}

// FleetRegistry stores one CrawlerRecord per crawler id
type FleetRegistry interface {
	// RegisterCrawler inserts an inactive record if absent. Returns true if created
	RegisterCrawler(ctx context.Context, crawlerID string, now time.Time) (bool, error)

	// SetCrawlerStatus upserts the record with status
	SetCrawlerStatus(ctx context.Context, crawlerID string, status models.CrawlerStatus, now time.Time) error

	// GetCrawler returns the record, or utils.ErrNotFound
	GetCrawler(ctx context.Context, crawlerID string) (*models.CrawlerRecord, error)

	// ListCrawlers returns all records ordered by crawler id
	ListCrawlers(ctx context.Context) ([]models.CrawlerRecord, error)
}

// StoreAdmin handles lifecycle operations
type StoreAdmin interface {
	// Close cleanly closes the underlying database
	Close() error
}

// CoordinationStore combines everything the fleet shares
type CoordinationStore interface {
	LinkStore
	FleetRegistry
	StoreAdmin
}

// better reports whether a should be claimed before b
func better(a, b *models.LinkRecord) bool {
	if b == nil {
		return true
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// applyClaim stamps a lease onto rec
func applyClaim(rec *models.LinkRecord, workerID string, now time.Time) {
	rec.State = models.LinkStateLeased
	rec.LeaseOwner = workerID
	rec.Attempts++
	rec.LastAttemptAt = now
}

// applyTransition moves rec out of Leased; Pending drops the lease owner
func applyTransition(rec *models.LinkRecord, to models.LinkState) {
	rec.State = to
	if to == models.LinkStatePending {
		rec.LeaseOwner = ""
	}
}

func validTarget(to models.LinkState) bool {
	return to == models.LinkStateDone || to == models.LinkStateFailed || to == models.LinkStatePending
}
