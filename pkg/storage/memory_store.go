package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/queue"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// MemoryStore implements CoordinationStore in process memory.
// One mutex serializes every operation, which makes each of them atomic.
type MemoryStore struct {
	mu       sync.Mutex
	links    map[string]*models.LinkRecord
	finished map[string]*models.FinishedRecord
	leased   map[string]struct{}
	pending  *queue.ThreadSafePriorityQueue
	crawlers map[string]*models.CrawlerRecord
	seq      uint64
	log      *logrus.Entry
}

// NewMemoryStore returns an empty store
func NewMemoryStore(logger *logrus.Entry) *MemoryStore {
	return &MemoryStore{
		links:    make(map[string]*models.LinkRecord),
		finished: make(map[string]*models.FinishedRecord),
		leased:   make(map[string]struct{}),
		pending:  queue.NewThreadSafePriorityQueue(logger.WithField("component", "pending_queue")),
		crawlers: make(map[string]*models.CrawlerRecord),
		log:      logger,
	}
}

// Insert implements LinkStore
func (s *MemoryStore) Insert(_ context.Context, rec *models.LinkRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[rec.URLHash]; ok {
		return false, nil
	}
	if _, ok := s.finished[rec.URLHash]; ok {
		return false, nil
	}
	s.seq++
	stored := *rec
	stored.Seq = s.seq
	stored.State = models.LinkStatePending
	stored.LeaseOwner = ""
	stored.Attempts = 0
	if stored.AddedAt.IsZero() {
		stored.AddedAt = time.Now()
	}
	s.links[stored.URLHash] = &stored
	s.pending.Add(stored.URLHash, stored.Priority, stored.Seq)
	*rec = stored
	return true, nil
}

// Claim implements LinkStore
func (s *MemoryStore) Claim(_ context.Context, workerID string, now time.Time, leaseTimeout time.Duration) (*models.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.LinkRecord
	if top, ok := s.pending.Peek(); ok {
		best = s.links[top.URLHash]
	}
	for hash := range s.leased {
		rec := s.links[hash]
		if rec.LeaseExpired(now, leaseTimeout) && better(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return nil, utils.ErrFrontierEmpty
	}

	if best.State == models.LinkStatePending {
		s.pending.Remove(best.URLHash)
	} else {
		s.log.WithFields(logrus.Fields{
			"url": best.URL, "previous_owner": best.LeaseOwner, "worker_id": workerID,
		}).Warn("Reclaiming expired lease")
	}
	applyClaim(best, workerID, now)
	s.leased[best.URLHash] = struct{}{}
	out := *best
	return &out, nil
}

// Transition implements LinkStore
func (s *MemoryStore) Transition(_ context.Context, urlHash, workerID string, to models.LinkState) (*models.LinkRecord, error) {
	if !validTarget(to) {
		return nil, fmt.Errorf("invalid transition target '%s'", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.links[urlHash]
	if !ok {
		return nil, fmt.Errorf("%w: link '%s'", utils.ErrNotFound, urlHash)
	}
	if rec.State != models.LinkStateLeased || rec.LeaseOwner != workerID {
		return nil, fmt.Errorf("%w: link '%s' is %s (owner '%s')", utils.ErrLeaseLost, urlHash, rec.State, rec.LeaseOwner)
	}
	applyTransition(rec, to)
	delete(s.leased, urlHash)
	if to == models.LinkStatePending {
		s.pending.Add(rec.URLHash, rec.Priority, rec.Seq)
	}
	out := *rec
	return &out, nil
}

// Remove implements LinkStore
func (s *MemoryStore) Remove(_ context.Context, urlHash, crawlerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.links[urlHash]
	if !ok {
		return fmt.Errorf("%w: link '%s'", utils.ErrNotFound, urlHash)
	}
	delete(s.links, urlHash)
	delete(s.leased, urlHash)
	s.pending.Remove(urlHash)
	s.finished[urlHash] = &models.FinishedRecord{
		URLHash:    urlHash,
		URL:        rec.URL,
		FinishedAt: time.Now(),
		CrawlerID:  crawlerID,
		State:      rec.State,
	}
	return nil
}

// Get implements LinkStore
func (s *MemoryStore) Get(_ context.Context, urlHash string) (*models.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.links[urlHash]
	if !ok {
		return nil, fmt.Errorf("%w: link '%s'", utils.ErrNotFound, urlHash)
	}
	out := *rec
	return &out, nil
}

// GetFinished implements LinkStore
func (s *MemoryStore) GetFinished(_ context.Context, urlHash string) (*models.FinishedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.finished[urlHash]
	if !ok {
		return nil, fmt.Errorf("%w: finished link '%s'", utils.ErrNotFound, urlHash)
	}
	out := *rec
	return &out, nil
}

// Stats implements LinkStore
func (s *MemoryStore) Stats(_ context.Context) (models.FrontierStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats models.FrontierStats
	for _, rec := range s.links {
		stats.Add(rec.State, 1)
	}
	stats.Finished = len(s.finished)
	return stats, nil
}

// RegisterCrawler implements FleetRegistry
func (s *MemoryStore) RegisterCrawler(_ context.Context, crawlerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crawlers[crawlerID]; ok {
		return false, nil
	}
	s.crawlers[crawlerID] = &models.CrawlerRecord{CrawlerID: crawlerID, Status: models.CrawlerStatusInactive, UpdatedAt: now}
	return true, nil
}

// SetCrawlerStatus implements FleetRegistry
func (s *MemoryStore) SetCrawlerStatus(_ context.Context, crawlerID string, status models.CrawlerStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawlers[crawlerID] = &models.CrawlerRecord{CrawlerID: crawlerID, Status: status, UpdatedAt: now}
	return nil
}

// GetCrawler implements FleetRegistry
func (s *MemoryStore) GetCrawler(_ context.Context, crawlerID string) (*models.CrawlerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.crawlers[crawlerID]
	if !ok {
		return nil, fmt.Errorf("%w: crawler '%s'", utils.ErrNotFound, crawlerID)
	}
	out := *rec
	return &out, nil
}

// ListCrawlers implements FleetRegistry
func (s *MemoryStore) ListCrawlers(_ context.Context) ([]models.CrawlerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CrawlerRecord, 0, len(s.crawlers))
	for _, rec := range s.crawlers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrawlerID < out[j].CrawlerID })
	return out, nil
}

// Close implements StoreAdmin
func (s *MemoryStore) Close() error {
	s.pending.Close()
	return nil
}
