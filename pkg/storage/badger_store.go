package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const (
	linkKeyPrefix     = "link:"    // link:<hash> -> LinkRecord JSON
	pendingKeyPrefix  = "pend:"    // pend:<priority desc><seq> -> hash
	leaseKeyPrefix    = "lease:"   // lease:<hash> -> empty, one per leased record
	finishedKeyPrefix = "done:"    // done:<hash> -> FinishedRecord JSON
	crawlerKeyPrefix  = "crawler:" // crawler:<id> -> CrawlerRecord JSON
	seqKey            = "seq:links"
	frontierDBDir     = "frontier_db" // Subdirectory name within stateDir for Badger DB files
	seqBandwidth      = 1000
)

// BadgerStore implements CoordinationStore on an embedded BadgerDB.
// Claims run in optimistic transactions: two workers reading the same pending key
// conflict at commit and the loser retries against the updated state.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the frontier database under stateDir
// When resume is false any existing state is removed first
func NewBadgerStore(stateDir string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}
	dbPath := filepath.Join(stateDir, frontierDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing frontier database at: %s (Resume: %v)", dbPath, resume)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	store.seq, err = store.db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		store.db.Close()
		return nil, fmt.Errorf("%w: failed to open insertion sequence: %w", utils.ErrDatabase, err)
	}

	logger.Info("Frontier database initialized successfully.")
	return store, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: %w: transaction conflict not resolved after %d retries",
		utils.ErrDatabase, utils.ErrStoreContention, maxConflictRetries)
}

// pendingKey orders by priority descending, then seq ascending
func pendingKey(priority int, seq uint64) []byte {
	key := make([]byte, len(pendingKeyPrefix)+16)
	copy(key, pendingKeyPrefix)
	// Flip the sign bit so signed order matches byte order, then invert for descending
	binary.BigEndian.PutUint64(key[len(pendingKeyPrefix):], ^(uint64(int64(priority)) ^ (1 << 63)))
	binary.BigEndian.PutUint64(key[len(pendingKeyPrefix)+8:], seq)
	return key
}

func linkKey(urlHash string) []byte     { return []byte(linkKeyPrefix + urlHash) }
func leaseKey(urlHash string) []byte    { return []byte(leaseKeyPrefix + urlHash) }
func finishedKey(urlHash string) []byte { return []byte(finishedKeyPrefix + urlHash) }
func crawlerKey(id string) []byte       { return []byte(crawlerKeyPrefix + id) }

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: key '%s'", utils.ErrNotFound, string(key))
	}
	if err != nil {
		return fmt.Errorf("%w: getting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("%w: JSON for key '%s': %w", utils.ErrParsing, string(key), err)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding key '%s': %w", utils.ErrParsing, string(key), err)
	}
	return txn.Set(key, data)
}

// Insert implements LinkStore
func (s *BadgerStore) Insert(ctx context.Context, rec *models.LinkRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return false, fmt.Errorf("%w: allocating insertion sequence: %w", utils.ErrDatabase, err)
	}
	created := false
	var stored models.LinkRecord

	err = s.dbUpdate(func(txn *badger.Txn) error {
		created = false
		for _, key := range [][]byte{linkKey(rec.URLHash), finishedKey(rec.URLHash)} {
			found, err := exists(txn, key)
			if err != nil {
				return err
			}
			if found {
				return nil
			}
		}

		stored = *rec
		stored.Seq = seq
		stored.State = models.LinkStatePending
		stored.LeaseOwner = ""
		stored.Attempts = 0
		if stored.AddedAt.IsZero() {
			stored.AddedAt = time.Now()
		}
		if err := setJSON(txn, linkKey(stored.URLHash), &stored); err != nil {
			return err
		}
		if err := txn.Set(pendingKey(stored.Priority, stored.Seq), []byte(stored.URLHash)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		s.log.WithField("url", rec.URL).Errorf("DB Update error in Insert: %v", err)
		return false, fmt.Errorf("%w: inserting link '%s': %w", utils.ErrDatabase, rec.URLHash, err)
	}
	if created {
		*rec = stored
	}
	return created, nil
}

// Claim implements LinkStore
func (s *BadgerStore) Claim(ctx context.Context, workerID string, now time.Time, leaseTimeout time.Duration) (*models.LinkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var claimed *models.LinkRecord

	err := s.dbUpdate(func(txn *badger.Txn) error {
		claimed = nil
		var best *models.LinkRecord
		var bestPendingKey []byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(pendingKeyPrefix)
		it := txn.NewIterator(opts)
		it.Rewind()
		if it.Valid() {
			item := it.Item()
			bestPendingKey = item.KeyCopy(nil)
			hash, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			var rec models.LinkRecord
			if err := getJSON(txn, linkKey(string(hash)), &rec); err != nil {
				it.Close()
				return err
			}
			best = &rec
		}
		it.Close()

		if leaseTimeout > 0 {
			leaseOpts := badger.DefaultIteratorOptions
			leaseOpts.PrefetchValues = false
			leaseOpts.Prefix = []byte(leaseKeyPrefix)
			lit := txn.NewIterator(leaseOpts)
			for lit.Rewind(); lit.Valid(); lit.Next() {
				hash := string(lit.Item().Key()[len(leaseKeyPrefix):])
				var rec models.LinkRecord
				if err := getJSON(txn, linkKey(hash), &rec); err != nil {
					lit.Close()
					return err
				}
				if rec.LeaseExpired(now, leaseTimeout) && better(&rec, best) {
					recCopy := rec
					best = &recCopy
					bestPendingKey = nil
				}
			}
			lit.Close()
		}

		if best == nil {
			return utils.ErrFrontierEmpty
		}
		if bestPendingKey != nil {
			if err := txn.Delete(bestPendingKey); err != nil {
				return err
			}
		} else {
			s.log.WithFields(logrus.Fields{
				"url": best.URL, "previous_owner": best.LeaseOwner, "worker_id": workerID,
			}).Warn("Reclaiming expired lease")
		}
		applyClaim(best, workerID, now)
		if err := setJSON(txn, linkKey(best.URLHash), best); err != nil {
			return err
		}
		if err := txn.Set(leaseKey(best.URLHash), []byte{}); err != nil {
			return err
		}
		claimed = best
		return nil
	})
	if errors.Is(err, utils.ErrFrontierEmpty) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claiming link for '%s': %w", utils.ErrDatabase, workerID, err)
	}
	return claimed, nil
}

// Transition implements LinkStore
func (s *BadgerStore) Transition(ctx context.Context, urlHash, workerID string, to models.LinkState) (*models.LinkRecord, error) {
	if !validTarget(to) {
		return nil, fmt.Errorf("invalid transition target '%s'", to)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec models.LinkRecord

	err := s.dbUpdate(func(txn *badger.Txn) error {
		if err := getJSON(txn, linkKey(urlHash), &rec); err != nil {
			return err
		}
		if rec.State != models.LinkStateLeased || rec.LeaseOwner != workerID {
			return fmt.Errorf("%w: link '%s' is %s (owner '%s')", utils.ErrLeaseLost, urlHash, rec.State, rec.LeaseOwner)
		}
		applyTransition(&rec, to)
		if err := setJSON(txn, linkKey(urlHash), &rec); err != nil {
			return err
		}
		if err := txn.Delete(leaseKey(urlHash)); err != nil {
			return err
		}
		if to == models.LinkStatePending {
			return txn.Set(pendingKey(rec.Priority, rec.Seq), []byte(urlHash))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrLeaseLost) || errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: transition of '%s' to %s: %w", utils.ErrDatabase, urlHash, to, err)
	}
	return &rec, nil
}

// Remove implements LinkStore
func (s *BadgerStore) Remove(ctx context.Context, urlHash, crawlerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var rec models.LinkRecord
		if err := getJSON(txn, linkKey(urlHash), &rec); err != nil {
			return err
		}
		if rec.State == models.LinkStatePending {
			if err := txn.Delete(pendingKey(rec.Priority, rec.Seq)); err != nil {
				return err
			}
		}
		for _, key := range [][]byte{linkKey(urlHash), leaseKey(urlHash)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return setJSON(txn, finishedKey(urlHash), &models.FinishedRecord{
			URLHash:    urlHash,
			URL:        rec.URL,
			FinishedAt: time.Now(),
			CrawlerID:  crawlerID,
			State:      rec.State,
		})
	})
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return fmt.Errorf("%w: removing link '%s': %w", utils.ErrDatabase, urlHash, err)
	}
	return err
}

// Get implements LinkStore
func (s *BadgerStore) Get(_ context.Context, urlHash string) (*models.LinkRecord, error) {
	var rec models.LinkRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, linkKey(urlHash), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetFinished implements LinkStore
func (s *BadgerStore) GetFinished(_ context.Context, urlHash string) (*models.FinishedRecord, error) {
	var rec models.FinishedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, finishedKey(urlHash), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats implements LinkStore
func (s *BadgerStore) Stats(ctx context.Context) (models.FrontierStats, error) {
	var stats models.FrontierStats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(linkKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec models.LinkRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				s.log.Warnf("Stats: skipping undecodable record '%s': %v", string(it.Item().Key()), err)
				continue
			}
			stats.Add(rec.State, 1)
		}

		keyOpts := badger.DefaultIteratorOptions
		keyOpts.PrefetchValues = false
		keyOpts.Prefix = []byte(finishedKeyPrefix)
		fit := txn.NewIterator(keyOpts)
		defer fit.Close()
		for fit.Rewind(); fit.Valid(); fit.Next() {
			stats.Finished++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%w: counting frontier: %w", utils.ErrDatabase, err)
	}
	return stats, nil
}

// RegisterCrawler implements FleetRegistry
func (s *BadgerStore) RegisterCrawler(_ context.Context, crawlerID string, now time.Time) (bool, error) {
	created := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		created = false
		found, err := exists(txn, crawlerKey(crawlerID))
		if err != nil || found {
			return err
		}
		created = true
		return setJSON(txn, crawlerKey(crawlerID), &models.CrawlerRecord{
			CrawlerID: crawlerID, Status: models.CrawlerStatusInactive, UpdatedAt: now,
		})
	})
	if err != nil {
		return false, fmt.Errorf("%w: registering crawler '%s': %w", utils.ErrDatabase, crawlerID, err)
	}
	return created, nil
}

// SetCrawlerStatus implements FleetRegistry
func (s *BadgerStore) SetCrawlerStatus(_ context.Context, crawlerID string, status models.CrawlerStatus, now time.Time) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return setJSON(txn, crawlerKey(crawlerID), &models.CrawlerRecord{CrawlerID: crawlerID, Status: status, UpdatedAt: now})
	})
	if err != nil {
		return fmt.Errorf("%w: setting crawler '%s' %s: %w", utils.ErrDatabase, crawlerID, status, err)
	}
	return nil
}

// GetCrawler implements FleetRegistry
func (s *BadgerStore) GetCrawler(_ context.Context, crawlerID string) (*models.CrawlerRecord, error) {
	var rec models.CrawlerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, crawlerKey(crawlerID), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListCrawlers implements FleetRegistry
func (s *BadgerStore) ListCrawlers(_ context.Context) ([]models.CrawlerRecord, error) {
	var out []models.CrawlerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(crawlerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.CrawlerRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return fmt.Errorf("%w: crawler record '%s': %w", utils.ErrParsing, string(it.Item().Key()), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing crawlers: %w", utils.ErrDatabase, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrawlerID < out[j].CrawlerID })
	return out, nil
}

// RunGC runs periodic value log garbage collection until ctx is done. Should be run in a goroutine
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.log.Infof("Starting periodic BadgerDB GC every %v", interval)
	for {
		select {
		case <-ticker.C:
			for {
				if s.db.IsClosed() {
					return
				}
				// Rewrite value log files that are at least half garbage, until none are left
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.Warnf("BadgerDB GC error: %v", err)
					}
					break
				}
			}
		case <-ctx.Done():
			s.log.Info("Stopping BadgerDB GC goroutine.")
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		s.log.Info("Frontier DB already closed or was not initialized.")
		return nil
	}
	s.log.Info("Closing frontier DB...")
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.log.Warnf("Error releasing insertion sequence: %v", err)
		}
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing frontier DB: %v", err)
		return err
	}
	s.log.Info("Frontier DB closed.")
	return nil
}
