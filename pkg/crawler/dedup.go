package crawler

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/pagestore"
	"github.com/Sriram-PR/crawl-frontier/pkg/similarity"
)

// DefaultSimilarityThreshold is the cosine similarity at which a page counts as a near duplicate
const DefaultSimilarityThreshold = 0.9

// SaveAction says how Deduper.Save persisted a page
type SaveAction string

const (
	SaveInserted SaveAction = "insert" // Stored as a new page
	SaveMerged   SaveAction = "update" // Overwrote its near-duplicate
)

// Deduper writes pages through a page store, overwriting an existing page instead of adding a new one
// when the new content is a near duplicate of it. Decisions are serialized per process.
type Deduper struct {
	pages     pagestore.Store
	index     *similarity.Index
	threshold float64
	revision  int64 // Page store revision the index reflects; -1 forces a load
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewDeduper builds a deduper over pages. A threshold <= 0 uses DefaultSimilarityThreshold.
func NewDeduper(pages pagestore.Store, threshold float64, log *logrus.Entry) *Deduper {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Deduper{
		pages:     pages,
		index:     similarity.NewIndex(),
		threshold: threshold,
		revision:  -1,
		log:       log,
	}
}

// Save persists page and returns what it did plus the URL hash of the row that now holds it
func (d *Deduper) Save(ctx context.Context, page *models.PageRecord) (SaveAction, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.syncLocked(ctx); err != nil {
		return "", "", err
	}

	match, ok, err := d.index.Closest(page.Content)
	if err != nil {
		return "", "", fmt.Errorf("scoring %s: %w", page.URL, err)
	}
	if ok && match.URLHash != page.URLHash && match.Score >= d.threshold {
		if err := d.pages.UpdateByHash(ctx, match.URLHash, page); err != nil {
			return "", "", fmt.Errorf("merging %s into %s: %w", page.URL, match.URLHash, err)
		}
		d.index.Put(models.PageText{URLHash: match.URLHash, Content: page.Content})
		d.advanceLocked(ctx)
		d.log.WithFields(logrus.Fields{
			"url":        page.URL,
			"merged_in":  match.URLHash,
			"similarity": fmt.Sprintf("%.3f", match.Score),
		}).Info("Near-duplicate page merged")
		return SaveMerged, match.URLHash, nil
	}

	if err := d.pages.Insert(ctx, page); err != nil {
		return "", "", fmt.Errorf("inserting %s: %w", page.URL, err)
	}
	d.index.Put(models.PageText{URLHash: page.URLHash, Content: page.Content})
	d.advanceLocked(ctx)
	return SaveInserted, page.URLHash, nil
}

// syncLocked reloads the corpus when the store was written since the index last saw it,
// including updates from other processes that leave the row count unchanged
func (d *Deduper) syncLocked(ctx context.Context) error {
	rev, err := d.pages.Revision(ctx)
	if err != nil {
		return fmt.Errorf("reading page revision: %w", err)
	}
	if rev == d.revision {
		return nil
	}
	docs, err := d.pages.ListAllText(ctx)
	if err != nil {
		return fmt.Errorf("loading page corpus: %w", err)
	}
	d.index.Load(docs)
	d.revision = rev
	d.log.Debugf("Similarity corpus reloaded with %d pages at revision %d", len(docs), rev)
	return nil
}

// advanceLocked records this process's own write. A gap means another writer got in between,
// so the revision is left behind and the next save reloads.
func (d *Deduper) advanceLocked(ctx context.Context) {
	rev, err := d.pages.Revision(ctx)
	if err != nil || rev != d.revision+1 {
		return
	}
	d.revision = rev
}
