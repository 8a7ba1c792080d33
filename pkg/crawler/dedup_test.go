package crawler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/pagestore"
	"github.com/Sriram-PR/crawl-frontier/pkg/similarity"
)

var corpus = map[string]string{
	"h1": "rust borrow checker lifetimes ownership traits",
	"h2": "alpha beta gamma delta epsilon zeta eta theta iota kappa",
	"h3": "sourdough starter hydration crumb oven steam",
}

func testPage(hash, content string) *models.PageRecord {
	return &models.PageRecord{
		URLHash:     hash,
		URL:         "https://example.com/" + hash,
		FetchedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ContentType: "text/html",
		Title:       "Page " + hash,
		Content:     content,
		ContentHash: similarity.FingerprintText(content),
		StatusCode:  200,
	}
}

func seededDeduper(t *testing.T) (*Deduper, *pagestore.SQLiteStore) {
	t.Helper()
	pages, err := pagestore.OpenSQLite(filepath.Join(t.TempDir(), "pages.db"), log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { pages.Close() })

	d := NewDeduper(pages, 0, log.Discard())
	for _, hash := range []string{"h1", "h2", "h3"} {
		action, target, err := d.Save(context.Background(), testPage(hash, corpus[hash]))
		require.NoError(t, err)
		require.Equal(t, SaveInserted, action)
		require.Equal(t, hash, target)
	}
	return d, pages
}

func TestDeduperMergesNearDuplicate(t *testing.T) {
	d, pages := seededDeduper(t)
	ctx := context.Background()

	candidate := testPage("h4", corpus["h2"]+" lambda")
	action, target, err := d.Save(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, SaveMerged, action)
	assert.Equal(t, "h2", target)

	n, err := pages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a near duplicate must not grow the page table")

	stored, err := pages.Get(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, candidate.Content, stored.Content)
	assert.Equal(t, candidate.URL, stored.URL)
}

func TestDeduperInsertsNovelPage(t *testing.T) {
	d, pages := seededDeduper(t)
	ctx := context.Background()

	action, target, err := d.Save(ctx, testPage("h4", "kubernetes pods deployments ingress"))
	require.NoError(t, err)
	assert.Equal(t, SaveInserted, action)
	assert.Equal(t, "h4", target)

	n, err := pages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDeduperRefetchOfSameURLReplacesRow(t *testing.T) {
	d, pages := seededDeduper(t)
	ctx := context.Background()

	action, _, err := d.Save(ctx, testPage("h1", corpus["h1"]))
	require.NoError(t, err)
	assert.Equal(t, SaveInserted, action)

	n, err := pages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeduperLoadsExistingCorpus(t *testing.T) {
	_, pages := seededDeduper(t)
	ctx := context.Background()

	// A second process over the same database starts with an empty index
	fresh := NewDeduper(pages, 0.9, log.Discard())
	action, target, err := fresh.Save(ctx, testPage("h9", corpus["h3"]+" baguette"))
	require.NoError(t, err)
	assert.Equal(t, SaveMerged, action)
	assert.Equal(t, "h3", target)
	assert.Equal(t, 3, fresh.index.Len())
}

func TestDeduperThreshold(t *testing.T) {
	pages, err := pagestore.OpenSQLite(filepath.Join(t.TempDir(), "pages.db"), log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { pages.Close() })
	ctx := context.Background()

	// Half the terms shared: similar, but well under a strict threshold
	d := NewDeduper(pages, 0.99, log.Discard())
	_, _, err = d.Save(ctx, testPage("a", "red green blue yellow"))
	require.NoError(t, err)
	_, _, err = d.Save(ctx, testPage("b", "cyan magenta black white"))
	require.NoError(t, err)
	action, _, err := d.Save(ctx, testPage("c", "red green orange purple"))
	require.NoError(t, err)
	assert.Equal(t, SaveInserted, action)

	assert.Equal(t, DefaultSimilarityThreshold, NewDeduper(pages, 0, log.Discard()).threshold)
}

func TestDeduperSeesUpdatesFromAnotherWriter(t *testing.T) {
	d, pages := seededDeduper(t)
	ctx := context.Background()

	// A second process rewrites h3 in place; the row count does not change
	other, err := pagestore.OpenSQLite(pages.Path(), log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	rewritten := "kubernetes pods deployments ingress controllers"
	require.NoError(t, other.UpdateByHash(ctx, "h3", testPage("h7", rewritten)))

	action, target, err := d.Save(ctx, testPage("h8", rewritten))
	require.NoError(t, err)
	assert.Equal(t, SaveMerged, action)
	assert.Equal(t, "h3", target)

	n, err := pages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeduperSkipsReloadForOwnWrites(t *testing.T) {
	d, pages := seededDeduper(t)
	ctx := context.Background()

	rev, err := pages.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev, d.revision, "own inserts keep the index current")
}
