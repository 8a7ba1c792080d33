package pagestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "pages.db"), log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func page(hash, content string) *models.PageRecord {
	return &models.PageRecord{
		URLHash:       hash,
		URL:           "https://example.com/" + hash,
		FetchedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ContentType:   "text/html",
		ContentLength: int64(len(content)),
		Title:         "Title " + hash,
		Content:       content,
		ContentHash:   utils.CalculateStringSHA256(content),
		Metadata:      `{"Server":["test"]}`,
		StatusCode:    200,
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	want := page("a", "hello world")
	require.NoError(t, s.Insert(ctx, want))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.ContentHash, got.ContentHash)
	assert.True(t, want.FetchedAt.Equal(got.FetchedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestInsertSameURLReplacesRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Insert(ctx, page("a", "v1")))
	require.NoError(t, s.Insert(ctx, page("a", "v2")))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

func TestUpdateByHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Insert(ctx, page("a", "original text")))

	update := page("b", "revised text")
	require.NoError(t, s.UpdateByHash(ctx, "a", update))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "revised text", got.Content)
	assert.Equal(t, "https://example.com/b", got.URL)

	assert.ErrorIs(t, s.UpdateByHash(ctx, "zzz", update), utils.ErrNotFound)
}

func TestListAllText(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Insert(ctx, page("b", "second")))
	require.NoError(t, s.Insert(ctx, page("a", "first")))

	texts, err := s.ListAllText(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PageText{
		{URLHash: "a", Content: "first"},
		{URLHash: "b", Content: "second"},
	}, texts)
}

func TestRevisionAdvancesOnEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rev, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Zero(t, rev)

	require.NoError(t, s.Insert(ctx, page("a", "first")))
	require.NoError(t, s.Insert(ctx, page("b", "second")))
	rev, err = s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	// Same row count, new content
	require.NoError(t, s.UpdateByHash(ctx, "a", page("c", "third")))
	rev, err = s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)

	require.NoError(t, s.Insert(ctx, page("b", "second again")))
	rev, err = s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev)
}

func TestRevisionSeenAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pages.db")
	first, err := OpenSQLite(path, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := OpenSQLite(path, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	require.NoError(t, first.Insert(ctx, page("a", "first")))
	before, err := first.Revision(ctx)
	require.NoError(t, err)

	require.NoError(t, second.UpdateByHash(ctx, "a", page("b", "rewritten elsewhere")))
	after, err := first.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)
}
