package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

type storeFactory func(t *testing.T) CoordinationStore

func newMemory(t *testing.T) CoordinationStore {
	s := NewMemoryStore(log.Discard())
	t.Cleanup(func() { s.Close() })
	return s
}

func newBadger(t *testing.T) CoordinationStore {
	s, err := NewBadgerStore(t.TempDir(), false, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var factories = map[string]storeFactory{
	"memory": newMemory,
	"badger": newBadger,
}

func link(hash string, priority int) *models.LinkRecord {
	return &models.LinkRecord{URLHash: hash, URL: "https://example.com/" + hash, Priority: priority}
}

func TestStoreInsertIsIdempotent(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			created, err := s.Insert(ctx, link("a", 0))
			require.NoError(t, err)
			assert.True(t, created)

			created, err = s.Insert(ctx, link("a", 1))
			require.NoError(t, err)
			assert.False(t, created)

			rec, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, models.LinkStatePending, rec.State)
			assert.Equal(t, 0, rec.Priority, "second insert must not overwrite")
			assert.Zero(t, rec.Attempts)
			assert.False(t, rec.AddedAt.IsZero())
		})
	}
}

func TestStoreClaimOrder(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			for i, p := range []int{0, 1, -1, 1} {
				_, err := s.Insert(ctx, link(fmt.Sprintf("h%d", i), p))
				require.NoError(t, err)
			}

			var got []string
			var priorities []int
			now := time.Now()
			for {
				rec, err := s.Claim(ctx, "w1", now, time.Minute)
				if errors.Is(err, utils.ErrFrontierEmpty) {
					break
				}
				require.NoError(t, err)
				got = append(got, rec.URLHash)
				priorities = append(priorities, rec.Priority)
				assert.Equal(t, models.LinkStateLeased, rec.State)
				assert.Equal(t, "w1", rec.LeaseOwner)
				assert.Equal(t, 1, rec.Attempts)
			}
			assert.Equal(t, []string{"h1", "h3", "h0", "h2"}, got)
			assert.Equal(t, []int{1, 1, 0, -1}, priorities)
		})
	}
}

func TestStoreClaimEmpty(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			_, err := factory(t).Claim(context.Background(), "w1", time.Now(), time.Minute)
			assert.ErrorIs(t, err, utils.ErrFrontierEmpty)
		})
	}
}

func TestStoreConcurrentClaimsAreExclusive(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			const n = 40
			for i := 0; i < n; i++ {
				_, err := s.Insert(ctx, link(fmt.Sprintf("c%02d", i), i%3))
				require.NoError(t, err)
			}

			var mu sync.Mutex
			seen := make(map[string]string)
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(worker string) {
					defer wg.Done()
					for {
						rec, err := s.Claim(ctx, worker, time.Now(), time.Hour)
						if errors.Is(err, utils.ErrFrontierEmpty) {
							return
						}
						if errors.Is(err, utils.ErrStoreContention) {
							continue
						}
						if !assert.NoError(t, err) {
							return
						}
						mu.Lock()
						prev, dup := seen[rec.URLHash]
						seen[rec.URLHash] = worker
						mu.Unlock()
						assert.False(t, dup, "%s claimed by %s and %s", rec.URLHash, prev, worker)
					}
				}(fmt.Sprintf("w%d", w))
			}
			wg.Wait()
			assert.Len(t, seen, n)
		})
	}
}

func TestStoreExpiredLeaseIsReclaimed(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, err := s.Insert(ctx, link("x", 0))
			require.NoError(t, err)

			start := time.Now()
			first, err := s.Claim(ctx, "w1", start, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 1, first.Attempts)

			_, err = s.Claim(ctx, "w2", start.Add(30*time.Second), time.Minute)
			assert.ErrorIs(t, err, utils.ErrFrontierEmpty, "live lease must not be reclaimed")

			second, err := s.Claim(ctx, "w2", start.Add(time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, "w2", second.LeaseOwner)
			assert.Equal(t, 2, second.Attempts)

			_, err = s.Transition(ctx, "x", "w1", models.LinkStateDone)
			assert.ErrorIs(t, err, utils.ErrLeaseLost)

			done, err := s.Transition(ctx, "x", "w2", models.LinkStateDone)
			require.NoError(t, err)
			assert.Equal(t, models.LinkStateDone, done.State)
		})
	}
}

func TestStoreZeroLeaseTimeoutDisablesReclaim(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, err := s.Insert(ctx, link("x", 0))
			require.NoError(t, err)
			now := time.Now()
			_, err = s.Claim(ctx, "w1", now, 0)
			require.NoError(t, err)
			_, err = s.Claim(ctx, "w2", now.Add(24*time.Hour), 0)
			assert.ErrorIs(t, err, utils.ErrFrontierEmpty)
		})
	}
}

func TestStoreTransitionToPendingRequeues(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, err := s.Insert(ctx, link("x", 0))
			require.NoError(t, err)
			_, err = s.Claim(ctx, "w1", time.Now(), time.Minute)
			require.NoError(t, err)

			rec, err := s.Transition(ctx, "x", "w1", models.LinkStatePending)
			require.NoError(t, err)
			assert.Equal(t, models.LinkStatePending, rec.State)
			assert.Empty(t, rec.LeaseOwner)

			again, err := s.Claim(ctx, "w2", time.Now(), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, "x", again.URLHash)
			assert.Equal(t, 2, again.Attempts)
		})
	}
}

func TestStoreTransitionErrors(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.Transition(ctx, "missing", "w1", models.LinkStateDone)
			assert.ErrorIs(t, err, utils.ErrNotFound)

			_, err = s.Insert(ctx, link("x", 0))
			require.NoError(t, err)
			_, err = s.Transition(ctx, "x", "w1", models.LinkStateDone)
			assert.ErrorIs(t, err, utils.ErrLeaseLost, "pending record has no lease")

			_, err = s.Claim(ctx, "w1", time.Now(), time.Minute)
			require.NoError(t, err)
			_, err = s.Transition(ctx, "x", "w1", models.LinkStateLeased)
			assert.Error(t, err)
		})
	}
}

func TestStoreRemoveBlocksReinsert(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, err := s.Insert(ctx, link("x", 0))
			require.NoError(t, err)
			_, err = s.Claim(ctx, "w1", time.Now(), time.Minute)
			require.NoError(t, err)
			_, err = s.Transition(ctx, "x", "w1", models.LinkStateDone)
			require.NoError(t, err)

			require.NoError(t, s.Remove(ctx, "x", "crawler-1"))
			_, err = s.Get(ctx, "x")
			assert.ErrorIs(t, err, utils.ErrNotFound)

			fin, err := s.GetFinished(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, "crawler-1", fin.CrawlerID)
			assert.Equal(t, models.LinkStateDone, fin.State)

			created, err := s.Insert(ctx, link("x", 1))
			require.NoError(t, err)
			assert.False(t, created)

			assert.ErrorIs(t, s.Remove(ctx, "x", "crawler-1"), utils.ErrNotFound)
		})
	}
}

func TestStoreRemovePendingDropsFromQueue(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, err := s.Insert(ctx, link("x", 0))
			require.NoError(t, err)
			require.NoError(t, s.Remove(ctx, "x", "c"))
			_, err = s.Claim(ctx, "w1", time.Now(), time.Minute)
			assert.ErrorIs(t, err, utils.ErrFrontierEmpty)
		})
	}
}

func TestStoreStats(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			for _, h := range []string{"a", "b", "c", "d"} {
				_, err := s.Insert(ctx, link(h, 0))
				require.NoError(t, err)
			}
			now := time.Now()
			a, err := s.Claim(ctx, "w", now, time.Minute)
			require.NoError(t, err)
			_, err = s.Transition(ctx, a.URLHash, "w", models.LinkStateDone)
			require.NoError(t, err)
			b, err := s.Claim(ctx, "w", now, time.Minute)
			require.NoError(t, err)
			_, err = s.Transition(ctx, b.URLHash, "w", models.LinkStateFailed)
			require.NoError(t, err)
			_, err = s.Claim(ctx, "w", now, time.Minute)
			require.NoError(t, err)
			require.NoError(t, s.Remove(ctx, a.URLHash, "c"))

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.FrontierStats{Pending: 1, Leased: 1, Done: 0, Failed: 1, Finished: 1}, stats)
			assert.Equal(t, 3, stats.Live())
		})
	}
}

func TestStoreRegistry(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			now := time.Now()

			_, err := s.GetCrawler(ctx, "c1")
			assert.ErrorIs(t, err, utils.ErrNotFound)

			created, err := s.RegisterCrawler(ctx, "c1", now)
			require.NoError(t, err)
			assert.True(t, created)
			created, err = s.RegisterCrawler(ctx, "c1", now)
			require.NoError(t, err)
			assert.False(t, created)

			rec, err := s.GetCrawler(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, models.CrawlerStatusInactive, rec.Status)

			require.NoError(t, s.SetCrawlerStatus(ctx, "c1", models.CrawlerStatusActive, now.Add(time.Second)))
			require.NoError(t, s.SetCrawlerStatus(ctx, "c0", models.CrawlerStatusActive, now))

			rec, err = s.GetCrawler(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, models.CrawlerStatusActive, rec.Status)

			all, err := s.ListCrawlers(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "c0", all[0].CrawlerID)
			assert.Equal(t, "c1", all[1].CrawlerID)
		})
	}
}

func TestBadgerStoreResume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadgerStore(dir, false, log.Discard())
	require.NoError(t, err)
	_, err = s.Insert(ctx, link("a", 0))
	require.NoError(t, err)
	_, err = s.Insert(ctx, link("b", 1))
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, "a", "c"))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir, true, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	created, err := s.Insert(ctx, link("a", 0))
	require.NoError(t, err)
	assert.False(t, created, "finished log survives restart")

	_, err = s.Insert(ctx, link("c", 1))
	require.NoError(t, err)
	first, err := s.Claim(ctx, "w", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", first.URLHash, "sequence continues after restart")
}
