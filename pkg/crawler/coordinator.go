package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/guard"
	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
	"github.com/Sriram-PR/crawl-frontier/pkg/process"
	"github.com/Sriram-PR/crawl-frontier/pkg/similarity"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const registryTimeout = 5 * time.Second

// Coordinator is the control loop of one worker: claim, fetch, guard, persist, enqueue, release
type Coordinator struct {
	c   *Crawler
	id  string
	log *logrus.Entry
}

// ID returns the worker ID the coordinator claims and registers under
func (w *Coordinator) ID() string { return w.id }

// Run processes links until the frontier is drained (when configured to stop) or ctx is cancelled.
// Only a registry failure at startup is returned; per-link failures end up in the link's state.
func (w *Coordinator) Run(ctx context.Context) error {
	w.log.Info("Worker starting")
	defer w.log.Info("Worker finished")

	if err := w.c.registry.Register(ctx, w.id); err != nil {
		return fmt.Errorf("registering worker %s: %w", w.id, err)
	}
	if err := w.c.registry.SetActive(ctx, w.id); err != nil {
		return fmt.Errorf("activating worker %s: %w", w.id, err)
	}
	defer func() {
		regCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
		defer cancel()
		if err := w.c.registry.SetInactive(regCtx, w.id); err != nil {
			w.log.WithError(err).Error("Failed to mark worker inactive")
		}
	}()

	for {
		if ctx.Err() != nil {
			w.log.Warnf("Worker shutting down due to context cancellation: %v", ctx.Err())
			return nil
		}

		rec, err := w.c.frontier.ClaimNext(ctx, w.id)
		switch {
		case err == nil:
			w.c.metrics.Claims.WithLabelValues("claimed").Inc()
			w.process(ctx, rec)
			continue
		case errors.Is(err, utils.ErrFrontierEmpty):
			w.c.metrics.Claims.WithLabelValues("empty").Inc()
			if w.c.opts.StopWhenEmpty && w.drained(ctx) {
				w.log.Info("Frontier drained, worker stopping")
				return nil
			}
		case ctx.Err() != nil:
			continue
		default:
			w.c.metrics.Claims.WithLabelValues("error").Inc()
			w.log.WithError(err).Error("Claim failed")
		}

		if !sleepCtx(ctx, w.c.opts.IdleBackoff) {
			continue
		}
	}
}

// drained reports whether no link is pending or held by another worker.
// Leased links may still discover new ones, so an empty claim alone is not the end of the crawl.
func (w *Coordinator) drained(ctx context.Context) bool {
	stats, err := w.c.frontier.Stats(ctx)
	if err != nil {
		w.log.WithError(err).Warn("Reading frontier stats failed")
		return false
	}
	return stats.Pending == 0 && stats.Leased == 0
}

// process runs one leased link to a final transition. It never returns an error: every failure
// is mapped to a Release outcome so the worker keeps going.
func (w *Coordinator) process(ctx context.Context, rec *models.LinkRecord) {
	taskLog := w.log.WithFields(logrus.Fields{"url": rec.URL, "depth": rec.Depth, "attempt": rec.Attempts})
	// Lease bookkeeping must survive shutdown so no link stays leased by a stopped worker
	storeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  fmt.Sprintf("%v", r),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing link")
			w.release(storeCtx, rec, models.OutcomeTerminal, taskLog)
		}
		w.c.processed.Add(1)
	}()

	start := time.Now()
	resp, err := w.c.fetcher.Fetch(ctx, rec.URL)
	w.c.metrics.ObserveFetch(start)
	if err != nil {
		category := utils.CategorizeError(err)
		w.c.metrics.FetchErrors.WithLabelValues(category).Inc()
		taskLog.WithError(err).WithField("category", category).Warn("Fetch failed")
		w.release(storeCtx, rec, fetchOutcome(ctx, err), taskLog)
		return
	}

	if err := w.c.guard.Inspect(ctx, resp); err != nil {
		if rej, ok := guard.AsRejection(err); ok {
			w.c.metrics.GuardRejections.WithLabelValues(string(rej.Reason)).Inc()
			w.release(storeCtx, rec, models.OutcomeTerminal, taskLog)
			return
		}
		taskLog.WithError(err).Error("Trap guard state unavailable")
		w.release(storeCtx, rec, models.OutcomeRetry, taskLog)
		return
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		w.followRedirect(storeCtx, rec, resp, taskLog)
		w.finish(storeCtx, rec, taskLog)
		return
	}

	if !resp.IsHTML() {
		taskLog.WithField("content_type", resp.Header.Get("Content-Type")).Debug("Non-HTML response, nothing to store")
		w.finish(storeCtx, rec, taskLog)
		return
	}

	extracted, err := w.c.content.Extract(resp.Body)
	if err != nil {
		taskLog.WithError(err).WithField("category", utils.CategorizeError(err)).Warn("Content extraction failed")
		w.release(storeCtx, rec, models.OutcomeTerminal, taskLog)
		return
	}

	action, _, err := w.c.deduper.Save(storeCtx, buildPage(rec, resp, extracted, time.Now()))
	if err != nil {
		taskLog.WithError(err).WithField("category", utils.CategorizeError(err)).Error("Saving page failed")
		w.release(storeCtx, rec, models.OutcomeRetry, taskLog)
		return
	}
	w.c.metrics.PageSaves.WithLabelValues(string(action)).Inc()

	if !w.finish(storeCtx, rec, taskLog) {
		return
	}
	w.enqueueLinks(storeCtx, rec, resp, taskLog)
}

// fetchOutcome maps a fetch error to a release outcome.
// The fetcher has already spent its retry budget when it returns ErrRetryFailed.
func fetchOutcome(ctx context.Context, err error) models.Outcome {
	switch {
	case ctx.Err() != nil:
		return models.OutcomeRetry
	case errors.Is(err, utils.ErrRetryFailed):
		return models.OutcomeTerminal
	case utils.IsRetryable(err):
		return models.OutcomeRetry
	}
	return models.OutcomeTerminal
}

// finish completes the lease and moves the link into the finished log. False means the lease was lost.
func (w *Coordinator) finish(ctx context.Context, rec *models.LinkRecord, taskLog *logrus.Entry) bool {
	if err := w.c.frontier.Complete(ctx, rec.URLHash, w.id); err != nil {
		if errors.Is(err, utils.ErrLeaseLost) {
			taskLog.Warn("Lease lost before completion, link belongs to another worker")
		} else {
			taskLog.WithError(err).Error("Completing link failed")
		}
		return false
	}
	w.c.metrics.Releases.WithLabelValues(string(models.LinkStateDone)).Inc()
	if err := w.c.frontier.Remove(ctx, rec.URLHash, w.id); err != nil {
		taskLog.WithError(err).Error("Removing finished link failed")
	}
	taskLog.Info("Link completed")
	return true
}

func (w *Coordinator) release(ctx context.Context, rec *models.LinkRecord, outcome models.Outcome, taskLog *logrus.Entry) {
	state, err := w.c.frontier.Release(ctx, rec, w.id, outcome)
	if err != nil {
		taskLog.WithError(err).WithField("outcome", outcome).Error("Releasing lease failed")
		return
	}
	w.c.metrics.Releases.WithLabelValues(string(state)).Inc()
}

// followRedirect enqueues the redirect target at the redirecting link's depth
func (w *Coordinator) followRedirect(ctx context.Context, rec *models.LinkRecord, resp *models.Response, taskLog *logrus.Entry) {
	location := resp.Location()
	if location == "" {
		taskLog.WithField("status", resp.StatusCode).Warn("Redirect without Location header")
		return
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		taskLog.WithError(err).Warn("Cannot resolve redirect against response URL")
		return
	}
	target, err := base.Parse(location)
	if err != nil {
		taskLog.WithError(err).WithField("location", location).Warn("Invalid redirect target")
		return
	}
	if !parse.HostAllowed(target.Hostname(), w.c.opts.AllowedDomains) {
		taskLog.WithField("location", target.String()).Debug("Redirect target outside allowed domains")
		return
	}
	target.Fragment = ""
	created, err := w.c.frontier.EnqueueAt(ctx, target.String(), rec.Depth)
	if err != nil {
		taskLog.WithError(err).WithField("location", target.String()).Warn("Enqueuing redirect target failed")
		return
	}
	if created {
		w.c.metrics.LinksEnqueued.Inc()
	}
	taskLog.WithFields(logrus.Fields{"location": target.String(), "new": created}).Debug("Redirect target enqueued")
}

// enqueueLinks adds the page's outbound links one level deeper
func (w *Coordinator) enqueueLinks(ctx context.Context, rec *models.LinkRecord, resp *models.Response, taskLog *logrus.Entry) {
	next := rec.Depth + 1
	if w.c.opts.MaxDepth > 0 && next > w.c.opts.MaxDepth {
		taskLog.Debug("Max depth reached, not following links")
		return
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		taskLog.WithError(err).Warn("Cannot resolve links against response URL")
		return
	}
	links, err := w.c.links.Extract(resp.Body, base)
	if err != nil {
		taskLog.WithError(err).Warn("Link extraction failed")
		return
	}

	added := 0
	for _, link := range links {
		created, err := w.c.frontier.EnqueueDiscovered(ctx, link, next, len(links))
		if err != nil {
			taskLog.WithError(err).WithField("link", link).Debug("Skipping link")
			continue
		}
		if created {
			added++
			w.c.metrics.LinksEnqueued.Inc()
		}
	}
	taskLog.WithFields(logrus.Fields{"found": len(links), "added": added}).Debug("Links enqueued")
}

// buildPage assembles the stored form of a fetched HTML page
func buildPage(rec *models.LinkRecord, resp *models.Response, ex process.Extracted, fetchedAt time.Time) *models.PageRecord {
	length := int64(len(resp.Body))
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			length = n
		}
	}
	// http.Header is a map of string slices, marshalling cannot fail
	meta, _ := json.Marshal(resp.Header)
	return &models.PageRecord{
		URLHash:       rec.URLHash,
		URL:           rec.URL,
		FetchedAt:     fetchedAt.UTC(),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: length,
		Title:         ex.Title,
		Content:       ex.Text,
		ContentHash:   similarity.FingerprintText(ex.Text),
		Metadata:      string(meta),
		StatusCode:    resp.StatusCode,
	}
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
