// Package fleet identifies crawler processes and records their status in the shared registry.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/storage"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const crawlerIDLength = 16

// CrawlerID returns override when set, otherwise a stable id derived from the host's hardware address
func CrawlerID(override string) string {
	if override != "" {
		return override
	}
	mac := net.HardwareAddr(uuid.NodeID()).String()
	return utils.CalculateStringSHA256(mac)[:crawlerIDLength]
}

// WorkerID names worker n of a crawler process
func WorkerID(crawlerID string, n int) string {
	return fmt.Sprintf("%s-%d", crawlerID, n)
}

// Registry records crawler status in a FleetRegistry.
// Status reflects the last call, not liveness: a crashed crawler stays active.
type Registry struct {
	store storage.FleetRegistry
	now   func() time.Time
	log   *logrus.Entry
}

// NewRegistry wraps store
func NewRegistry(store storage.FleetRegistry, logger *logrus.Entry) *Registry {
	return &Registry{store: store, now: time.Now, log: logger}
}

// Register adds crawlerID as inactive if it is not known yet
func (r *Registry) Register(ctx context.Context, crawlerID string) error {
	created, err := r.store.RegisterCrawler(ctx, crawlerID, r.now())
	if err != nil {
		return err
	}
	if created {
		r.log.WithField("crawler_id", crawlerID).Info("Registered crawler")
	}
	return nil
}

// SetActive marks crawlerID active, registering it if needed
func (r *Registry) SetActive(ctx context.Context, crawlerID string) error {
	return r.set(ctx, crawlerID, models.CrawlerStatusActive)
}

// SetInactive marks crawlerID inactive
func (r *Registry) SetInactive(ctx context.Context, crawlerID string) error {
	return r.set(ctx, crawlerID, models.CrawlerStatusInactive)
}

func (r *Registry) set(ctx context.Context, crawlerID string, status models.CrawlerStatus) error {
	if err := r.store.SetCrawlerStatus(ctx, crawlerID, status, r.now()); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"crawler_id": crawlerID, "status": status}).Debug("Crawler status updated")
	return nil
}

// GetStatus returns the recorded status, or CrawlerStatusUnknown if crawlerID was never registered
func (r *Registry) GetStatus(ctx context.Context, crawlerID string) (models.CrawlerStatus, error) {
	rec, err := r.store.GetCrawler(ctx, crawlerID)
	if errors.Is(err, utils.ErrNotFound) {
		return models.CrawlerStatusUnknown, nil
	}
	if err != nil {
		return models.CrawlerStatusUnknown, err
	}
	return rec.Status, nil
}

// List returns every registered crawler
func (r *Registry) List(ctx context.Context) ([]models.CrawlerRecord, error) {
	return r.store.ListCrawlers(ctx)
}
