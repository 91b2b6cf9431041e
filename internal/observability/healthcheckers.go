package observability

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// CacheHealthChecker verifies the marketplace cache database is open and
// still holds its buckets
type CacheHealthChecker struct {
	db      func() *bbolt.DB
	buckets []string
}

// NewCacheHealthChecker resolves db on every check so a cache closed after
// startup shows up as unhealthy.
func NewCacheHealthChecker(db func() *bbolt.DB, buckets ...string) *CacheHealthChecker {
	return &CacheHealthChecker{db: db, buckets: buckets}
}

func (c *CacheHealthChecker) Name() string { return "marketplace_cache" }

func (c *CacheHealthChecker) HealthCheck(_ context.Context) error {
	db := c.db()
	if db == nil {
		return fmt.Errorf("cache database is not open")
	}
	return db.View(func(tx *bbolt.Tx) error {
		for _, name := range c.buckets {
			if tx.Bucket([]byte(name)) == nil {
				return fmt.Errorf("cache bucket %q is missing", name)
			}
		}
		return nil
	})
}

// HubReadinessChecker reports ready while the hub connection is established.
// state returns the lifecycle state name for the failure message.
type HubReadinessChecker struct {
	ready func() bool
	state func() string
}

func NewHubReadinessChecker(ready func() bool, state func() string) *HubReadinessChecker {
	return &HubReadinessChecker{ready: ready, state: state}
}

func (h *HubReadinessChecker) Name() string { return "hub" }

func (h *HubReadinessChecker) ReadinessCheck(_ context.Context) error {
	if h.ready() {
		return nil
	}
	if h.state != nil {
		return fmt.Errorf("hub is %s", h.state())
	}
	return fmt.Errorf("hub is not connected")
}

var (
	_ HealthChecker    = (*CacheHealthChecker)(nil)
	_ ReadinessChecker = (*HubReadinessChecker)(nil)
)
