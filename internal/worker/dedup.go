package worker

import (
	"context"
	"sync"
	"time"

	"aquacore/pkg/domain"
)

// Deduper collapses repeated recompute requests for the same key within a
// short interval. redisbus.Client satisfies it for multi-process deployments.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// DedupKey is the claim key for an assignment recompute starting on day.
func DedupKey(assignmentID string, day time.Time) string {
	return "assignment|" + assignmentID + "|" + domain.DateKey(day)
}

// LocalDeduper is an in-process Deduper with per-key expiry.
type LocalDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

// NewLocalDeduper constructs a deduper holding claims for ttl. A nil now
// uses time.Now.
func NewLocalDeduper(ttl time.Duration, now func() time.Time) *LocalDeduper {
	if now == nil {
		now = time.Now
	}
	return &LocalDeduper{ttl: ttl, now: now, keys: make(map[string]time.Time)}
}

// Claim reserves key unless an unexpired claim exists.
func (d *LocalDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.keys {
		if !now.Before(exp) {
			delete(d.keys, k)
		}
	}
	if _, held := d.keys[key]; held {
		return false, nil
	}
	d.keys[key] = now.Add(d.ttl)
	return true, nil
}

// Release drops a claim.
func (d *LocalDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.keys, key)
	d.mu.Unlock()
	return nil
}
