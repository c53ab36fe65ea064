// Package lock provides per-resource action locks with lease semantics: a
// short TTL, heartbeat renewal for long operations, and idempotent release.
// A crashed holder simply lets its lease lapse, so nobody is blocked for
// longer than one TTL.
package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Lease is one live exclusive claim on a (resource type, resource id) pair.
type Lease struct {
	ID           string    `json:"id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Action       string    `json:"action"`
	Holder       string    `json:"holder"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Manager hands out leases backed by a TTL cache. The mutex makes
// check-and-set atomic; expiry itself is the cache's job.
type Manager struct {
	mu     sync.Mutex
	leases *cache.Cache      // resource key -> *Lease
	byID   map[string]string // lease id -> resource key
	ttl    time.Duration
}

// NewManager creates a Manager with the given lease TTL.
func NewManager(ttl time.Duration) *Manager {
	// The id index is cleaned lazily in Heartbeat and Release; the scoped
	// release discipline means every lease passes through Release eventually.
	return &Manager{
		leases: cache.New(ttl, ttl),
		byID:   make(map[string]string),
		ttl:    ttl,
	}
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

// Acquire claims the resource for the holder. It fails (ok=false) when a
// live, non-expired lease already exists for the same resource, whatever the
// action: two admins must never race on one booking.
func (m *Manager) Acquire(resourceType, resourceID, action, holder string) (leaseID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey(resourceType, resourceID)
	if _, held := m.leases.Get(key); held {
		return "", false
	}

	now := time.Now()
	l := &Lease{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		Holder:       holder,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(m.ttl),
	}
	m.leases.Set(key, l, m.ttl)
	m.byID[l.ID] = key
	return l.ID, true
}

// Heartbeat extends the lease by one TTL. It returns false when the lease
// has already lapsed, in which case the holder must abort: another admin may
// own the resource by now.
func (m *Manager) Heartbeat(leaseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[leaseID]
	if !ok {
		return false
	}
	v, held := m.leases.Get(key)
	if !held {
		delete(m.byID, leaseID)
		return false
	}
	l := v.(*Lease)
	if l.ID != leaseID {
		delete(m.byID, leaseID)
		return false
	}
	l.ExpiresAt = time.Now().Add(m.ttl)
	m.leases.Set(key, l, m.ttl)
	return true
}

// Release gives the lease back. It is idempotent: releasing an unknown,
// expired or already-released lease is a no-op, so callers defer it on every
// exit path without caring how the operation ended.
func (m *Manager) Release(leaseID, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[leaseID]
	if !ok {
		return
	}
	delete(m.byID, leaseID)

	v, held := m.leases.Get(key)
	if !held {
		return
	}
	l := v.(*Lease)
	if l.ID != leaseID {
		// The resource was re-acquired by someone else after our lease
		// lapsed; their lease is not ours to delete.
		return
	}
	m.leases.Delete(key)
}

// Current returns the live lease on a resource, if any. Used for conflict
// messages ("locked by X until T").
func (m *Manager) Current(resourceType, resourceID string) (*Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, held := m.leases.Get(resourceKey(resourceType, resourceID))
	if !held {
		return nil, false
	}
	l := v.(*Lease)
	cp := *l
	return &cp, true
}

// String implements fmt.Stringer for log lines.
func (l *Lease) String() string {
	return fmt.Sprintf("%s on %s:%s by %s (expires %s)",
		l.Action, l.ResourceType, l.ResourceID, l.Holder, l.ExpiresAt.Format(time.RFC3339))
}
