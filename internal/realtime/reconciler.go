package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"booking-admin-backend/internal/model"
)

// ReconcilerConfig tunes the merge heuristics. The echo window trades off
// against the server's coarser clock resolution and is a tuned value, not a
// provable bound, which is why it is configurable.
type ReconcilerConfig struct {
	// StaleTolerance is how much older than the last applied event an
	// incoming event may be before it is discarded as out-of-order.
	StaleTolerance time.Duration
	// EchoWindow is how much newer than the local pending marker a server
	// event must be to be trusted over the replica's optimistic state.
	EchoWindow time.Duration
	// PendingGrace is how long a pending marker lives before it self-expires,
	// so a lost server confirmation cannot freeze the replica forever.
	PendingGrace time.Duration
}

// DefaultReconcilerConfig matches the dashboard defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		StaleTolerance: 100 * time.Millisecond,
		EchoWindow:     500 * time.Millisecond,
		PendingGrace:   2 * time.Second,
	}
}

// Reconciler is the client-side merge engine for one dashboard replica. It
// tracks, per booking id, the last applied server timestamp and any local
// pending optimistic edit, and decides which incoming events to apply.
//
// It is scoped to one replica's lifetime and torn down on disconnect.
type Reconciler struct {
	cfg ReconcilerConfig

	mu          sync.Mutex
	lastApplied map[string]int64 // booking id -> server ts (ms)
	pending     map[string]int64 // booking id -> local optimistic ts (ms)

	now func() int64 // test hook
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		cfg:         cfg,
		lastApplied: make(map[string]int64),
		pending:     make(map[string]int64),
		now:         NowTimestamp,
	}
}

// MarkPending records a local optimistic edit for the booking. Call it
// before sending the mutation request, so the echo of the replica's own
// write can be recognized when it comes back.
func (r *Reconciler) MarkPending(bookingID string) {
	r.mu.Lock()
	r.pending[bookingID] = r.now()
	r.mu.Unlock()
}

// ShouldApply decides whether the event may be applied to local state and,
// when it may, advances the last-applied timestamp for that booking. The
// decision is per booking id; there is no cross-booking ordering.
func (r *Reconciler) ShouldApply(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Rule 1: out-of-order delivery. Materially older than what we already
	// applied for this booking means the event is stale.
	if last, ok := r.lastApplied[ev.BookingID]; ok {
		if ev.ServerTimestamp < last-r.cfg.StaleTolerance.Milliseconds() {
			return false
		}
	}

	// Rule 2: optimistic-echo suppression.
	if p, ok := r.pending[ev.BookingID]; ok {
		age := r.now() - p
		if age > r.cfg.PendingGrace.Milliseconds() {
			// The marker self-expired; a lost confirmation must not freeze
			// the replica.
			delete(r.pending, ev.BookingID)
		} else if ev.ServerTimestamp < p+r.cfg.EchoWindow.Milliseconds() {
			// Within the window this is the echo of our own write; applying
			// it would visually revert the optimistic state.
			return false
		} else {
			// Clearly newer than our own write: someone else moved the
			// booking on. Trust the server.
			delete(r.pending, ev.BookingID)
		}
	}

	if ev.ServerTimestamp > r.lastApplied[ev.BookingID] {
		r.lastApplied[ev.BookingID] = ev.ServerTimestamp
	}
	return true
}

// Forget drops all per-booking state, e.g. after a deletion event.
func (r *Reconciler) Forget(bookingID string) {
	r.mu.Lock()
	delete(r.lastApplied, bookingID)
	delete(r.pending, bookingID)
	r.mu.Unlock()
}

// SurfacesIn reports whether an event should surface into a view with the
// given status filter (empty filter = everything). Views already holding the
// booking always apply updates; only creations are gated, so e.g. an archive
// view ignores bookings born in an active status.
func SurfacesIn(ev Event, viewStatuses []model.Status) bool {
	if ev.Kind != KindCreated || len(viewStatuses) == 0 {
		return true
	}
	if ev.Booking == nil {
		return false
	}
	for _, s := range viewStatuses {
		if ev.Booking.Status == s {
			return true
		}
	}
	return false
}

// FetchGuard serializes detail fetches for a view: each fetch takes a ticket
// and only the most recently issued ticket may clear the view's loading
// flag, so a stale slow response cannot clobber a later fast one.
type FetchGuard struct {
	latest atomic.Uint64
}

// Begin issues a ticket for a new fetch.
func (g *FetchGuard) Begin() uint64 {
	return g.latest.Add(1)
}

// IsCurrent reports whether the ticket still belongs to the latest fetch.
func (g *FetchGuard) IsCurrent(ticket uint64) bool {
	return g.latest.Load() == ticket
}
