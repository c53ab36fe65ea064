// Package overlap prevents double-booking: it reports every active booking
// whose resolved time interval intersects a candidate interval.
package overlap

import (
	"context"
	"fmt"
	"log"
	"time"

	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/store"
)

// Overlap is one conflicting booking. Blocking conflicts (the other side is
// confirmed) must prevent the competing transition; the rest are surfaced to
// the admin as warnings only.
type Overlap struct {
	Booking  model.Booking `json:"booking"`
	Blocking bool          `json:"blocking"`
}

// Checker scans active bookings for interval intersections.
type Checker struct {
	store *store.Store
	clock *clock.Clock
}

// NewChecker creates a Checker.
func NewChecker(s *store.Store, c *clock.Clock) *Checker {
	return &Checker{store: s, clock: c}
}

// Candidate is the interval being probed, in schedule wire form.
type Candidate struct {
	StartDate string
	EndDate   *string
	StartTime *string
	EndTime   *string
}

// FindOverlaps resolves the candidate interval and reports every active
// booking (status not cancelled/finished, id != excludeID) whose own
// resolved interval intersects it. Intervals are half-open, so touching
// endpoints never count as an overlap.
//
// Callers run this twice per mutating operation: once during input
// validation and once immediately before the conditional write. Only the
// second result is authoritative.
func (c *Checker) FindOverlaps(ctx context.Context, excludeID string, cand Candidate) ([]Overlap, error) {
	start, end, err := c.clock.ResolveInterval(cand.StartDate, cand.EndDate, cand.StartTime, cand.EndTime)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate interval: %w", err)
	}

	active, err := c.store.ListActive(ctx, excludeID)
	if err != nil {
		return nil, err
	}

	var overlaps []Overlap
	for _, b := range active {
		bStart, bEnd, err := c.clock.ResolveInterval(b.StartDate, b.EndDate, b.StartTime, b.EndTime)
		if err != nil {
			// A stored booking that no longer resolves cannot veto anything,
			// but it should not pass silently either.
			log.Printf("overlap: skipping booking %s with unresolvable schedule: %v", b.ID, err)
			continue
		}
		if Intersects(start, end, bStart, bEnd) {
			overlaps = append(overlaps, Overlap{
				Booking:  b,
				Blocking: b.Status == model.StatusConfirmed,
			})
		}
	}
	return overlaps, nil
}

// Intersects reports whether two half-open instant intervals intersect.
func Intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HasBlocking reports whether any overlap in the list is blocking.
func HasBlocking(overlaps []Overlap) bool {
	for _, o := range overlaps {
		if o.Blocking {
			return true
		}
	}
	return false
}
