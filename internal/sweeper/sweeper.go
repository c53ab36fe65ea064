// Package sweeper auto-finishes bookings: a confirmed booking whose resolved
// end instant has passed is moved to finished on behalf of the system, with
// the same audit trail and broadcast as an admin-driven transition.
package sweeper

import (
	"context"
	"log"
	"time"

	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/store"
)

const systemActor = "system"

// Dispatcher matches the service's fire-and-forget side-effect lane.
type Dispatcher interface {
	NotifyChanged(b *model.Booking, status model.Status, reason string)
}

// Service runs the periodic auto-finish sweep.
type Service struct {
	store       *store.Store
	clock       *clock.Clock
	broadcaster *realtime.Broadcaster
	dispatcher  Dispatcher
	interval    time.Duration
	enabled     bool
}

// NewService creates a sweeper.
func NewService(s *store.Store, c *clock.Clock, b *realtime.Broadcaster, d Dispatcher, interval time.Duration, enabled bool) *Service {
	return &Service{
		store:       s,
		clock:       c,
		broadcaster: b,
		dispatcher:  d,
		interval:    interval,
		enabled:     enabled,
	}
}

// Run starts the sweep loop.
func (s *Service) Run(ctx context.Context) {
	if !s.enabled {
		log.Println("Sweeper is disabled. Not starting.")
		return
	}
	log.Println("Starting sweeper service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce performs a single sweep cycle.
func (s *Service) SweepOnce(ctx context.Context) {
	confirmed, err := s.store.List(ctx, store.ListFilter{
		Statuses: []model.Status{model.StatusConfirmed},
	})
	if err != nil {
		log.Printf("sweeper: failed to list confirmed bookings: %v", err)
		return
	}

	now := s.clock.Now()
	for i := range confirmed {
		b := confirmed[i]
		_, end, err := s.clock.ResolveInterval(b.StartDate, b.EndDate, b.StartTime, b.EndTime)
		if err != nil {
			log.Printf("sweeper: skipping booking %s with unresolvable schedule: %v", b.ID, err)
			continue
		}
		if end.After(now) {
			continue
		}
		s.finish(ctx, &b)
	}
}

// finish marks one past booking as finished. The write is conditional on the
// version read in this cycle; a lost race just means an admin got there
// first, and the next cycle re-evaluates.
func (s *Service) finish(ctx context.Context, b *model.Booking) {
	expected := b.UpdatedAt
	oldStatus := b.Status
	b.Status = model.StatusFinished

	if err := s.store.UpdateVersioned(ctx, b, expected); err != nil {
		log.Printf("sweeper: could not finish booking %s: %v", b.ID, err)
		return
	}

	if err := s.store.AppendHistory(ctx, &model.StatusHistory{
		BookingID: b.ID,
		OldStatus: oldStatus,
		NewStatus: b.Status,
		ChangedBy: systemActor,
		Reason:    "event completed",
	}); err != nil {
		log.Printf("sweeper: failed to append history for %s: %v", b.ID, err)
	}

	snap := *b
	s.broadcaster.Publish(realtime.Event{
		Kind:            realtime.KindStatusChanged,
		BookingID:       b.ID,
		Booking:         &snap,
		ChangedBy:       systemActor,
		Reason:          "event completed",
		ServerTimestamp: b.UpdatedAt,
	})
	s.dispatcher.NotifyChanged(b, b.Status, "event completed")
	log.Printf("sweeper: booking %s (%s) finished", b.ID, b.RefCode)
}
