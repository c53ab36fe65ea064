// Package service implements the booking operations as atomic, audited
// units: every writer goes acquire-lock → re-validate → optimistic
// conditional write → release-lock, with release deferred so it runs on
// every exit path.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/lifecycle"
	"booking-admin-backend/internal/lock"
	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/refcode"
	"booking-admin-backend/internal/store"
)

const resourceBooking = "booking"

// Dispatcher hands fire-and-forget side effects to the background lane.
// Neither call may block or fail the calling operation.
type Dispatcher interface {
	NotifyChanged(b *model.Booking, status model.Status, reason string)
	CleanupEvidence(ref string)
}

// Service orchestrates the state machine, availability checker, concurrency
// controller and event synchronizer into the booking operations.
type Service struct {
	store       *store.Store
	locks       *lock.Manager
	clock       *clock.Clock
	checker     *overlap.Checker
	broadcaster *realtime.Broadcaster
	dispatcher  Dispatcher
}

// New creates a Service.
func New(s *store.Store, locks *lock.Manager, c *clock.Clock, checker *overlap.Checker, b *realtime.Broadcaster, d Dispatcher) *Service {
	return &Service{
		store:       s,
		locks:       locks,
		clock:       c,
		checker:     checker,
		broadcaster: b,
		dispatcher:  d,
	}
}

// Identity normalizes an acting identity; absence is tolerated.
func Identity(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// withLock runs fn under the booking's action lock. Acquisition failure is a
// retryable conflict; release always runs, whatever fn does.
func (s *Service) withLock(id, action, holder string, fn func() error) error {
	leaseID, ok := s.locks.Acquire(resourceBooking, id, action, holder)
	if !ok {
		if cur, held := s.locks.Current(resourceBooking, id); held {
			return conflictErr("booking is being edited by %s, try again shortly", cur.Holder)
		}
		return conflictErr("booking is being edited by another admin, try again shortly")
	}
	defer s.locks.Release(leaseID, holder)
	return fn()
}

func (s *Service) load(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundErr(id)
	}
	if err != nil {
		log.Printf("service: failed to load booking %s: %v", id, err)
		return nil, internalErr(err)
	}
	return b, nil
}

func candidateOf(b *model.Booking) overlap.Candidate {
	return overlap.Candidate{
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
	}
}

// write commits b with the version guard and maps a lost race to CONFLICT.
func (s *Service) write(ctx context.Context, b *model.Booking, expected int64) error {
	err := s.store.UpdateVersioned(ctx, b, expected)
	if errors.Is(err, store.ErrStaleVersion) {
		return conflictErr("booking was changed by someone else, refresh before retrying")
	}
	if err != nil {
		log.Printf("service: failed to write booking %s: %v", b.ID, err)
		return internalErr(err)
	}
	return nil
}

func (s *Service) publish(kind realtime.Kind, b *model.Booking, changedBy, reason string, ts int64) {
	ev := realtime.Event{
		Kind:            kind,
		ChangedBy:       changedBy,
		Reason:          reason,
		ServerTimestamp: ts,
	}
	if b != nil {
		snap := *b
		ev.BookingID = b.ID
		ev.Booking = &snap
	}
	s.broadcaster.Publish(ev)
}

// Result is a successful mutation: the updated booking plus any non-blocking
// warnings the admin should confirm.
type Result struct {
	Booking  *model.Booking `json:"booking"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ScheduleInput is a schedule in wire form.
type ScheduleInput struct {
	StartDate string  `json:"start_date" binding:"required"`
	EndDate   *string `json:"end_date"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

// CreateInput is the intake payload for a new booking.
type CreateInput struct {
	ContactName  string        `json:"contact_name" binding:"required"`
	ContactEmail string        `json:"contact_email"`
	Notes        *string       `json:"notes"`
	Schedule     ScheduleInput `json:"schedule" binding:"required"`
	CreatedBy    string        `json:"-"`
}

// Create inserts a new booking in pending with a derived reference code.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if _, _, err := s.clock.ResolveInterval(in.Schedule.StartDate, in.Schedule.EndDate, in.Schedule.StartTime, in.Schedule.EndTime); err != nil {
		return nil, validationErr("invalid schedule: %v", err)
	}

	b := &model.Booking{
		ID:           uuid.NewString(),
		ContactName:  in.ContactName,
		ContactEmail: in.ContactEmail,
		Notes:        in.Notes,
		StartDate:    in.Schedule.StartDate,
		EndDate:      in.Schedule.EndDate,
		StartTime:    in.Schedule.StartTime,
		EndTime:      in.Schedule.EndTime,
		Status:       model.StatusPending,
	}
	b.RefCode = refcode.FromID(b.ID)

	overlaps, err := s.checker.FindOverlaps(ctx, b.ID, candidateOf(b))
	if err != nil {
		return nil, validationErr("invalid schedule: %v", err)
	}

	if err := s.store.Create(ctx, b); err != nil {
		log.Printf("service: failed to create booking: %v", err)
		return nil, internalErr(err)
	}

	s.publish(realtime.KindCreated, b, Identity(in.CreatedBy), "", b.UpdatedAt)
	return &Result{Booking: b, Warnings: overlapWarnings(overlaps)}, nil
}

// ChangeStatusInput drives one status transition.
type ChangeStatusInput struct {
	Target            model.Status
	Reason            string
	Notes             *string
	DepositVerifiedBy *string
	ChangedBy         string
}

// ChangeStatus moves the booking through the state machine. Transitions into
// confirmed are additionally gated by the availability checker; the check
// runs once up front for fast feedback and once more right before the
// conditional write, and only the second run can veto the commit.
func (s *Service) ChangeStatus(ctx context.Context, id string, in ChangeStatusInput) (*Result, error) {
	holder := Identity(in.ChangedBy)
	var result *Result

	err := s.withLock(id, "change_status", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		start, _, err := s.clock.ResolveInterval(b.StartDate, b.EndDate, b.StartTime, b.EndTime)
		if err != nil {
			return validationErr("booking schedule is invalid: %v", err)
		}

		now := s.clock.Now()
		dec := lifecycle.Decide(b.Status, in.Target, b, start, now)
		if !dec.Allowed {
			return validationErr("%s", dec.Reason)
		}

		if in.Target == model.StatusConfirmed {
			overlaps, err := s.checker.FindOverlaps(ctx, b.ID, candidateOf(b))
			if err != nil {
				return validationErr("booking schedule is invalid: %v", err)
			}
			if overlap.HasBlocking(overlaps) {
				return overlapErr("the requested time range conflicts with a confirmed booking", blocking(overlaps))
			}
		}

		expected := b.UpdatedAt
		oldStatus := b.Status
		b.Status = in.Target

		var clearedRef string
		if dec.ClearEvidence && b.EvidenceRef != nil {
			clearedRef = *b.EvidenceRef
			b.EvidenceRef = nil
			b.EvidenceVerifiedAt = nil
			b.EvidenceVerifiedBy = nil
			b.VerifiedOtherChannel = false
		}
		if in.DepositVerifiedBy != nil && (in.Target == model.StatusPaidDeposit || in.Target == model.StatusConfirmed) {
			at := now
			b.EvidenceVerifiedAt = &at
			b.EvidenceVerifiedBy = in.DepositVerifiedBy
		}
		if dec.MarkVerifiedOtherChannel {
			at := now
			by := holder
			if in.DepositVerifiedBy != nil {
				by = *in.DepositVerifiedBy
			}
			b.VerifiedOtherChannel = true
			b.EvidenceVerifiedAt = &at
			b.EvidenceVerifiedBy = &by
		}
		if in.Notes != nil {
			b.Notes = in.Notes
		}

		// Authoritative availability pass: closes the window where another
		// writer confirmed a conflicting booking since the first pass.
		if in.Target == model.StatusConfirmed {
			overlaps, err := s.checker.FindOverlaps(ctx, b.ID, candidateOf(b))
			if err != nil {
				return validationErr("booking schedule is invalid: %v", err)
			}
			if overlap.HasBlocking(overlaps) {
				return overlapErr("the requested time range conflicts with a confirmed booking", blocking(overlaps))
			}
		}

		if err := s.write(ctx, b, expected); err != nil {
			return err
		}

		if err := s.store.AppendHistory(ctx, &model.StatusHistory{
			BookingID: b.ID,
			OldStatus: oldStatus,
			NewStatus: b.Status,
			ChangedBy: holder,
			Reason:    in.Reason,
		}); err != nil {
			// The transition itself is committed; a history write failure
			// must not roll the status back.
			log.Printf("service: failed to append history for %s: %v", b.ID, err)
		}

		s.publish(realtime.KindStatusChanged, b, holder, in.Reason, b.UpdatedAt)
		s.dispatcher.NotifyChanged(b, b.Status, in.Reason)
		if clearedRef != "" {
			s.dispatcher.CleanupEvidence(clearedRef)
		}

		result = &Result{Booking: b, Warnings: dec.Warnings}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChangeSchedule rewrites the booking's time range. For a confirmed booking
// a blocking conflict with another confirmed booking rejects the edit; for
// other active statuses conflicts are surfaced as warnings only.
func (s *Service) ChangeSchedule(ctx context.Context, id string, in ScheduleInput, changedBy string) (*Result, error) {
	holder := Identity(changedBy)
	var result *Result

	err := s.withLock(id, "change_schedule", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == model.StatusFinished {
			return validationErr("event already completed")
		}

		if _, _, err := s.clock.ResolveInterval(in.StartDate, in.EndDate, in.StartTime, in.EndTime); err != nil {
			return validationErr("invalid schedule: %v", err)
		}

		cand := overlap.Candidate{StartDate: in.StartDate, EndDate: in.EndDate, StartTime: in.StartTime, EndTime: in.EndTime}
		overlaps, err := s.checker.FindOverlaps(ctx, b.ID, cand)
		if err != nil {
			return validationErr("invalid schedule: %v", err)
		}
		if b.Status == model.StatusConfirmed && overlap.HasBlocking(overlaps) {
			return overlapErr("the new time range conflicts with a confirmed booking", blocking(overlaps))
		}

		expected := b.UpdatedAt
		b.StartDate = in.StartDate
		b.EndDate = in.EndDate
		b.StartTime = in.StartTime
		b.EndTime = in.EndTime

		// Authoritative pass before the commit.
		overlaps, err = s.checker.FindOverlaps(ctx, b.ID, cand)
		if err != nil {
			return validationErr("invalid schedule: %v", err)
		}
		if b.Status == model.StatusConfirmed && overlap.HasBlocking(overlaps) {
			return overlapErr("the new time range conflicts with a confirmed booking", blocking(overlaps))
		}

		if err := s.write(ctx, b, expected); err != nil {
			return err
		}

		s.publish(realtime.KindUpdated, b, holder, "schedule changed", b.UpdatedAt)
		s.dispatcher.NotifyChanged(b, b.Status, "schedule changed")

		result = &Result{Booking: b, Warnings: overlapWarnings(overlaps)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateNotes changes only the free-form notes.
func (s *Service) UpdateNotes(ctx context.Context, id, notes, changedBy string) (*Result, error) {
	holder := Identity(changedBy)
	var result *Result

	err := s.withLock(id, "update_notes", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		expected := b.UpdatedAt
		b.Notes = &notes
		if err := s.write(ctx, b, expected); err != nil {
			return err
		}
		s.publish(realtime.KindUpdated, b, holder, "notes updated", b.UpdatedAt)
		result = &Result{Booking: b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FeeInput is one monetary record.
type FeeInput struct {
	Amount     float64  `json:"amount" binding:"required"`
	Currency   string   `json:"currency" binding:"required"`
	Rate       *float64 `json:"rate"`
	BaseAmount *float64 `json:"base_amount"`
	Notes      *string  `json:"notes"`
}

// UpdateFee records the fee. The record is mutable independent of status but
// only once the booking has reached confirmed, finished or cancelled.
func (s *Service) UpdateFee(ctx context.Context, id string, in FeeInput, changedBy string) (*Result, error) {
	holder := Identity(changedBy)
	var result *Result

	err := s.withLock(id, "update_fee", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.StatusConfirmed, model.StatusFinished, model.StatusCancelled:
		default:
			return validationErr("fee can only be recorded for confirmed, finished or cancelled bookings")
		}

		expected := b.UpdatedAt
		now := s.clock.Now()
		b.FeeAmount = &in.Amount
		b.FeeCurrency = &in.Currency
		b.FeeRate = in.Rate
		b.FeeBaseAmount = in.BaseAmount
		b.FeeNotes = in.Notes
		b.FeeRecordedAt = &now
		b.FeeRecordedBy = &holder

		if err := s.write(ctx, b, expected); err != nil {
			return err
		}
		s.publish(realtime.KindUpdated, b, holder, "fee recorded", b.UpdatedAt)
		result = &Result{Booking: b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordEvidence stores the opaque reference of freshly uploaded deposit
// evidence. A replaced reference is cleaned up best-effort.
func (s *Service) RecordEvidence(ctx context.Context, id, ref, changedBy string) (*Result, error) {
	holder := Identity(changedBy)
	var result *Result

	if ref == "" {
		return nil, validationErr("evidence reference must not be empty")
	}

	err := s.withLock(id, "record_evidence", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != model.StatusPendingDeposit {
			return validationErr("evidence can only be uploaded while the deposit is pending")
		}

		expected := b.UpdatedAt
		var replaced string
		if b.EvidenceRef != nil {
			replaced = *b.EvidenceRef
		}
		b.EvidenceRef = &ref
		b.EvidenceVerifiedAt = nil
		b.EvidenceVerifiedBy = nil
		b.VerifiedOtherChannel = false

		if err := s.write(ctx, b, expected); err != nil {
			return err
		}

		s.publish(realtime.KindDepositUploaded, b, holder, "deposit evidence uploaded", b.UpdatedAt)
		s.dispatcher.NotifyChanged(b, b.Status, "deposit evidence uploaded")
		if replaced != "" && replaced != ref {
			s.dispatcher.CleanupEvidence(replaced)
		}

		result = &Result{Booking: b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the booking. Notification is attempted first, then the
// durable delete, then best-effort evidence cleanup; the operation succeeds
// even when the secondary cleanup does not.
func (s *Service) Delete(ctx context.Context, id, changedBy string) error {
	holder := Identity(changedBy)

	return s.withLock(id, "delete", holder, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		s.dispatcher.NotifyChanged(b, b.Status, "booking deleted")

		if err := s.store.DeleteBooking(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFoundErr(id)
			}
			log.Printf("service: failed to delete booking %s: %v", id, err)
			return internalErr(err)
		}

		if b.EvidenceRef != nil {
			s.dispatcher.CleanupEvidence(*b.EvidenceRef)
		}

		s.broadcaster.Publish(realtime.Event{
			Kind:            realtime.KindDeleted,
			BookingID:       id,
			ChangedBy:       holder,
			Reason:          "booking deleted",
			ServerTimestamp: realtime.NowTimestamp(),
		})
		return nil
	})
}

// Detail is the dashboard's detail view payload.
type Detail struct {
	Booking            *model.Booking        `json:"booking"`
	History            []model.StatusHistory `json:"history"`
	Overlaps           []overlap.Overlap     `json:"overlaps"`
	HasBlockingOverlap bool                  `json:"has_blocking_overlap"`
	AvailableTargets   []model.Status        `json:"available_targets"`
}

// GetDetail returns the booking with its audit trail and live conflicts.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.store.HistoryFor(ctx, id)
	if err != nil {
		log.Printf("service: failed to load history for %s: %v", id, err)
		return nil, internalErr(err)
	}

	overlaps, err := s.checker.FindOverlaps(ctx, id, candidateOf(b))
	if err != nil {
		// A booking whose stored schedule no longer resolves still has to be
		// viewable so it can be repaired.
		log.Printf("service: overlap check failed for %s: %v", id, err)
		overlaps = nil
	}

	return &Detail{
		Booking:            b,
		History:            history,
		Overlaps:           overlaps,
		HasBlockingOverlap: overlap.HasBlocking(overlaps),
		AvailableTargets:   lifecycle.Targets(b.Status),
	}, nil
}

// List returns bookings for the dashboard list views and as the polling
// fallback while the event stream is down.
func (s *Service) List(ctx context.Context, f store.ListFilter) ([]model.Booking, error) {
	bookings, err := s.store.List(ctx, f)
	if err != nil {
		log.Printf("service: failed to list bookings: %v", err)
		return nil, internalErr(err)
	}
	return bookings, nil
}

func overlapWarnings(overlaps []overlap.Overlap) []string {
	var out []string
	for _, o := range overlaps {
		out = append(out, fmt.Sprintf("time range overlaps %s booking %s", o.Booking.Status, o.Booking.RefCode))
	}
	return out
}

func blocking(overlaps []overlap.Overlap) []model.Booking {
	var out []model.Booking
	for _, o := range overlaps {
		if o.Blocking {
			out = append(out, o.Booking)
		}
	}
	return out
}
