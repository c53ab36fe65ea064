// Package lifecycle decides whether a booking status transition is legal and
// which side effects it implies. It is pure: no storage, no clock of its own.
// The availability gate on transitions into confirmed lives in the service,
// which consults the overlap checker with the authoritative data.
package lifecycle

import (
	"fmt"
	"time"

	"booking-admin-backend/internal/model"
)

// Decision is the outcome of evaluating a requested transition.
type Decision struct {
	Allowed bool
	// Reason explains a rejection in terms an admin can show the user.
	Reason string
	// Warnings are non-blocking; the caller surfaces them for confirmation.
	Warnings []string
	// ClearEvidence means previously uploaded deposit evidence is
	// invalidated and must be deleted.
	ClearEvidence bool
	// MarkVerifiedOtherChannel means the deposit is auto-marked as verified
	// through a channel other than an upload.
	MarkVerifiedOtherChannel bool
}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// transitions is the closed allowed-transition table. Restoration targets out
// of cancelled and the pending_deposit self-loop carry extra policy in Decide.
var transitions = map[model.Status][]model.Status{
	model.StatusPending:        {model.StatusPendingDeposit},
	model.StatusPendingDeposit: {model.StatusPendingDeposit, model.StatusPaidDeposit, model.StatusConfirmed, model.StatusCancelled},
	model.StatusPaidDeposit:    {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:      {model.StatusCancelled},
	model.StatusCancelled:      {model.StatusPendingDeposit, model.StatusPaidDeposit, model.StatusConfirmed},
	model.StatusFinished:       {},
}

func allowedTarget(current, requested model.Status) bool {
	for _, t := range transitions[current] {
		if t == requested {
			return true
		}
	}
	return false
}

// Decide evaluates the transition current -> requested for the given booking.
// start is the booking's resolved start instant (after any schedule edit in
// the same operation) and now is the current instant in the same timezone.
func Decide(current, requested model.Status, b *model.Booking, start, now time.Time) Decision {
	if !requested.Valid() {
		return reject("unknown status %q", requested)
	}
	if current == model.StatusFinished {
		return reject("event already completed")
	}
	if !allowedTarget(current, requested) {
		return reject("cannot change status from %s to %s", current, requested)
	}

	d := Decision{Allowed: true}

	switch {
	case current == model.StatusPending && requested == model.StatusPendingDeposit:
		// The deposit-upload token issued downstream needs a non-expired
		// window, so the event must still be in the future.
		if !start.After(now) {
			return reject("cannot request a deposit for an event that has already started")
		}

	case current == model.StatusPendingDeposit && requested == model.StatusPendingDeposit:
		// Reject-and-re-request: the previous upload is invalidated.
		d.ClearEvidence = true

	case current == model.StatusCancelled:
		switch requested {
		case model.StatusPendingDeposit:
			if !start.After(now) {
				return reject("cannot restore to pending_deposit: the deposit window would expire immediately")
			}
			d.ClearEvidence = true
		case model.StatusPaidDeposit, model.StatusConfirmed:
			if !start.After(now) {
				d.Warnings = append(d.Warnings, "restoring a booking whose start is already in the past")
			}
			if requested == model.StatusConfirmed && b.EvidenceRef == nil {
				d.MarkVerifiedOtherChannel = true
			}
		}
	}

	return d
}

// Targets returns the statuses reachable from current by the table alone,
// before per-transition policy. Used by the API to hint the dashboard.
func Targets(current model.Status) []model.Status {
	out := make([]model.Status, len(transitions[current]))
	copy(out, transitions[current])
	return out
}
