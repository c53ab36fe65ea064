// Package realtime keeps every connected dashboard replica consistent: the
// Broadcaster fans accepted mutations out to subscribers, and the Reconciler
// merges incoming events with a replica's own in-flight optimistic edits.
package realtime

import (
	"time"

	"booking-admin-backend/internal/model"
)

// Kind tags a BroadcastEvent.
type Kind string

const (
	KindCreated         Kind = "created"
	KindUpdated         Kind = "updated"
	KindStatusChanged   Kind = "status_changed"
	KindDepositUploaded Kind = "deposit_uploaded"
	KindDeleted         Kind = "deleted"
	KindUserResponse    Kind = "user_response"
)

// Event is broadcast to all subscribers on every accepted mutation. It is
// transient: never persisted, reconstructable from the list endpoint.
type Event struct {
	Kind      Kind           `json:"kind"`
	BookingID string         `json:"booking_id"`
	Booking   *model.Booking `json:"booking,omitempty"` // nil for deletions
	ChangedBy string         `json:"changed_by"`
	Reason    string         `json:"reason,omitempty"`
	// ServerTimestamp is unix milliseconds. Milliseconds are the one
	// canonical wire unit for event time; conversion from time.Time happens
	// here and nowhere else.
	ServerTimestamp int64 `json:"server_timestamp"`
}

// Timestamp converts an instant to the wire unit.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// NowTimestamp returns the current instant in the wire unit.
func NowTimestamp() int64 {
	return time.Now().UnixMilli()
}
