package model

import "time"

// Status is the lifecycle status of a booking. The set is closed; every
// transition between members goes through the lifecycle package.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPendingDeposit Status = "pending_deposit"
	StatusPaidDeposit    Status = "paid_deposit"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusFinished       Status = "finished"
)

// AllStatuses lists every valid status value.
var AllStatuses = []Status{
	StatusPending,
	StatusPendingDeposit,
	StatusPaidDeposit,
	StatusConfirmed,
	StatusCancelled,
	StatusFinished,
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Archived reports whether s is one of the archive statuses. Finished is
// terminal; cancelled can still be restored to an active status.
func (s Status) Archived() bool {
	return s == StatusCancelled || s == StatusFinished
}

// Booking is the central entity: one time-bound reservation of the shared
// resource. Schedule dates are stored as "2006-01-02" strings and times of
// day as "15:04" strings; the clock package resolves them to instants in the
// canonical timezone.
type Booking struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	RefCode string `gorm:"size:16;uniqueIndex" json:"ref_code"`

	ContactName  string  `gorm:"size:128" json:"contact_name"`
	ContactEmail string  `gorm:"size:128" json:"contact_email"`
	Notes        *string `json:"notes,omitempty"`

	StartDate string  `gorm:"size:10;not null;index" json:"start_date"`
	EndDate   *string `gorm:"size:10" json:"end_date,omitempty"`   // nil = single-day
	StartTime *string `gorm:"size:5" json:"start_time,omitempty"`  // nil = all-day
	EndTime   *string `gorm:"size:5" json:"end_time,omitempty"`

	Status Status `gorm:"size:32;not null;index" json:"status"`

	EvidenceRef          *string    `gorm:"size:256" json:"evidence_ref,omitempty"`
	EvidenceVerifiedAt   *time.Time `json:"evidence_verified_at,omitempty"`
	EvidenceVerifiedBy   *string    `gorm:"size:128" json:"evidence_verified_by,omitempty"`
	VerifiedOtherChannel bool       `json:"verified_other_channel"`

	FeeAmount     *float64   `json:"fee_amount,omitempty"`
	FeeCurrency   *string    `gorm:"size:8" json:"fee_currency,omitempty"`
	FeeRate       *float64   `json:"fee_rate,omitempty"`
	FeeBaseAmount *float64   `json:"fee_base_amount,omitempty"`
	FeeNotes      *string    `json:"fee_notes,omitempty"`
	FeeRecordedAt *time.Time `json:"fee_recorded_at,omitempty"`
	FeeRecordedBy *string    `gorm:"size:128" json:"fee_recorded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is unix milliseconds and doubles as the optimistic version
	// token. The store bumps it strictly monotonically on every write;
	// gorm's automatic handling is disabled so it never changes implicitly.
	UpdatedAt int64 `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
}

// MultiDay reports whether the booking spans more than one calendar date.
func (b *Booking) MultiDay() bool {
	return b.EndDate != nil && *b.EndDate != b.StartDate
}

// FeeRecorded reports whether a fee record exists.
func (b *Booking) FeeRecorded() bool {
	return b.FeeAmount != nil
}

// StatusHistory is the append-only audit log of accepted transitions.
// Rows are never mutated or deleted; ordering is by CreatedAt.
type StatusHistory struct {
	ID        int64     `gorm:"autoIncrement;primaryKey" json:"id"`
	BookingID string    `gorm:"size:36;not null;index" json:"booking_id"`
	OldStatus Status    `gorm:"size:32;not null" json:"old_status"`
	NewStatus Status    `gorm:"size:32;not null" json:"new_status"`
	ChangedBy string    `gorm:"size:128;not null" json:"changed_by"`
	Reason    string    `gorm:"size:512" json:"reason"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
