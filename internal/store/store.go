package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"booking-admin-backend/internal/model"
)

var (
	// ErrNotFound means no booking exists for the given id.
	ErrNotFound = errors.New("booking not found")
	// ErrStaleVersion means the conditional write matched zero rows: another
	// writer updated the booking after this writer read it. The caller must
	// refetch before retrying.
	ErrStaleVersion = errors.New("booking was modified by another writer")
)

// Store wraps all booking persistence. Writes to an existing booking go
// through UpdateVersioned, which guards the optimistic version token.
type Store struct {
	db *gorm.DB
}

// New creates a gorm-backed store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for read-only collaborators.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// NextVersion computes the next value of the updated_at version token. The
// token is unix milliseconds but must grow strictly even when the wall clock
// does not, so two writes inside one millisecond still get distinct tokens.
func NextVersion(expected int64) int64 {
	now := time.Now().UnixMilli()
	if now <= expected {
		return expected + 1
	}
	return now
}

// Create inserts a new booking.
func (s *Store) Create(ctx context.Context, b *model.Booking) error {
	if b.UpdatedAt == 0 {
		b.UpdatedAt = NextVersion(0)
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID fetches one booking.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking %s: %w", id, err)
	}
	return &b, nil
}

// ListFilter narrows List results. Nil fields mean "no constraint".
type ListFilter struct {
	Statuses []model.Status
	FromDate *string // inclusive, compares start_date
	ToDate   *string
}

// List returns bookings matching the filter, newest start first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]model.Booking, error) {
	q := s.db.WithContext(ctx).Model(&model.Booking{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.FromDate != nil {
		q = q.Where("start_date >= ?", *f.FromDate)
	}
	if f.ToDate != nil {
		q = q.Where("start_date <= ?", *f.ToDate)
	}
	var bookings []model.Booking
	if err := q.Order("start_date DESC, created_at DESC").Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListActive returns every booking in a non-archived status, excluding the
// given id. The overlap checker resolves the candidates' intervals itself.
func (s *Store) ListActive(ctx context.Context, excludeID string) ([]model.Booking, error) {
	var bookings []model.Booking
	q := s.db.WithContext(ctx).
		Where("status NOT IN ?", []model.Status{model.StatusCancelled, model.StatusFinished})
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list active bookings: %w", err)
	}
	return bookings, nil
}

// UpdateVersioned writes every mutable field of b, conditional on the row
// still carrying the expected version token. On success b.UpdatedAt holds the
// new token; on a lost race it is left at expected and ErrStaleVersion is
// returned.
func (s *Store) UpdateVersioned(ctx context.Context, b *model.Booking, expected int64) error {
	b.UpdatedAt = NextVersion(expected)
	res := s.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ? AND updated_at = ?", b.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(b)
	if res.Error != nil {
		b.UpdatedAt = expected
		return fmt.Errorf("failed to update booking %s: %w", b.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		b.UpdatedAt = expected
		return ErrStaleVersion
	}
	return nil
}

// DeleteBooking removes the booking row. History rows are kept for audit.
func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Booking{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete booking %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendHistory records one accepted transition. The log is append-only.
func (s *Store) AppendHistory(ctx context.Context, h *model.StatusHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to append status history for %s: %w", h.BookingID, err)
	}
	return nil
}

// HistoryFor returns the transition log for a booking, oldest first.
func (s *Store) HistoryFor(ctx context.Context, bookingID string) ([]model.StatusHistory, error) {
	var hs []model.StatusHistory
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC, id ASC").
		Find(&hs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", bookingID, err)
	}
	return hs, nil
}
