package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/lock"
	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/store"
)

// fakeDispatcher records side-effect calls instead of performing them.
type fakeDispatcher struct {
	mu       sync.Mutex
	notified []model.Status
	cleaned  []string
}

func (d *fakeDispatcher) NotifyChanged(_ *model.Booking, status model.Status, _ string) {
	d.mu.Lock()
	d.notified = append(d.notified, status)
	d.mu.Unlock()
}

func (d *fakeDispatcher) CleanupEvidence(ref string) {
	d.mu.Lock()
	d.cleaned = append(d.cleaned, ref)
	d.mu.Unlock()
}

type fixture struct {
	svc        *Service
	store      *store.Store
	locks      *lock.Manager
	dispatcher *fakeDispatcher
	bc         *realtime.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Booking{}, &model.StatusHistory{}))

	st := store.New(db)
	ck := clock.MustUTC()
	locks := lock.NewManager(time.Second)
	d := &fakeDispatcher{}
	bc := realtime.NewBroadcaster(64)

	return &fixture{
		svc:        New(st, locks, ck, overlap.NewChecker(st, ck), bc, d),
		store:      st,
		locks:      locks,
		dispatcher: d,
		bc:         bc,
	}
}

func strPtr(s string) *string { return &s }

func futureDate(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(clock.DateLayout)
}

func (f *fixture) seed(t *testing.T, id string, status model.Status, startDate string) *model.Booking {
	t.Helper()
	b := &model.Booking{
		ID:        id,
		RefCode:   "BK-" + id,
		Status:    status,
		StartDate: startDate,
	}
	require.NoError(t, f.store.Create(context.Background(), b))
	return b
}

func asServiceError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	return AsError(err)
}

func TestCreateStartsPendingWithRefCode(t *testing.T) {
	f := newFixture(t)
	sub := f.bc.Subscribe()
	defer sub.Close()

	res, err := f.svc.Create(context.Background(), CreateInput{
		ContactName: "Ada",
		Schedule:    ScheduleInput{StartDate: futureDate(7)},
		CreatedBy:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Booking.Status)
	assert.NotEmpty(t, res.Booking.RefCode)

	ev := <-sub.C
	assert.Equal(t, realtime.KindCreated, ev.Kind)
	assert.Equal(t, res.Booking.ID, ev.BookingID)
	assert.Equal(t, res.Booking.UpdatedAt, ev.ServerTimestamp)
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{
		ContactName: "Ada",
		Schedule:    ScheduleInput{StartDate: futureDate(3), EndDate: strPtr(futureDate(1))},
	})
	assert.Equal(t, CodeValidation, asServiceError(t, err).Code)
}

func TestChangeStatusHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "b-1", model.StatusPending, futureDate(7))

	res, err := f.svc.ChangeStatus(ctx, "b-1", ChangeStatusInput{
		Target:    model.StatusPendingDeposit,
		Reason:    "deposit requested",
		ChangedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDeposit, res.Booking.Status)

	hs, err := f.store.HistoryFor(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, model.StatusPending, hs[0].OldStatus)
	assert.Equal(t, model.StatusPendingDeposit, hs[0].NewStatus)
	assert.Equal(t, "alice", hs[0].ChangedBy)
	assert.Equal(t, "deposit requested", hs[0].Reason)

	assert.Equal(t, []model.Status{model.StatusPendingDeposit}, f.dispatcher.notified)
}

func TestChangeStatusIllegalTransition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b-1", model.StatusPending, futureDate(7))

	_, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusConfirmed, ChangedBy: "alice",
	})
	e := asServiceError(t, err)
	assert.Equal(t, CodeValidation, e.Code)
	assert.NotEmpty(t, e.Message)
}

func TestChangeStatusNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ChangeStatus(context.Background(), "missing", ChangeStatusInput{
		Target: model.StatusCancelled, ChangedBy: "alice",
	})
	assert.Equal(t, CodeNotFound, asServiceError(t, err).Code)
}

func TestConfirmBlockedByOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	date := futureDate(10)
	f.seed(t, "winner", model.StatusConfirmed, date)
	f.seed(t, "loser", model.StatusPaidDeposit, date)

	_, err := f.svc.ChangeStatus(ctx, "loser", ChangeStatusInput{
		Target: model.StatusConfirmed, ChangedBy: "alice",
	})
	e := asServiceError(t, err)
	assert.Equal(t, CodeOverlap, e.Code)

	conflicts, ok := e.Data.([]model.Booking)
	require.True(t, ok, "overlap errors carry the conflicting bookings")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "winner", conflicts[0].ID)

	// The loser must not have moved.
	got, err := f.store.GetByID(ctx, "loser")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaidDeposit, got.Status)
}

func TestConfirmAllowedWhenOverlapOnlyInformational(t *testing.T) {
	f := newFixture(t)
	date := futureDate(10)
	f.seed(t, "other", model.StatusPending, date)
	f.seed(t, "b-1", model.StatusPaidDeposit, date)

	res, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusConfirmed, ChangedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Booking.Status)
}

func TestRestoreCancelledToPendingDepositWithPastStart(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b-1", model.StatusCancelled, "2020-01-01")

	_, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusPendingDeposit, ChangedBy: "alice",
	})
	e := asServiceError(t, err)
	assert.Equal(t, CodeValidation, e.Code)
	assert.Contains(t, e.Message, "expire immediately")
}

func TestRestoreCancelledToConfirmedMarksOtherChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "b-1", model.StatusCancelled, futureDate(5))

	res, err := f.svc.ChangeStatus(ctx, "b-1", ChangeStatusInput{
		Target: model.StatusConfirmed, ChangedBy: "alice",
	})
	require.NoError(t, err)
	assert.True(t, res.Booking.VerifiedOtherChannel)
	require.NotNil(t, res.Booking.EvidenceVerifiedBy)
	assert.Equal(t, "alice", *res.Booking.EvidenceVerifiedBy)
}

func TestRestoreHistoricalWarnsButAllows(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b-1", model.StatusCancelled, "2020-01-01")

	res, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusPaidDeposit, ChangedBy: "alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestRejectAndReRequestCleansEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, "b-1", model.StatusPendingDeposit, futureDate(7))

	ref := "deposits/b-1.jpg"
	b.EvidenceRef = &ref
	require.NoError(t, f.store.UpdateVersioned(ctx, b, b.UpdatedAt))

	res, err := f.svc.ChangeStatus(ctx, "b-1", ChangeStatusInput{
		Target: model.StatusPendingDeposit, Reason: "illegible proof", ChangedBy: "alice",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Booking.EvidenceRef)
	assert.Equal(t, []string{"deposits/b-1.jpg"}, f.dispatcher.cleaned)
}

func TestChangeStatusLockConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b-1", model.StatusPending, futureDate(7))

	// Another admin holds the action lock.
	_, ok := f.locks.Acquire("booking", "b-1", "change_status", "bob")
	require.True(t, ok)

	_, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusPendingDeposit, ChangedBy: "alice",
	})
	e := asServiceError(t, err)
	assert.Equal(t, CodeConflict, e.Code)
	assert.Contains(t, e.Message, "bob")
}

func TestLockReleasedAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b-1", model.StatusPending, futureDate(7))

	// A failing operation must still release the lock on its way out.
	_, err := f.svc.ChangeStatus(context.Background(), "b-1", ChangeStatusInput{
		Target: model.StatusFinished, ChangedBy: "alice",
	})
	require.Error(t, err)

	_, held := f.locks.Current("booking", "b-1")
	assert.False(t, held)
}

func TestChangeSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("confirmed booking rejects a blocking conflict", func(t *testing.T) {
		date := futureDate(20)
		f.seed(t, "held", model.StatusConfirmed, date)
		f.seed(t, "moving", model.StatusConfirmed, futureDate(25))

		_, err := f.svc.ChangeSchedule(ctx, "moving", ScheduleInput{StartDate: date}, "alice")
		assert.Equal(t, CodeOverlap, asServiceError(t, err).Code)
	})

	t.Run("non-confirmed booking gets warnings instead", func(t *testing.T) {
		date := futureDate(30)
		f.seed(t, "held-2", model.StatusConfirmed, date)
		f.seed(t, "moving-2", model.StatusPending, futureDate(35))

		res, err := f.svc.ChangeSchedule(ctx, "moving-2", ScheduleInput{StartDate: date}, "alice")
		require.NoError(t, err)
		assert.Equal(t, date, res.Booking.StartDate)
		assert.NotEmpty(t, res.Warnings)
	})

	t.Run("finished booking is immutable", func(t *testing.T) {
		f.seed(t, "done", model.StatusFinished, "2020-01-01")
		_, err := f.svc.ChangeSchedule(ctx, "done", ScheduleInput{StartDate: futureDate(5)}, "alice")
		assert.Equal(t, CodeValidation, asServiceError(t, err).Code)
	})
}

func TestUpdateFeeGatedByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "active", model.StatusPending, futureDate(7))
	f.seed(t, "done", model.StatusFinished, "2020-01-01")

	_, err := f.svc.UpdateFee(ctx, "active", FeeInput{Amount: 100, Currency: "EUR"}, "alice")
	assert.Equal(t, CodeValidation, asServiceError(t, err).Code)

	res, err := f.svc.UpdateFee(ctx, "done", FeeInput{Amount: 100, Currency: "EUR"}, "alice")
	require.NoError(t, err)
	require.NotNil(t, res.Booking.FeeAmount)
	assert.Equal(t, 100.0, *res.Booking.FeeAmount)
	require.NotNil(t, res.Booking.FeeRecordedBy)
	assert.Equal(t, "alice", *res.Booking.FeeRecordedBy)
}

func TestRecordEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "b-1", model.StatusPendingDeposit, futureDate(7))

	sub := f.bc.Subscribe()
	defer sub.Close()

	res, err := f.svc.RecordEvidence(ctx, "b-1", "deposits/new.jpg", "")
	require.NoError(t, err)
	require.NotNil(t, res.Booking.EvidenceRef)
	assert.Equal(t, "deposits/new.jpg", *res.Booking.EvidenceRef)

	ev := <-sub.C
	assert.Equal(t, realtime.KindDepositUploaded, ev.Kind)
	assert.Equal(t, "unknown", ev.ChangedBy)

	// Replacing evidence cleans up the old reference.
	_, err = f.svc.RecordEvidence(ctx, "b-1", "deposits/retake.jpg", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"deposits/new.jpg"}, f.dispatcher.cleaned)

	// Wrong status is rejected.
	f.seed(t, "b-2", model.StatusConfirmed, futureDate(7))
	_, err = f.svc.RecordEvidence(ctx, "b-2", "deposits/x.jpg", "alice")
	assert.Equal(t, CodeValidation, asServiceError(t, err).Code)
}

func TestDeleteNotifiesFirstAndCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, "b-1", model.StatusConfirmed, futureDate(7))

	ref := "deposits/b-1.jpg"
	b.EvidenceRef = &ref
	require.NoError(t, f.store.UpdateVersioned(ctx, b, b.UpdatedAt))

	sub := f.bc.Subscribe()
	defer sub.Close()

	require.NoError(t, f.svc.Delete(ctx, "b-1", "alice"))

	_, err := f.store.GetByID(ctx, "b-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []model.Status{model.StatusConfirmed}, f.dispatcher.notified)
	assert.Equal(t, []string{"deposits/b-1.jpg"}, f.dispatcher.cleaned)

	ev := <-sub.C
	assert.Equal(t, realtime.KindDeleted, ev.Kind)
	assert.Equal(t, "b-1", ev.BookingID)
	assert.Nil(t, ev.Booking)
}

func TestGetDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	date := futureDate(10)
	f.seed(t, "b-1", model.StatusPaidDeposit, date)
	f.seed(t, "rival", model.StatusConfirmed, date)

	require.NoError(t, f.store.AppendHistory(ctx, &model.StatusHistory{
		BookingID: "b-1",
		OldStatus: model.StatusPending,
		NewStatus: model.StatusPaidDeposit,
		ChangedBy: "alice",
	}))

	d, err := f.svc.GetDetail(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", d.Booking.ID)
	assert.Len(t, d.History, 1)
	require.Len(t, d.Overlaps, 1)
	assert.True(t, d.HasBlockingOverlap)
	assert.ElementsMatch(t, []model.Status{model.StatusConfirmed, model.StatusCancelled}, d.AvailableTargets)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "unknown", Identity(""))
	assert.Equal(t, "alice", Identity("alice"))
}
