package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"booking-admin-backend/internal/api"
	"booking-admin-backend/internal/clock"
	"booking-admin-backend/internal/evidence"
	"booking-admin-backend/internal/lock"
	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/notification"
	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/service"
	"booking-admin-backend/internal/store"
)

type env struct {
	router      http.Handler
	store       *store.Store
	broadcaster *realtime.Broadcaster
	evidenceDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(&model.Booking{}, &model.StatusHistory{}, &model.PushSubscription{}))

	st := store.New(testDB)
	ck := clock.MustUTC()
	checker := overlap.NewChecker(st, ck)
	broadcaster := realtime.NewBroadcaster(32)
	evidenceDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := notification.NewWorkerPool(1, 16, 3, testDB, nil, &evidence.LocalStore{Root: evidenceDir})
	pool.Start(ctx)

	svc := service.New(st, lock.NewManager(2*time.Second), ck, checker, broadcaster, pool)
	router := api.NewRouter(svc, checker, broadcaster, st, nil, api.RouterOptions{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTL:        time.Second,
	})

	return &env{router: router, store: st, broadcaster: broadcaster, evidenceDir: evidenceDir}
}

func (e *env) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin", "alice")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBooking(t *testing.T, w *httptest.ResponseRecorder) model.Booking {
	t.Helper()
	var res struct {
		Booking model.Booking `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.Booking
}

// TestBookingLifecycle walks one booking through the whole funnel over the
// HTTP surface: intake, deposit request, evidence upload, verification,
// confirmation, cancellation and restoration.
func TestBookingLifecycle(t *testing.T) {
	e := newEnv(t)
	startDate := time.Now().UTC().AddDate(0, 0, 14).Format(clock.DateLayout)

	// Intake.
	w := e.request(t, "POST", "/api/bookings", fmt.Sprintf(
		`{"contact_name":"Ada Lovelace","contact_email":"ada@example.com","schedule":{"start_date":%q}}`, startDate))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decodeBooking(t, w)
	assert.Equal(t, model.StatusPending, b.Status)
	id := b.ID

	patch := func(body string) model.Booking {
		w := e.request(t, "PATCH", "/api/bookings/"+id, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decodeBooking(t, w)
	}

	// Request the deposit.
	b = patch(`{"target_status":"pending_deposit","reason":"quote accepted"}`)
	assert.Equal(t, model.StatusPendingDeposit, b.Status)

	// The user uploads evidence; only the opaque ref reaches this service.
	ref := "deposits/" + id + ".jpg"
	require.NoError(t, os.MkdirAll(filepath.Join(e.evidenceDir, "deposits"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.evidenceDir, ref), []byte("img"), 0o644))
	w = e.request(t, "POST", "/api/bookings/"+id+"/evidence", fmt.Sprintf(`{"ref":%q}`, ref))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Verify the deposit.
	b = patch(`{"target_status":"paid_deposit","deposit_verified_by":"alice"}`)
	assert.Equal(t, model.StatusPaidDeposit, b.Status)
	require.NotNil(t, b.EvidenceVerifiedBy)
	assert.Equal(t, "alice", *b.EvidenceVerifiedBy)

	// Confirm.
	b = patch(`{"target_status":"confirmed"}`)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	// Cancel, then restore; the original evidence survives restoration to a
	// post-deposit status.
	b = patch(`{"target_status":"cancelled","reason":"user asked to cancel"}`)
	assert.Equal(t, model.StatusCancelled, b.Status)
	b = patch(`{"target_status":"confirmed","reason":"user came back"}`)
	assert.Equal(t, model.StatusConfirmed, b.Status)
	require.NotNil(t, b.EvidenceRef)

	// The audit trail recorded every accepted transition in order.
	w = e.request(t, "GET", "/api/bookings/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		History []model.StatusHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	var transitions []string
	for _, h := range detail.History {
		transitions = append(transitions, string(h.OldStatus)+">"+string(h.NewStatus))
	}
	assert.Equal(t, []string{
		"pending>pending_deposit",
		"pending_deposit>paid_deposit",
		"paid_deposit>confirmed",
		"confirmed>cancelled",
		"cancelled>confirmed",
	}, transitions)
}

// TestEvidenceCleanupOnReRequest covers the reject-and-re-request loop end
// to end: the stale upload is deleted from disk by the background lane.
func TestEvidenceCleanupOnReRequest(t *testing.T) {
	e := newEnv(t)
	startDate := time.Now().UTC().AddDate(0, 0, 14).Format(clock.DateLayout)

	w := e.request(t, "POST", "/api/bookings", fmt.Sprintf(
		`{"contact_name":"Ada","schedule":{"start_date":%q}}`, startDate))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBooking(t, w).ID

	w = e.request(t, "PATCH", "/api/bookings/"+id, `{"target_status":"pending_deposit"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ref := "first.jpg"
	path := filepath.Join(e.evidenceDir, ref)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	w = e.request(t, "POST", "/api/bookings/"+id+"/evidence", fmt.Sprintf(`{"ref":%q}`, ref))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Reject and re-request: the self-loop clears and deletes the upload.
	w = e.request(t, "PATCH", "/api/bookings/"+id, `{"target_status":"pending_deposit","reason":"illegible"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	b := decodeBooking(t, w)
	assert.Nil(t, b.EvidenceRef)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "stale evidence file should be cleaned up")
}

// TestEventStream verifies the SSE surface delivers accepted mutations to a
// connected dashboard.
func TestEventStream(t *testing.T) {
	e := newEnv(t)

	server := httptest.NewServer(e.router)
	defer server.Close()

	// The stream only flushes once the first event arrives, so the client
	// runs in the background and reports what it saw.
	lines := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		req, err := http.NewRequestWithContext(ctx, "GET", server.URL+"/api/events", nil)
		if err != nil {
			close(lines)
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			close(lines)
			return
		}
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	require.Eventually(t, func() bool {
		return e.broadcaster.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "stream client should be subscribed")

	startDate := time.Now().UTC().AddDate(0, 0, 7).Format(clock.DateLayout)
	w := e.request(t, "POST", "/api/bookings", fmt.Sprintf(
		`{"contact_name":"Ada","schedule":{"start_date":%q}}`, startDate))
	require.Equal(t, http.StatusCreated, w.Code)

	deadline := time.After(2 * time.Second)
	var sawEvent, sawData bool
	for !(sawEvent && sawData) {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before the created event arrived")
			}
			if strings.HasPrefix(line, "event:") && strings.Contains(line, "created") {
				sawEvent = true
			}
			if strings.HasPrefix(line, "data:") && strings.Contains(line, `"booking_id"`) {
				sawData = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for the created event on the stream")
		}
	}
}
