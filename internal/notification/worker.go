// Package notification is the best-effort side-effect lane: outbound change
// notifications and evidence cleanup run on a worker pool with bounded
// retries. The booking transaction never blocks on this pool and never fails
// because of it.
package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"booking-admin-backend/internal/evidence"
	"booking-admin-backend/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

type jobKind string

const (
	jobNotify  jobKind = "notify"
	jobCleanup jobKind = "cleanup"
)

// Job is one unit of background work.
type Job struct {
	Kind jobKind

	// notify fields
	BookingID string
	RefCode   string
	Status    model.Status
	Reason    string

	// cleanup fields
	EvidenceRef string

	Attempts int
}

// notifyPayload is the JSON body pushed to dashboards.
type notifyPayload struct {
	BookingID string       `json:"booking_id"`
	RefCode   string       `json:"ref_code"`
	Status    model.Status `json:"status"`
	Reason    string       `json:"reason,omitempty"`
}

// WorkerPool manages a pool of workers for notifications and cleanup jobs.
type WorkerPool struct {
	size        int
	maxAttempts int
	jobs        chan Job
	db          *gorm.DB
	webpush     *webpush.Options
	sender      Sender
	evidence    evidence.Store
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize, maxAttempts int, db *gorm.DB, webpushOptions *webpush.Options, ev evidence.Store) *WorkerPool {
	return &WorkerPool{
		size:        size,
		maxAttempts: maxAttempts,
		jobs:        make(chan Job, queueSize),
		db:          db,
		webpush:     webpushOptions,
		sender:      &WebPushSender{}, // Use the real sender by default
		evidence:    ev,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			switch job.Kind {
			case jobNotify:
				wp.sendNotifications(ctx, job)
			case jobCleanup:
				wp.cleanupEvidence(job)
			}
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// NotifyChanged enqueues a change notification for all subscribed
// dashboards. It never returns an error: on a full queue the job is dropped
// with a log line, per the send-or-enqueue contract.
func (wp *WorkerPool) NotifyChanged(b *model.Booking, status model.Status, reason string) {
	wp.dispatch(Job{
		Kind:      jobNotify,
		BookingID: b.ID,
		RefCode:   b.RefCode,
		Status:    status,
		Reason:    reason,
	})
}

// CleanupEvidence enqueues a best-effort deletion of invalidated evidence.
func (wp *WorkerPool) CleanupEvidence(ref string) {
	if ref == "" {
		return
	}
	wp.dispatch(Job{Kind: jobCleanup, EvidenceRef: ref})
}

func (wp *WorkerPool) dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		log.Printf("notification queue full, dropping %s job for booking %s", job.Kind, job.BookingID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// sendNotifications pushes the change summary to every registered dashboard.
func (wp *WorkerPool) sendNotifications(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching push subscriptions: %v", err)
		wp.retry(job)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(notifyPayload{
		BookingID: job.BookingID,
		RefCode:   job.RefCode,
		Status:    job.Status,
		Reason:    job.Reason,
	})
	if err != nil {
		log.Printf("Error marshalling notification payload for booking %s: %v", job.BookingID, err)
		return
	}

	log.Printf("Sending %d notifications for booking %s (%s)", len(subscriptions), job.RefCode, job.Status)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}

// cleanupEvidence deletes invalidated evidence, re-enqueueing on failure up
// to the attempt budget.
func (wp *WorkerPool) cleanupEvidence(job Job) {
	if err := wp.evidence.Delete(job.EvidenceRef); err != nil {
		log.Printf("Evidence cleanup failed for %q (attempt %d): %v", job.EvidenceRef, job.Attempts+1, err)
		wp.retry(job)
		return
	}
}

func (wp *WorkerPool) retry(job Job) {
	job.Attempts++
	if job.Attempts >= wp.maxAttempts {
		log.Printf("Giving up on %s job for booking %s after %d attempts", job.Kind, job.BookingID, job.Attempts)
		return
	}
	wp.dispatch(job)
}
