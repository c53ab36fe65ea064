package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"booking-admin-backend/internal/mw"
	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/service"
	"booking-admin-backend/internal/store"
)

// RouterOptions carries the middleware tuning knobs.
type RouterOptions struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
	Sync            realtime.ReconcilerConfig
}

// NewRouter creates and configures a new Gin router.
func NewRouter(svc *service.Service, checker *overlap.Checker, b *realtime.Broadcaster, s *store.Store, webpushOptions *webpush.Options, opts RouterOptions) *gin.Engine {
	r := gin.Default()

	sync := opts.Sync
	if sync.StaleTolerance == 0 && sync.EchoWindow == 0 && sync.PendingGrace == 0 {
		sync = realtime.DefaultReconcilerConfig()
	}
	handler := NewHandler(svc, checker, b, s, webpushOptions, sync)

	rateLimiter := mw.RateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst)

	// Only the availability dry-run is cached; every other read must reflect
	// the latest accepted mutation immediately.
	cacheStore := cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	caching := mw.Cache(cacheStore, opts.CacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/bookings", handler.ListBookings)
		api.POST("/bookings", handler.CreateBooking)
		api.GET("/bookings/:id", handler.GetBooking)
		api.PATCH("/bookings/:id", handler.PatchBooking)
		api.DELETE("/bookings/:id", handler.DeleteBooking)
		api.POST("/bookings/:id/evidence", handler.PostEvidence)

		api.GET("/events", handler.StreamEvents)
		api.GET("/availability", caching, handler.GetAvailability)

		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
