package api

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/realtime"
	"booking-admin-backend/internal/service"
	"booking-admin-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc         *service.Service
	checker     *overlap.Checker
	broadcaster *realtime.Broadcaster
	store       *store.Store
	webpush     *webpush.Options
	sync        realtime.ReconcilerConfig
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, checker *overlap.Checker, b *realtime.Broadcaster, s *store.Store, webpushOptions *webpush.Options, sync realtime.ReconcilerConfig) *Handler {
	return &Handler{
		svc:         svc,
		checker:     checker,
		broadcaster: b,
		store:       s,
		webpush:     webpushOptions,
		sync:        sync,
	}
}

// actor extracts the acting admin identity. Absence is tolerated; the
// service normalizes the empty string.
func actor(c *gin.Context) string {
	return c.GetHeader("X-Admin")
}

// httpStatus maps a structured error code to its HTTP status.
func httpStatus(code service.Code) int {
	switch code {
	case service.CodeValidation:
		return http.StatusBadRequest
	case service.CodeConflict, service.CodeOverlap:
		return http.StatusConflict
	case service.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the structured error body {code, message, data?}.
func fail(c *gin.Context, err error) {
	e := service.AsError(err)
	c.JSON(httpStatus(e.Code), e)
}
