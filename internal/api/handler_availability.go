package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"booking-admin-backend/internal/overlap"
	"booking-admin-backend/internal/service"
)

// GetAvailability handles GET /api/availability: a dry-run overlap query for
// a candidate time range, used by the intake form before anything is saved.
// Query: start_date (required), end_date, start_time, end_time, exclude.
func (h *Handler) GetAvailability(c *gin.Context) {
	cand := overlap.Candidate{StartDate: c.Query("start_date")}
	if cand.StartDate == "" {
		fail(c, &service.Error{Code: service.CodeValidation, Message: "start_date is required"})
		return
	}
	if v := c.Query("end_date"); v != "" {
		cand.EndDate = &v
	}
	if v := c.Query("start_time"); v != "" {
		cand.StartTime = &v
	}
	if v := c.Query("end_time"); v != "" {
		cand.EndTime = &v
	}

	overlaps, err := h.checker.FindOverlaps(c.Request.Context(), c.Query("exclude"), cand)
	if err != nil {
		fail(c, &service.Error{Code: service.CodeValidation, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"available": !overlap.HasBlocking(overlaps),
		"overlaps":  overlaps,
	})
}
