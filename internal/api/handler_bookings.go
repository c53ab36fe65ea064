package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"booking-admin-backend/internal/model"
	"booking-admin-backend/internal/service"
	"booking-admin-backend/internal/store"
)

// ListBookings handles GET /api/bookings. It doubles as the polling fallback
// for dashboards whose event stream is down.
func (h *Handler) ListBookings(c *gin.Context) {
	var f store.ListFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := model.Status(strings.TrimSpace(s))
			if !st.Valid() {
				fail(c, &service.Error{Code: service.CodeValidation, Message: "unknown status " + string(st)})
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if from := c.Query("from"); from != "" {
		f.FromDate = &from
	}
	if to := c.Query("to"); to != "" {
		f.ToDate = &to
	}

	bookings, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// CreateBooking handles POST /api/bookings.
func (h *Handler) CreateBooking(c *gin.Context) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, &service.Error{Code: service.CodeValidation, Message: err.Error()})
		return
	}
	in.CreatedBy = actor(c)

	res, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetBooking handles GET /api/bookings/:id.
func (h *Handler) GetBooking(c *gin.Context) {
	d, err := h.svc.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// patchBookingRequest is the single PATCH body. Exactly one concern is
// applied per request, picked in priority order: status change, then
// schedule, then fee, then notes.
type patchBookingRequest struct {
	TargetStatus      *model.Status          `json:"target_status"`
	Reason            string                 `json:"reason"`
	Notes             *string                `json:"notes"`
	NewSchedule       *service.ScheduleInput `json:"new_schedule"`
	DepositVerifiedBy *string                `json:"deposit_verified_by"`
	Fee               *service.FeeInput      `json:"fee"`
}

// PatchBooking handles PATCH /api/bookings/:id.
func (h *Handler) PatchBooking(c *gin.Context) {
	var req patchBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, &service.Error{Code: service.CodeValidation, Message: err.Error()})
		return
	}

	id := c.Param("id")
	by := actor(c)
	ctx := c.Request.Context()

	var (
		res *service.Result
		err error
	)
	switch {
	case req.TargetStatus != nil:
		res, err = h.svc.ChangeStatus(ctx, id, service.ChangeStatusInput{
			Target:            *req.TargetStatus,
			Reason:            req.Reason,
			Notes:             req.Notes,
			DepositVerifiedBy: req.DepositVerifiedBy,
			ChangedBy:         by,
		})
	case req.NewSchedule != nil:
		res, err = h.svc.ChangeSchedule(ctx, id, *req.NewSchedule, by)
	case req.Fee != nil:
		res, err = h.svc.UpdateFee(ctx, id, *req.Fee, by)
	case req.Notes != nil:
		res, err = h.svc.UpdateNotes(ctx, id, *req.Notes, by)
	default:
		fail(c, &service.Error{Code: service.CodeValidation, Message: "request changes nothing"})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteBooking handles DELETE /api/bookings/:id.
func (h *Handler) DeleteBooking(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type evidenceRequest struct {
	Ref string `json:"ref" binding:"required"`
}

// PostEvidence handles POST /api/bookings/:id/evidence. The binary upload
// lives elsewhere; only the opaque storage reference is recorded here.
func (h *Handler) PostEvidence(c *gin.Context) {
	var req evidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, &service.Error{Code: service.CodeValidation, Message: err.Error()})
		return
	}

	res, err := h.svc.RecordEvidence(c.Request.Context(), c.Param("id"), req.Ref, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
