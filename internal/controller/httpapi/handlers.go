package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

// GET /v1/services
func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.bookings.ListServices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

// GET /v1/services/:id/slots?date=YYYY-MM-DD
func (h *Handler) GetSlots(c *gin.Context) {
	cal := h.bookings.Calendar()
	if cal == nil {
		h.fail(c, model.ErrUnconfiguredCalendar)
		return
	}

	raw := c.Query("date")
	if raw == "" {
		badRequest(c, "date", "is required")
		return
	}
	date, err := clock.ParseDate(raw, cal.Location)
	if err != nil {
		badRequest(c, "date", "must be YYYY-MM-DD")
		return
	}

	slots, err := h.bookings.GetAvailableSlots(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service_id": c.Param("id"),
		"date":       raw,
		"slots":      slots,
	})
}

type createBookingRequest struct {
	ServiceID   string       `json:"service_id" binding:"required"`
	Signer      model.Signer `json:"signer"`
	Location    string       `json:"location"`
	ScheduledAt *time.Time   `json:"scheduled_at"` // RFC3339, желаемое время
}

// POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var in createBookingRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "body", err.Error())
		return
	}

	req := service.BookingRequest{
		ServiceID: in.ServiceID,
		Signer:    in.Signer,
		Location:  in.Location,
	}
	if in.ScheduledAt != nil {
		req.ScheduledAt = *in.ScheduledAt
	}

	b, err := h.bookings.CreateBooking(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.bookings.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type confirmRequest struct {
	SlotStart time.Time `json:"slot_start" binding:"required"` // RFC3339
}

// POST /v1/bookings/:id/confirm
func (h *Handler) ConfirmBooking(c *gin.Context) {
	var in confirmRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "slot_start", "must be an RFC3339 timestamp")
		return
	}

	b, err := h.bookings.ConfirmBooking(c.Request.Context(), c.Param("id"), in.SlotStart)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// POST /v1/bookings/:id/transition
func (h *Handler) TransitionBooking(c *gin.Context) {
	var in transitionRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "status", "is required")
		return
	}
	to, ok := model.ParseBookingStatus(in.Status)
	if !ok {
		badRequest(c, "status", "unknown status "+strconv.Quote(in.Status))
		return
	}

	b, err := h.bookings.TransitionBooking(c.Request.Context(), c.Param("id"), to, actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GET /v1/bookings?status=confirmed&limit=50 (staff)
func (h *Handler) ListBookings(c *gin.Context) {
	status, ok := model.ParseBookingStatus(c.DefaultQuery("status", string(model.BookingStatusConfirmed)))
	if !ok {
		badRequest(c, "status", "unknown status")
		return
	}

	bookings, err := h.bookings.ListBookings(c.Request.Context(), status, limitFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// POST /v1/bookings/:id/requeue (staff)
func (h *Handler) RequeueFulfillment(c *gin.Context) {
	b, err := h.bookings.RequeueFulfillment(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, b)
}

// GET /v1/fulfillments/failed (staff)
func (h *Handler) ListFailedFulfillments(c *gin.Context) {
	bookings, err := h.bookings.ListFailedFulfillments(c.Request.Context(), limitFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func limitFrom(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
