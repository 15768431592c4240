package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingAPI is the staff booking lifecycle
type BookingAPI interface {
	CreateBooking(ctx context.Context, companyID, actorID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, companyID, id uuid.UUID) (*models.Booking, error)
	UpdateDetails(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingRequest) (*models.Booking, error)
	DeleteBooking(ctx context.Context, companyID, id uuid.UUID) error
	UpdateStatus(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingStatusRequest) (*models.Booking, error)
}

// RefundAPI refunds booking payments and reports the money trail
type RefundAPI interface {
	RefundBooking(ctx context.Context, companyID, bookingID uuid.UUID, amount float64, reason string, actorID *uuid.UUID) (*models.RefundRecord, error)
	PaymentHistory(ctx context.Context, companyID, bookingID uuid.UUID) (*models.PaymentHistory, error)
}

// PaymentAuditReader lists the payment ledger of a booking
type PaymentAuditReader interface {
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
}

// BookingHandler handles staff booking HTTP requests
type BookingHandler struct {
	bookings BookingAPI
	refunds  RefundAPI
	audits   PaymentAuditReader
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingAPI, refunds RefundAPI, audits PaymentAuditReader, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		refunds:  refunds,
		audits:   audits,
		logger:   logger,
	}
}

// ============================================================================
// CRUD
// ============================================================================

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), staff.CompanyID, staff.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), staff.CompanyID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// UpdateBooking handles PUT /api/v1/bookings/:id
func (h *BookingHandler) UpdateBooking(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.UpdateDetails(c.Request.Context(), staff.CompanyID, id, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// DeleteBooking handles DELETE /api/v1/bookings/:id. Only bookings without
// payments can be deleted.
func (h *BookingHandler) DeleteBooking(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.bookings.DeleteBooking(c.Request.Context(), staff.CompanyID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"deleted_by": staff.UserID,
	}).Info("Booking deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Booking deleted"})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// UpdateStatus handles PATCH /api/v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.UpdateStatus(c.Request.Context(), staff.CompanyID, id, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// RefundBooking handles POST /api/v1/bookings/:id/refund
func (h *BookingHandler) RefundBooking(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.RefundBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	actor := staff.UserID
	record, err := h.refunds.RefundBooking(c.Request.Context(), staff.CompanyID, id, req.Amount, req.Reason, &actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// GetPaymentHistory handles GET /api/v1/bookings/:id/payments
func (h *BookingHandler) GetPaymentHistory(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	history, err := h.refunds.PaymentHistory(c.Request.Context(), staff.CompanyID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// ListPaymentAudits handles GET /api/v1/bookings/:id/payment-audits
func (h *BookingHandler) ListPaymentAudits(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	// scopes the ledger to the caller's company
	if _, err := h.bookings.GetBooking(c.Request.Context(), staff.CompanyID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	audits, err := h.audits.ListByBooking(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"total":  len(audits),
	})
}
