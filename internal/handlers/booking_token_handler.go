package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingTokenAPI is the booking link workflow
type BookingTokenAPI interface {
	IssueToken(ctx context.Context, companyID, actorID uuid.UUID, req *models.IssueBookingTokenRequest) (*models.BookingToken, error)
	GetToken(ctx context.Context, value string) (*models.BookingToken, error)
	ExchangeToken(ctx context.Context, value string, req *models.ExchangeBookingTokenRequest) (*models.Booking, error)
}

// BookingTokenHandler handles booking link HTTP requests
type BookingTokenHandler struct {
	tokens BookingTokenAPI
	logger *logrus.Logger
}

// NewBookingTokenHandler creates a new booking token handler
func NewBookingTokenHandler(tokens BookingTokenAPI, logger *logrus.Logger) *BookingTokenHandler {
	return &BookingTokenHandler{tokens: tokens, logger: logger}
}

// IssueToken handles POST /api/v1/booking-tokens (staff)
func (h *BookingTokenHandler) IssueToken(c *gin.Context) {
	staff, ok := staffFrom(c)
	if !ok {
		return
	}

	var req models.IssueBookingTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	token, err := h.tokens.IssueToken(c.Request.Context(), staff.CompanyID, staff.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"token_id":   token.ID,
		"company_id": staff.CompanyID,
		"issued_by":  staff.UserID,
	}).Info("Booking link issued")

	c.JSON(http.StatusCreated, gin.H{
		"token":      token.ToView(),
		"expires_at": token.ExpiresAt,
	})
}

// GetToken handles GET /api/v1/booking-tokens/:token
func (h *BookingTokenHandler) GetToken(c *gin.Context) {
	token, err := h.tokens.GetToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, token.ToView())
}

// ExchangeToken handles POST /api/v1/booking-tokens/:token/exchange.
// The customer pays and the booking is created in one call.
func (h *BookingTokenHandler) ExchangeToken(c *gin.Context) {
	var req models.ExchangeBookingTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.tokens.ExchangeToken(c.Request.Context(), c.Param("token"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"booking": booking,
		"message": "Booking confirmed",
	})
}
