package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rentflow/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody caps event payloads at 1 MiB
const maxWebhookBody int64 = 1 << 20

// WebhookAPI reconciles verified gateway events
type WebhookAPI interface {
	HandleEvent(ctx context.Context, evt *services.GatewayEvent) services.WebhookOutcome
}

// WebhookHandler receives payment gateway webhooks
type WebhookHandler struct {
	reconciler WebhookAPI
	secret     string
	logger     *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconciler WebhookAPI, secret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret, logger: logger}
}

// HandleStripeWebhook handles POST /api/v1/payments/webhook.
// Anything that passes signature verification is acknowledged with 200,
// whatever the processing outcome, so the gateway does not retry.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WithField("limit", tooLarge.Limit).Warn("Rejected oversized webhook body")
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload_too_large", Message: "Request body too large"})
			return
		}
		h.logger.WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Failed to read request body"})
		return
	}

	evt, err := services.ParseStripeEvent(payload, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_signature", Message: "Invalid signature"})
		return
	}

	outcome := h.reconciler.HandleEvent(c.Request.Context(), evt)
	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  outcome,
	})
}
