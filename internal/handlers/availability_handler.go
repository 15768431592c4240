package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// AvailabilityAPI answers availability pre-checks
type AvailabilityAPI interface {
	IsAvailable(ctx context.Context, vehicleID uuid.UUID, pickup, ret time.Time, excludeID *uuid.UUID) (bool, error)
	IsModelAvailable(ctx context.Context, modelID uuid.UUID, pickup, ret time.Time) (bool, error)
}

// AvailabilityHandler handles availability HTTP requests
type AvailabilityHandler struct {
	availability AvailabilityAPI
	logger       *logrus.Logger
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(availability AvailabilityAPI, logger *logrus.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, logger: logger}
}

// VehicleAvailability handles GET /api/v1/vehicles/:id/availability?pickup_date=&return_date=
func (h *AvailabilityHandler) VehicleAvailability(c *gin.Context) {
	h.check(c, func(ctx context.Context, id uuid.UUID, pickup, ret time.Time) (bool, error) {
		return h.availability.IsAvailable(ctx, id, pickup, ret, nil)
	})
}

// ModelAvailability handles GET /api/v1/vehicle-models/:id/availability
func (h *AvailabilityHandler) ModelAvailability(c *gin.Context) {
	h.check(c, h.availability.IsModelAvailable)
}

func (h *AvailabilityHandler) check(c *gin.Context, fn func(ctx context.Context, id uuid.UUID, pickup, ret time.Time) (bool, error)) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	pickup, ret, err := services.ParseRentalDates(c.Query("pickup_date"), c.Query("return_date"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	available, err := fn(c.Request.Context(), id, pickup, ret)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          id,
		"pickup_date": c.Query("pickup_date"),
		"return_date": c.Query("return_date"),
		"available":   available,
	})
}
