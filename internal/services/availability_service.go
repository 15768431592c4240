package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// AvailabilityService decides whether a vehicle is free for a date range.
// The final guard is the locked insert in the booking repository; this
// service answers pre-checks and picks a unit when booking by model.
type AvailabilityService struct {
	bookings BookingStore
	catalog  CatalogSource
	logger   *logrus.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(bookings BookingStore, catalog CatalogSource, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{
		bookings: bookings,
		catalog:  catalog,
		logger:   logger,
	}
}

// IsAvailable reports whether the vehicle has no blocking booking overlapping
// [pickup day, return day + 1). excludeID skips the booking being edited.
func (s *AvailabilityService) IsAvailable(ctx context.Context, vehicleID uuid.UUID, pickup, ret time.Time, excludeID *uuid.UUID) (bool, error) {
	if err := ValidateRentalDates(pickup, ret); err != nil {
		return false, err
	}

	start, end := models.RentalWindow(pickup, ret)
	conflict, err := s.bookings.HasConflict(ctx, vehicleID, start, end, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return !conflict, nil
}

// IsModelAvailable reports whether any active vehicle of the model is free
func (s *AvailabilityService) IsModelAvailable(ctx context.Context, modelID uuid.UUID, pickup, ret time.Time) (bool, error) {
	_, err := s.SelectVehicleForModel(ctx, modelID, pickup, ret)
	if err == nil {
		return true, nil
	}
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return false, nil
	}
	return false, err
}

// SelectVehicleForModel returns the first active vehicle of the model with no
// conflicting booking, or a ConflictError naming the model and range.
func (s *AvailabilityService) SelectVehicleForModel(ctx context.Context, modelID uuid.UUID, pickup, ret time.Time) (*models.Vehicle, error) {
	if err := ValidateRentalDates(pickup, ret); err != nil {
		return nil, err
	}

	model, err := s.catalog.GetVehicleModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle model: %w", err)
	}
	if model == nil {
		return nil, &models.NotFoundError{Resource: "vehicle model", ID: modelID.String()}
	}

	vehicles, err := s.catalog.ListActiveVehiclesByModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles for model: %w", err)
	}

	start, end := models.RentalWindow(pickup, ret)
	for _, v := range vehicles {
		conflict, err := s.bookings.HasConflict(ctx, v.ID, start, end, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check availability: %w", err)
		}
		if !conflict {
			s.logger.WithFields(logrus.Fields{
				"model_id":   modelID,
				"vehicle_id": v.ID,
			}).Debug("Selected vehicle for model")
			return v, nil
		}
	}

	return nil, &models.ConflictError{
		Code: models.CodeVehicleUnavailable,
		Message: fmt.Sprintf("no vehicle available for these dates: %s from %s to %s",
			model.DisplayName(), pickup.Format(models.DateLayout), ret.Format(models.DateLayout)),
	}
}

// ValidateRentalDates rejects zero dates and returns before pickups
func ValidateRentalDates(pickup, ret time.Time) error {
	if pickup.IsZero() || ret.IsZero() {
		return models.NewValidationError(models.CodeInvalidDates, "pickup and return dates are required")
	}
	if models.TruncateToDay(ret).Before(models.TruncateToDay(pickup)) {
		return models.NewValidationError(models.CodeInvalidDates, "return date must not be before pickup date")
	}
	return nil
}

// ParseRentalDates parses YYYY-MM-DD pickup and return dates
func ParseRentalDates(pickup, ret string) (time.Time, time.Time, error) {
	p, err := time.Parse(models.DateLayout, pickup)
	if err != nil {
		return time.Time{}, time.Time{}, models.NewValidationError(models.CodeInvalidDates, "invalid pickup date %q, expected YYYY-MM-DD", pickup)
	}
	r, err := time.Parse(models.DateLayout, ret)
	if err != nil {
		return time.Time{}, time.Time{}, models.NewValidationError(models.CodeInvalidDates, "invalid return date %q, expected YYYY-MM-DD", ret)
	}
	if err := ValidateRentalDates(p, r); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return p, r, nil
}
