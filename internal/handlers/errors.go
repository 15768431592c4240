package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/middleware"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// respondError translates service errors into HTTP responses
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validationErr *models.ValidationError
		notFoundErr   *models.NotFoundError
		conflictErr   *models.ConflictError
		expiredErr    *models.ExpiredError
		gatewayErr    *models.GatewayError
		configErr     *models.ConfigurationError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: validationErr.Message,
			Code:    validationErr.Code,
			Allowed: validationErr.Allowed,
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: notFoundErr.Error(),
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "conflict",
			Message: conflictErr.Message,
			Code:    conflictErr.Code,
		})
	case errors.As(err, &expiredErr):
		c.JSON(http.StatusGone, ErrorResponse{
			Error:   "expired",
			Message: expiredErr.Error(),
		})
	case errors.As(err, &gatewayErr):
		status := http.StatusBadGateway
		if gatewayErr.Declined {
			status = http.StatusPaymentRequired
		}
		logger.WithError(err).WithField("path", c.FullPath()).Warn("Payment gateway error")
		c.JSON(status, ErrorResponse{
			Error:   "payment_error",
			Message: gatewayErr.Message,
			Code:    gatewayErr.Code,
		})
	case errors.As(err, &configErr):
		logger.WithError(err).WithField("path", c.FullPath()).Error("Payment configuration error")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "payment_unavailable",
			Message: configErr.Message,
		})
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An unexpected error occurred",
		})
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: err.Error(),
		Code:    models.CodeInvalidRequest,
	})
}

// pathUUID parses a uuid path parameter, writing a 400 on failure
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + name + " format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// staffFrom returns the authenticated staff member, writing a 401 when absent
func staffFrom(c *gin.Context) (middleware.StaffContext, bool) {
	staff, ok := middleware.GetStaffContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Staff context not found",
		})
	}
	return staff, ok
}
