package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// StaffContextKey is the key used to store staff information in Gin context
const StaffContextKey = "staff"

// StaffContext represents the authenticated staff member
type StaffContext struct {
	UserID    uuid.UUID `json:"user_id"`
	CompanyID uuid.UUID `json:"company_id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
}

// AuthMiddleware validates staff JWT tokens and scopes the request to the
// token's company
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.WithFields(fields).Warn("AUTH FAILED: missing authorization header")
			abortUnauthorized(c, "unauthorized", "Authorization header is required", "MISSING_AUTH_HEADER")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			logger.WithFields(fields).Warn("AUTH FAILED: invalid authorization format")
			abortUnauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			return
		}

		claims, err := jwtService.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			if jwt.IsExpiredError(err) {
				logger.WithFields(fields).Info("AUTH FAILED: token expired")
				abortUnauthorized(c, "token_expired", "Access token has expired", "TOKEN_EXPIRED")
				return
			}
			logger.WithFields(fields).WithError(err).Warn("AUTH FAILED: invalid token")
			abortUnauthorized(c, "invalid_token", "Invalid access token", "INVALID_TOKEN")
			return
		}

		c.Set(StaffContextKey, StaffContext{
			UserID:    claims.UserID,
			CompanyID: claims.CompanyID,
			Email:     claims.Email,
			Roles:     claims.Roles,
		})
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, errType, message, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   errType,
		"message": message,
		"code":    code,
	})
}

// RequireRole rejects staff that hold none of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		staff, exists := GetStaffContext(c)
		if !exists {
			abortUnauthorized(c, "unauthorized", "Staff context not found. Auth middleware may not be applied.", "MISSING_USER_CONTEXT")
			return
		}

		claims := jwt.Claims{Roles: staff.Roles}
		if !claims.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have permission to access this resource",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			return
		}

		c.Next()
	}
}

// GetStaffContext retrieves the staff context from Gin context
func GetStaffContext(c *gin.Context) (StaffContext, bool) {
	value, exists := c.Get(StaffContextKey)
	if !exists {
		return StaffContext{}, false
	}
	staff, ok := value.(StaffContext)
	return staff, ok
}
