package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rentflow/rental-backend/internal/utils"
)

// RequestInfo puts the caller's IP and parsed User-Agent on the request
// context so payment audit entries can record them.
func RequestInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		userAgent := utils.GetUserAgent(c)
		info := utils.RequestInfo{
			IP:        utils.GetRealIP(c),
			UserAgent: userAgent,
			Device:    utils.ParseUserAgent(userAgent),
		}
		c.Request = c.Request.WithContext(utils.WithRequestInfo(c.Request.Context(), info))
		c.Next()
	}
}
