package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Mgtsampayan/rbac/internal/ratelimit"
)

// RateLimit keys requests by client IP. Limiter failures let the request
// through.
func RateLimit(limiter ratelimit.Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		if !decision.Allowed {
			SetRetryAfter(c, decision.RetryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error:   "too_many_requests",
				Message: "Too many requests, please try again later",
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}
