package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mgtsampayan/rbac/internal/common"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError maps a service error to its HTTP status and aborts the
// chain. Credential errors get fixed messages.
func WriteError(c *gin.Context, err error) {
	var (
		verr   *common.ValidationError
		locked *common.LockedError
	)

	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "validation_error", Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, common.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "validation_error", Message: "Invalid request"})
	case errors.Is(err, common.ErrDuplicateIdentity):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "duplicate_identity", Message: "Username or email already registered"})
	case errors.Is(err, common.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid_credentials", Message: "Invalid credentials"})
	case errors.Is(err, common.ErrInvalidToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid_token", Message: "Authentication required"})
	case errors.As(err, &locked):
		SetRetryAfter(c, locked.RetryAfter)
		c.AbortWithStatusJSON(http.StatusLocked, errorResponse{Error: "account_locked", Message: "Account is temporarily locked. Try again later"})
	case errors.Is(err, common.ErrAccountLocked):
		c.AbortWithStatusJSON(http.StatusLocked, errorResponse{Error: "account_locked", Message: "Account is temporarily locked. Try again later"})
	case errors.Is(err, common.ErrAccountInactive):
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "account_inactive", Message: "Account is not active"})
	case errors.Is(err, common.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden", Message: "Forbidden"})
	case errors.Is(err, common.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "Not found"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal_server_error", Message: "Internal server error"})
	}
}

// SetRetryAfter writes a Retry-After header of at least one second.
func SetRetryAfter(c *gin.Context, d time.Duration) {
	seconds := int(math.Ceil(d.Seconds()))
	c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
}
