package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Mgtsampayan/rbac/internal/authz"
	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/security"
)

const (
	currentAccountKey = "current_account"
	tokenClaimsKey    = "token_claims"
)

// Auth resolves the session token from the Authorization header or the
// session cookie and loads the account behind it.
func Auth(gate *authz.Gate, cookies *security.CookieCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c.Request)
		if tokenStr == "" {
			if raw, err := c.Cookie(security.CookieName); err == nil && raw != "" {
				decoded, err := cookies.Decode(raw)
				if err != nil {
					WriteError(c, common.ErrInvalidToken)
					return
				}
				tokenStr = decoded
			}
		}
		if tokenStr == "" {
			WriteError(c, common.ErrInvalidToken)
			return
		}

		account, claims, err := gate.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			WriteError(c, err)
			return
		}

		c.Set(tokenClaimsKey, *claims)
		c.Set(currentAccountKey, account)

		c.Next()
	}
}

func CurrentAccount(c *gin.Context) (models.Account, bool) {
	v, ok := c.Get(currentAccountKey)
	if !ok {
		return models.Account{}, false
	}
	account, ok := v.(models.Account)
	return account, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
