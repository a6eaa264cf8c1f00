package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Mgtsampayan/rbac/internal/authz"
	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return require(authz.Requirement{Roles: roles})
}

func RequirePermissions(perms ...string) gin.HandlerFunc {
	return require(authz.Requirement{Permissions: perms})
}

func require(req authz.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := CurrentAccount(c)
		if !ok {
			WriteError(c, common.ErrInvalidToken)
			return
		}

		if err := authz.Authorize(account, req); err != nil {
			WriteError(c, err)
			return
		}

		c.Next()
	}
}
