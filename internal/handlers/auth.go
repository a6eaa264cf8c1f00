package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/middleware"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/security"
	"github.com/Mgtsampayan/rbac/internal/service"
)

var errMalformedBody = common.NewValidationError("", "malformed request body")

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type authResponse struct {
	User      models.PublicAccount `json:"user"`
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expiresAt"`
	Redirect  string               `json:"redirect"`
}

func (h HandlerSet) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.Role(req.Role),
	})
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	session, err := h.accounts.IssueSession(account)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	if !h.setSessionCookie(c, session.Token) {
		return
	}
	c.JSON(http.StatusCreated, newAuthResponse(session))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password" binding:"required"`
}

func (r loginRequest) identifier() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, common.NewValidationError("password", "is required"))
		return
	}

	session, err := h.accounts.Login(c.Request.Context(), req.identifier(), req.Password)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	if !h.setSessionCookie(c, session.Token) {
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(session))
}

func (h HandlerSet) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     security.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteStrictMode,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h HandlerSet) Me(c *gin.Context) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.WriteError(c, common.ErrInvalidToken)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": account.Public(),
	})
}

func (h HandlerSet) UpdateProfile(c *gin.Context) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.WriteError(c, common.ErrInvalidToken)
		return
	}

	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	patch, err := service.DecodeProfilePatch(raw)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	updated, err := h.accounts.UpdateProfile(c.Request.Context(), account.ID, patch)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": updated,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.WriteError(c, common.ErrInvalidToken)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	if err := h.accounts.ChangeSecret(c.Request.Context(), account.ID, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) setSessionCookie(c *gin.Context, token string) bool {
	value, err := h.cookies.Encode(token)
	if err != nil {
		middleware.WriteError(c, err)
		return false
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     security.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteStrictMode,
	})
	return true
}

func (h HandlerSet) secureCookies() bool {
	return h.cfg.Security.SecureCookies || h.cfg.IsProduction()
}

func newAuthResponse(session service.LoginResult) authResponse {
	return authResponse{
		User:      session.Account,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Redirect:  session.Redirect,
	}
}
