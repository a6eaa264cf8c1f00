package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Mgtsampayan/rbac/internal/middleware"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/service"
)

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	limit := service.DefaultListLimit
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= service.MaxListLimit {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	users, err := h.accounts.List(c.Request.Context(), limit, offset)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
	})
}

func (h HandlerSet) AdminGetUser(c *gin.Context) {
	user, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type createUserRequest struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h HandlerSet) AdminCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	user, err := h.accounts.CreateAccount(c.Request.Context(), service.CreateAccountInput{
		RegisterInput: service.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
			Role:     models.Role(req.Role),
		},
		Permissions: req.Permissions,
	})
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h HandlerSet) AdminAssignRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	user, err := h.accounts.AssignRole(c.Request.Context(), c.Param("id"), models.Role(req.Role))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h HandlerSet) AdminSetPermissions(c *gin.Context) {
	var req permissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	user, err := h.accounts.SetPermissions(c.Request.Context(), c.Param("id"), req.Permissions)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h HandlerSet) AdminSetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, errMalformedBody)
		return
	}

	user, err := h.accounts.SetStatus(c.Request.Context(), c.Param("id"), models.AccountStatus(req.Status))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h HandlerSet) AdminUnlock(c *gin.Context) {
	user, err := h.accounts.Unlock(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
