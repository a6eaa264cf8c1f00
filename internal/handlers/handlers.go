package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Mgtsampayan/rbac/internal/authz"
	"github.com/Mgtsampayan/rbac/internal/config"
	"github.com/Mgtsampayan/rbac/internal/middleware"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/ratelimit"
	"github.com/Mgtsampayan/rbac/internal/security"
	"github.com/Mgtsampayan/rbac/internal/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Accounts      *service.AccountService
	Gate          *authz.Gate
	Cookies       *security.CookieCodec
	TokenTTL      time.Duration
	LoginLimiter  ratelimit.Limiter
	GlobalLimiter ratelimit.Limiter
	DB            Pinger
	Cache         *redis.Client
}

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	accounts      *service.AccountService
	gate          *authz.Gate
	cookies       *security.CookieCodec
	tokenTTL      time.Duration
	loginLimiter  ratelimit.Limiter
	globalLimiter ratelimit.Limiter
	db            Pinger
	cache         *redis.Client
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Deps) HandlerSet {
	return HandlerSet{
		log:           log,
		cfg:           cfg,
		accounts:      deps.Accounts,
		gate:          deps.Gate,
		cookies:       deps.Cookies,
		tokenTTL:      deps.TokenTTL,
		loginLimiter:  deps.LoginLimiter,
		globalLimiter: deps.GlobalLimiter,
		db:            deps.DB,
		cache:         deps.Cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	if h.globalLimiter != nil {
		router.Use(middleware.RateLimit(h.globalLimiter, h.log))
	}

	router.GET("/healthz", h.Health)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.RegisterAccount)
		if h.loginLimiter != nil {
			auth.POST("/login", middleware.RateLimit(h.loginLimiter, h.log), h.Login)
		} else {
			auth.POST("/login", h.Login)
		}
		auth.POST("/logout", h.Logout)

		protected := auth.Group("")
		protected.Use(middleware.Auth(h.gate, h.cookies))
		protected.GET("/me", h.Me)
		protected.PUT("/profile", h.UpdateProfile)
		protected.PUT("/password", h.ChangePassword)

		admin := auth.Group("")
		admin.Use(
			middleware.Auth(h.gate, h.cookies),
			middleware.RequireRoles(models.RoleAdmin),
		)
		admin.GET("/users", h.AdminListUsers)
		admin.GET("/admin/users/:id", h.AdminGetUser)
		admin.POST("/admin/users", h.AdminCreateUser)
		admin.PUT("/admin/users/:id/role", h.AdminAssignRole)
		admin.PUT("/admin/users/:id/permissions", h.AdminSetPermissions)
		admin.PUT("/admin/users/:id/status", h.AdminSetStatus)
		admin.POST("/admin/users/:id/unlock", h.AdminUnlock)
	}
}
