package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Mgtsampayan/rbac/internal/authz"
	"github.com/Mgtsampayan/rbac/internal/cache"
	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/config"
	"github.com/Mgtsampayan/rbac/internal/database"
	"github.com/Mgtsampayan/rbac/internal/handlers"
	"github.com/Mgtsampayan/rbac/internal/jobs"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/log"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/ratelimit"
	"github.com/Mgtsampayan/rbac/internal/repository"
	"github.com/Mgtsampayan/rbac/internal/security"
	"github.com/Mgtsampayan/rbac/internal/server"
	"github.com/Mgtsampayan/rbac/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	accounts, closeStore, err := openAccountStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open account store")
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
	}
	loginLimiter, globalLimiter, pruners := newLimiters(cfg.RateLimit, redisClient)

	tokens, err := security.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTTTL, cfg.Security.JWTIssuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token manager")
	}

	policy := lockout.Policy{MaxAttempts: cfg.Lockout.MaxAttempts, Duration: cfg.Lockout.Duration}
	accountService := service.NewAccountService(
		accounts,
		security.NewPasswordHasher(),
		tokens,
		policy,
		logger.With().Str("component", "accounts").Logger(),
		service.WithHashConcurrency(cfg.Security.HashConcurrency),
	)

	if cfg.Bootstrap.Enabled() {
		if err := ensureAdmin(ctx, accountService, cfg.Bootstrap); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap admin")
		}
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Deps{
		Accounts:      accountService,
		Gate:          authz.NewGate(tokens, accounts, policy, time.Now),
		Cookies:       security.NewCookieCodec(cfg.Security.CookieSecret, cfg.Security.JWTTTL),
		TokenTTL:      tokens.TTL(),
		LoginLimiter:  loginLimiter,
		GlobalLimiter: globalLimiter,
		DB:            accounts,
		Cache:         redisClient,
	})
	httpServer, err := server.NewHTTPServer(cfg, logger, handlerSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(accountService, cfg.Lockout.SweepSchedule, logger, pruners...)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, closeStore, redisClient)
}

func openAccountStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (repository.AccountRepository, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db, "sqlite"); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLite.Path).Msg("sqlite account store ready")
		return repository.NewSQLiteAccountRepository(db), func() { db.Close() }, nil
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("postgres account store ready")
		return repository.NewPostgresAccountRepository(pool), pool.Close, nil
	}
}

func newLimiters(cfg config.RateLimitConfig, client *redis.Client) (login, global ratelimit.Limiter, pruners []jobs.Pruner) {
	if client != nil {
		return ratelimit.NewRedisLimiter(client, "login", cfg.LoginAttempts, cfg.LoginWindow),
			ratelimit.NewRedisLimiter(client, "api", cfg.GlobalLimit, cfg.GlobalWindow),
			nil
	}

	loginMem := ratelimit.NewMemoryLimiter(cfg.LoginAttempts, cfg.LoginWindow)
	globalMem := ratelimit.NewMemoryLimiter(cfg.GlobalLimit, cfg.GlobalWindow)
	return loginMem, globalMem, []jobs.Pruner{loginMem, globalMem}
}

func ensureAdmin(ctx context.Context, accounts *service.AccountService, cfg config.BootstrapConfig) error {
	_, err := accounts.CreateAccount(ctx, service.CreateAccountInput{
		RegisterInput: service.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
			Role:     models.RoleAdmin,
		},
	})
	if errors.Is(err, common.ErrDuplicateIdentity) {
		return nil
	}
	return err
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, closeStore func(), redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler stop timed out")
	}

	closeStore()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
