package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"

	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"

	minSecretLength = 32
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are honoured. Empty means the peer address is the client IP.
	TrustedProxies []string
}

type StorageConfig struct {
	Driver string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTSecret       string
	JWTTTL          time.Duration
	JWTIssuer       string
	CookieSecret    string
	SecureCookies   bool
	HashConcurrency int
}

type LockoutConfig struct {
	MaxAttempts   int
	Duration      time.Duration
	SweepSchedule string
}

type RateLimitConfig struct {
	Backend       string
	LoginAttempts int
	LoginWindow   time.Duration
	GlobalLimit   int
	GlobalWindow  time.Duration
}

// BootstrapConfig seeds the first administrator on startup when all
// three fields are set.
type BootstrapConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func (b BootstrapConfig) Enabled() bool {
	return b.AdminUsername != "" && b.AdminEmail != "" && b.AdminPassword != ""
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Storage          StorageConfig
	Postgres         PostgresConfig
	SQLite           SQLiteConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Lockout          LockoutConfig
	RateLimit        RateLimitConfig
	Bootstrap        BootstrapConfig
	AllowCORSOrigins []string
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

func Load() (*AppConfig, error) {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("RBAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Security.CookieSecret == "" {
		cfg.Security.CookieSecret = cfg.Security.JWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error

	if len(c.Security.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("security.jwtsecret must be at least %d bytes", minSecretLength))
	}
	if c.Security.JWTTTL <= 0 {
		errs = append(errs, errors.New("security.jwtttl must be positive"))
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres driver"))
		}
	case StorageDriverSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendRedis, RateLimitBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend))
	}

	if c.RateLimit.LoginAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.loginattempts and ratelimit.loginwindow must be positive"))
	}
	if c.RateLimit.GlobalLimit <= 0 || c.RateLimit.GlobalWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.globallimit and ratelimit.globalwindow must be positive"))
	}

	if c.Lockout.MaxAttempts <= 0 {
		errs = append(errs, errors.New("lockout.maxattempts must be positive"))
	}
	if c.Lockout.Duration <= 0 {
		errs = append(errs, errors.New("lockout.duration must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.trustedproxies", []string{})

	v.SetDefault("storage.driver", StorageDriverPostgres)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("sqlite.path", "rbac.db")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.jwtttl", "24h")
	v.SetDefault("security.jwtissuer", "rbac")
	v.SetDefault("security.cookiesecret", "")
	v.SetDefault("security.securecookies", false)
	v.SetDefault("security.hashconcurrency", 0) // 0 = GOMAXPROCS

	v.SetDefault("lockout.maxattempts", 5)
	v.SetDefault("lockout.duration", "15m")
	v.SetDefault("lockout.sweepschedule", "0 */5 * * * *")

	v.SetDefault("ratelimit.backend", RateLimitBackendMemory)
	v.SetDefault("ratelimit.loginattempts", 5)
	v.SetDefault("ratelimit.loginwindow", "15m")
	v.SetDefault("ratelimit.globallimit", 100)
	v.SetDefault("ratelimit.globalwindow", "15m")

	v.SetDefault("bootstrap.adminusername", "")
	v.SetDefault("bootstrap.adminemail", "")
	v.SetDefault("bootstrap.adminpassword", "")

	v.SetDefault("allowcorsorigins", []string{"http://localhost:3000"})
}
