package app

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/validate"
	"github.com/hms/hms/internal/platform/websocket"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	// DevAuth replaces bearer tokens with a fixed admin user.
	DevAuth        bool
	JWT            auth.JWTConfig
	CORSOrigins    []string
	RateLimit      middleware.RateLimitConfig
	RequestTimeout time.Duration
	// Health is mounted at /health outside authentication when set.
	Health echo.HandlerFunc
}

// NewServer builds the echo instance with the global middleware chain and
// every /api/v1 route.
func (a *App) NewServer(cfg ServerConfig, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		}))
	}

	if cfg.Health != nil {
		e.GET("/health", cfg.Health)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	authMW := auth.JWTMiddleware(cfg.JWT)
	if cfg.DevAuth {
		logger.Warn().Msg("development auth enabled: every request acts as admin")
		authMW = auth.DevAuthMiddleware()
	}

	rl := cfg.RateLimit
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1",
		authMW,
		middleware.RateLimit(rl),
		middleware.Audit(logger, a.AuditRecorder()),
		middleware.RequestTimeout(timeout),
	)
	a.RegisterRoutes(api)
	websocket.NewHandler(a.Live, cfg.CORSOrigins).RegisterRoutes(api)
	return e
}
