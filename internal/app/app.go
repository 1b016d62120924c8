package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/internal/database"
	"github.com/temcen/giftwise/internal/handlers"
	"github.com/temcen/giftwise/internal/middleware"
	"github.com/temcen/giftwise/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	services, err := services.New(cfg, app.logger, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	app.handlers = handlers.New(app.logger, services)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Shutdown flushes background work before the stores it writes to are closed.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	done := make(chan struct{})
	go func() {
		a.services.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Timed out waiting for background work, closing stores anyway")
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)
	router.GET("/health/live", a.handlers.Health.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(a.services.Auth, a.logger))
	if a.config.RateLimit.Enabled {
		api.Use(middleware.RateLimit(a.services.RateLimiter, a.logger))
	}
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("/:sessionId/profile", a.handlers.Session.BuildProfile)
			sessions.GET("/:sessionId/profile", a.handlers.Session.GetProfile)
		}

		api.GET("/recommendations/:sessionId", a.handlers.Recommendation.Get)
		api.POST("/events", a.handlers.Event.Record)
	}

	a.router = router
}
