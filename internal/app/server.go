package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/handlers"
	"github.com/hourse/backend/internal/metrics"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/realtime"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/internal/storage"
	"github.com/hourse/backend/pkg/logger"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Server owns the REST app and the realtime listener.
type Server struct {
	cfg *config.Config

	App      *fiber.App
	Hub      *realtime.Hub
	Gateway  *realtime.Gateway
	Realtime *http.Server
}

// NewServer wires services, handlers and both listeners. The hub is not
// started until Start is called.
func NewServer(cfg *config.Config, db *gorm.DB, backend storage.Backend, brandingFs afero.Fs, limiter realtime.Limiter) *Server {
	media := services.NewMediaService(cfg.Media)
	access := services.NewAccessService(db)
	store := services.NewSettingsStore(db)
	chat := services.NewChatService(db, access, cfg.Realtime.SendAttempts, cfg.Realtime.RetryDelays)
	families := services.NewFamilyService(db, access)

	h := &handlers.Handlers{
		Files:    handlers.NewFilesHandler(services.NewFileService(db, backend, media, access)),
		Settings: handlers.NewSettingsHandler(services.NewBrandingService(store, brandingFs, cfg.Branding.FallbackPath, backend, media), services.NewIntegrationsService(store)),
		Families: handlers.NewFamiliesHandler(families),
		Chat:     handlers.NewChatHandler(chat),
		Users:    handlers.NewUsersHandler(db),
	}
	auth := middleware.NewAuthMiddleware(db)

	bodyLimit := cfg.Server.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 100
	}

	app := fiber.New(fiber.Config{BodyLimit: bodyLimit * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(metrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	if local, ok := backend.(*storage.LocalBackend); ok {
		app.Use("/uploads", filesystem.New(filesystem.Config{
			Root:   afero.NewHttpFs(local.Fs()),
			MaxAge: 3600,
		}))
	}

	handlers.RegisterRoutes(app.Group("/api"), h, auth)

	hub := realtime.NewHub()
	gateway := realtime.NewGateway(hub, chat, auth, limiter, cfg.Realtime)
	families.Observe(gateway)

	return &Server{
		cfg:     cfg,
		App:     app,
		Hub:     hub,
		Gateway: gateway,
		Realtime: &http.Server{
			Addr:              cfg.Realtime.Addr,
			Handler:           gateway.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start runs the hub and both listeners. The first listener failure is sent
// on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 2)

	go s.Hub.Run()

	listenAddr := fmt.Sprintf(":%s", s.cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"address":          listenAddr,
		"realtime_address": s.Realtime.Addr,
		"body_limit_mb":    s.cfg.Server.BodyLimitMB,
	})

	go func() {
		if err := s.App.Listen(listenAddr); err != nil {
			errCh <- errors.Wrap(err, "http listener stopped")
		}
	}()
	go func() {
		if err := s.Realtime.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "realtime listener stopped")
		}
	}()

	return errCh
}

// Shutdown stops accepting connections, closes every realtime client and
// releases the limiter. It gives up once ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(s.Realtime.Shutdown(ctx))

	timeout := shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	keep(s.Hub.Shutdown(timeout))
	keep(s.App.ShutdownWithContext(ctx))
	keep(s.Gateway.Close())

	return firstErr
}

// newLimiter prefers the shared redis limiter and falls back to process
// memory when redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg *config.Config) realtime.Limiter {
	rt := cfg.Realtime
	if cfg.Redis.Enabled() {
		limiter, err := realtime.NewRedisLimiterFromURL(ctx, cfg.Redis.URL, rt.RateBurst, rt.RateInterval)
		if err == nil {
			return limiter
		}
		logger.Warn("realtime_limiter_fallback", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return realtime.NewMemoryLimiter(rt.RateBurst, rt.RateInterval)
}
