// Package web is the browser-facing host. Each browser session, selected by
// a cookie, owns one client State; the JSON endpoints drive that State.
package web

import (
	"context"
	"log/slog"
	"time"

	"ikak/internal/config"
	"ikak/internal/middleware"
	"ikak/internal/models"
	"ikak/internal/observability"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCookie names the browser session cookie.
const SessionCookie = "ikak_sid"

const localSession = "session"

// Host serves the client API.
type Host struct {
	config         *config.Config
	registry       *Registry
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	stopJanitor    context.CancelFunc
}

// NewHost returns a host whose sessions talk to cfg.BackendURL. rdb may be
// nil, in which case session storage stays in process memory.
func NewHost(cfg *config.Config, rdb *redis.Client) *Host {
	h := NewHostWithFactory(cfg, NewSessionFactory(cfg, rdb))
	h.redis = rdb
	return h
}

// NewHostWithFactory returns a host building sessions with factory.
func NewHostWithFactory(cfg *config.Config, factory SessionFactory) *Host {
	return &Host{
		config:         cfg,
		registry:       NewRegistry(factory, cfg.SessionIdleTTL()),
		promMiddleware: middleware.InitMetrics("ikak"),
	}
}

// Registry exposes the live sessions.
func (h *Host) Registry() *Registry {
	return h.registry
}

// NewApp builds the Fiber app with middleware and routes installed.
func (h *Host) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "ikak",
		ErrorHandler: errorHandler,
	})
	h.SetupMiddleware(app)
	h.SetupRoutes(app)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		code := models.CodeInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			code = models.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed, fiber.StatusUnprocessableEntity:
			code = models.CodeValidation
		}
		return models.RespondWithError(c, fe.Code, &models.AppError{Code: code, Message: fe.Message})
	}
	observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (h *Host) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if h.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(h.promMiddleware))
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return h.config.Env == "test"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (h *Host) SetupRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	if h.promMiddleware != nil {
		h.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", h.sessionMiddleware)
	api.Get("/session", h.GetSession)
	api.Put("/page", h.SetPage)

	auth := api.Group("/auth")
	auth.Post("/login", h.Login)
	auth.Post("/register", h.Register)
	auth.Post("/activate", h.Activate)
	auth.Post("/logout", h.Logout)

	posts := api.Group("/posts")
	posts.Get("/", h.ListPosts)
	posts.Post("/", h.CreatePost)
	posts.Post("/refresh", h.RefreshPosts)
	posts.Delete("/:id", h.DeletePost)
	posts.Post("/:id/like", h.ToggleLike)
	posts.Post("/:id/comments", h.AddComment)

	api.Patch("/profile", h.UpdateProfile)
	api.Get("/settings", h.GetSettings)
	api.Patch("/settings", h.UpdateSettings)
}

// sessionMiddleware resolves the ikak_sid cookie to a Session, issuing a
// fresh cookie when it is missing or malformed.
func (h *Host) sessionMiddleware(c *fiber.Ctx) error {
	id := c.Cookies(SessionCookie)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HTTPOnly: true,
			Secure:   h.config.IsProduction(),
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	ctx := observability.WithSessionID(c.UserContext(), id)
	c.SetUserContext(ctx)

	sess, err := h.registry.Get(ctx, id)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	c.Locals(localSession, sess)
	return c.Next()
}

func session(c *fiber.Ctx) *Session {
	s, _ := c.Locals(localSession).(*Session)
	return s
}

// Health reports liveness and the number of held sessions.
func (h *Host) Health(c *fiber.Ctx) error {
	redisStatus := "unavailable"
	if h.redis != nil {
		redisStatus = "healthy"
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}
	return c.JSON(fiber.Map{
		"status":   "up",
		"sessions": h.registry.Len(),
		"redis":    redisStatus,
		"time":     time.Now(),
	})
}

// Start runs the idle-session janitor and listens on PORT.
func (h *Host) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	h.stopJanitor = cancel
	go h.registry.Run(ctx, time.Minute)

	h.app = h.NewApp()
	observability.GlobalLogger.Info("web host starting",
		slog.String("port", h.config.Port),
		slog.String("backend_url", h.config.BackendURL))
	return h.app.Listen(":" + h.config.Port)
}

// Shutdown stops the HTTP server, closes every session and Redis.
func (h *Host) Shutdown(ctx context.Context) error {
	log := observability.GlobalLogger
	if h.stopJanitor != nil {
		h.stopJanitor()
	}
	if h.app != nil {
		if err := h.app.ShutdownWithContext(ctx); err != nil {
			log.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}
	h.registry.Close()
	if h.redis != nil {
		if err := h.redis.Close(); err != nil {
			log.Error("error closing redis", slog.String("error", err.Error()))
		}
	}
	log.Info("web host shutdown complete")
	return nil
}
