package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/dashboard/internal/errlog"
	"github.com/p-blackswan/dashboard/internal/health"
	"github.com/p-blackswan/dashboard/internal/metrics"
	"github.com/p-blackswan/dashboard/internal/requestid"
	"github.com/p-blackswan/dashboard/internal/widget"
	"github.com/p-blackswan/dashboard/pkg/tokenstore"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr  string
	RateLimit   RateLimitConfig
	CORSOrigins []string
	// TokenDefaultTTL applies to PUT /api/v1/tokens without a lifetime.
	TokenDefaultTTL time.Duration
}

// Deps are the components the server exposes.
type Deps struct {
	Dashboard *widget.Dashboard
	Tokens    *tokenstore.Store
	Errors    *errlog.Logger
	Checker   *health.Checker
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Server is the dashboard Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	limiter  *rateLimiter
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http_server").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	if cfg.TokenDefaultTTL <= 0 {
		cfg.TokenDefaultTTL = tokenstore.DefaultLifetime
	}

	s := &Server{
		app:      app,
		handlers: NewHandlers(deps, cfg.TokenDefaultTTL, logger),
		logger:   logger,
		config:   cfg,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, time.Now)
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(deps)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	if s.limiter != nil {
		s.app.Use(s.limiter.middleware())
	}

	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		reqLogger := requestid.Logger(c.UserContext(), s.logger)
		reqLogger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("http request")
		return err
	})
}

func (s *Server) setupRoutes(deps Deps) {
	h := s.handlers

	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	s.app.Get("/readyz", adaptor.HTTPHandlerFunc(deps.Checker.ReadinessHandler()))
	if deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	s.app.Get("/", h.Dashboard)
	s.app.Get("/widgets/:id", h.WidgetFragment)
	s.app.Post("/widgets/:id/retry", h.RetryWidget)
	s.app.Post("/widgets/:id/refresh", h.RefreshWidget)

	v1 := s.app.Group("/api/v1")
	v1.Get("/widgets", h.ListWidgets)
	v1.Get("/errors", h.ListErrors)
	v1.Delete("/errors", h.ClearErrors)
	v1.Put("/tokens/:service", h.PutToken)
	v1.Get("/tokens/:service", h.GetToken)
	v1.Delete("/tokens/:service", h.DeleteToken)
}

// Start serves until Shutdown. It also runs the rate limiter's cleanup
// until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    utils.StatusMessage(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
