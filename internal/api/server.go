package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/javi11/nzbinspect/internal/archive"
	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/nzb"
	"github.com/javi11/nzbinspect/internal/pool"
)

// Config represents API server configuration
type Config struct {
	Prefix string // API path prefix (default: "/api")
	// BodyLimit caps uploaded NZB documents in bytes.
	BodyLimit int
}

// DefaultConfig returns default API configuration
func DefaultConfig() *Config {
	return &Config{
		Prefix:    "/api",
		BodyLimit: 16 << 20,
	}
}

// Inspector classifies a parsed NZB. *inspector.Inspector implements it.
type Inspector interface {
	InspectManifest(ctx context.Context, m *nzb.Manifest, password string) (archive.Verdict, error)
}

// ConfigManager interface defines methods for configuration management
type ConfigManager interface {
	GetConfig() *config.Config
	ReloadConfig() error
}

// Server represents the API server
type Server struct {
	config        *Config
	inspector     Inspector
	poolManager   pool.Manager
	configManager ConfigManager
	logger        *slog.Logger
	startTime     time.Time
}

// NewServer creates a new API server
func NewServer(cfg *Config, inspector Inspector, poolManager pool.Manager, configManager ConfigManager) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/api"
	}

	return &Server{
		config:        cfg,
		inspector:     inspector,
		poolManager:   poolManager,
		configManager: configManager,
		logger:        slog.Default().With("component", "api"),
		startTime:     time.Now(),
	}
}

// NewApp creates a Fiber application with the server routes mounted.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "nzbinspect",
		BodyLimit:             s.config.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			s.logger.ErrorContext(c.UserContext(), "Fiber error", "path", c.Path(), "method", c.Method(), "error", err)
			return RespondError(c, code, ErrCodeInternalServer, err.Error(), "")
		},
	})

	s.SetupRoutes(app)
	return app
}

// SetupRoutes configures all API routes on app
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group(s.config.Prefix,
		RequestContextMiddleware(),
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
	)

	api.Post("/inspect", s.handleInspect)
	api.Get("/pool/metrics", s.handleGetPoolMetrics)
	api.Get("/health", s.handleGetHealth)

	if s.configManager != nil {
		api.Get("/config", s.handleGetConfig)
		api.Post("/config/reload", s.handleReloadConfig)
	}
}
