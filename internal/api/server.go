// Package api is the HTTP control surface over the import service.
package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sidepull/sidepull/internal/importer"
)

// Config represents API server configuration
type Config struct {
	Prefix string // API path prefix (default: "/api")
}

// DefaultConfig returns default API configuration
func DefaultConfig() *Config {
	return &Config{
		Prefix: "/api",
	}
}

// Server registers the import control routes on a Fiber app.
type Server struct {
	config    *Config
	importSvc *importer.Service
	logger    *slog.Logger
	startTime time.Time
}

// NewServer creates a new API server
func NewServer(config *Config, importSvc *importer.Service) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	return &Server{
		config:    config,
		importSvc: importSvc,
		logger:    slog.Default().With("component", "api"),
		startTime: time.Now(),
	}
}

// SetupRoutes registers all API routes on the provided Fiber app.
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group(s.config.Prefix)

	imports := api.Group("/import")
	imports.Get("/", s.handleListKinds)
	imports.Post("/:kind/start", s.handleStartImport)
	imports.Post("/:kind/stop", s.handleStopImport)
	imports.Post("/:kind/reset", s.handleResetImport)
	imports.Get("/:kind/status", s.handleImportStatus)
	imports.Get("/:kind/stats", s.handleImportStats)

	system := api.Group("/system")
	system.Get("/health", s.handleHealth)
}
