package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidepull/sidepull/internal/api"
	"github.com/sidepull/sidepull/internal/config"
	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/importer"
	"github.com/sidepull/sidepull/internal/slogutil"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sidepull import server",
		Long:  `Start the HTTP control API and the background import scheduler using configuration from YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.Setup(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("Starting Sidepull server",
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level,
		"sources", len(cfg.Sources),
		"tick_interval_s", cfg.Import.TickIntervalSeconds)

	if err := cfg.EnsureDirs(); err != nil {
		logger.Error("failed to prepare directories", "err", err)
		return err
	}

	db, err := database.NewDB(database.Config{DatabasePath: cfg.Database.Path})
	if err != nil {
		logger.Error("failed to open database", "err", err)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	importSvc, err := importer.NewService(cfg, db, afero.NewOsFs())
	if err != nil {
		logger.Error("failed to create import service", "err", err)
		return err
	}

	app := createFiberApp(cfg, logger)

	apiServer := api.NewServer(&api.Config{Prefix: cfg.API.Prefix}, importSvc)
	apiServer.SetupRoutes(app)
	logger.Info("API server enabled", "prefix", cfg.API.Prefix)

	importSvc.StartScheduler()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Error("HTTP server error", "err", err)
		}
	}()
	logger.Info("HTTP server listening", "addr", addr)

	waitForSignal()

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := importSvc.StopScheduler(shutdownCtx); err != nil {
		logger.Error("failed to stop scheduler cleanly", "err", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to stop HTTP server cleanly", "err", err)
	}

	logger.Info("Sidepull server shut down gracefully")
	return nil
}

// createFiberApp creates and configures the Fiber application
func createFiberApp(cfg *config.Config, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			logger.Error("Fiber error", "path", c.Path(), "method", c.Method(), "error", err)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Request logging only in debug mode
	debugMode := cfg.Log.Level == "debug"
	fiberLogger := fLogger.New()
	app.Use(func(c *fiber.Ctx) error {
		if debugMode {
			return fiberLogger(c)
		}
		return c.Next()
	})

	return app
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
