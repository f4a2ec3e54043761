package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidepull/sidepull/internal/config"
	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/importer"
	"github.com/sidepull/sidepull/internal/slogutil"
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "Run one import to completion",
		Long:  `Run a single import synchronously without the HTTP server. Ctrl+C stops the import cooperatively at the next item boundary.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}

	runCmd.Flags().Int("batch-size", 0, "items per batch (0 = configured default)")
	runCmd.Flags().Bool("skip-existing", false, "skip items that already exist locally")
	runCmd.Flags().Bool("overwrite", false, "overwrite items that already exist locally")
	runCmd.Flags().Bool("dry-run", false, "resolve and report without writing anything")
	runCmd.Flags().Bool("thumbnails", false, "generate thumbnails for imported images")

	rootCmd.AddCommand(runCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	kind := args[0]

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slogutil.Setup(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	db, err := database.NewDB(database.Config{DatabasePath: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	importSvc, err := importer.NewService(cfg, db, afero.NewOsFs())
	if err != nil {
		return err
	}

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	thumbnails, _ := cmd.Flags().GetBool("thumbnails")

	if skipExisting && overwrite {
		return fmt.Errorf("--skip-existing and --overwrite are mutually exclusive")
	}

	opts := importer.Options{
		BatchSize:          batchSize,
		SkipExisting:       skipExisting,
		Overwrite:          overwrite,
		DryRun:             dryRun,
		GenerateThumbnails: thumbnails,
	}

	// Ctrl+C cancels the context, which the runner turns into a cooperative stop
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Running import", "kind", kind, "dry_run", dryRun)

	job, err := importSvc.Run(ctx, kind, opts)
	if err != nil {
		return err
	}

	logger.Info("Import finished",
		"status", job.Status,
		"imported", job.Imported,
		"skipped", job.Skipped,
		"failed", job.Failed)

	if job.Status == database.JobStatusError && job.LastError != nil {
		return fmt.Errorf("import failed: %s", *job.LastError)
	}
	return nil
}
