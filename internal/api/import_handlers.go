package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sidepull/sidepull/internal/importer"
)

// StartImportRequest carries the per-job options for a start request. All
// fields are optional; unset values fall back to configured defaults.
type StartImportRequest struct {
	BatchSize          int  `json:"batch_size"`
	SkipExisting       bool `json:"skip_existing"`
	Overwrite          bool `json:"overwrite"`
	DryRun             bool `json:"dry_run"`
	GenerateThumbnails bool `json:"generate_thumbnails"`
}

// handleListKinds returns all configured import kinds
func (s *Server) handleListKinds(c *fiber.Ctx) error {
	return RespondSuccess(c, fiber.Map{
		"kinds": s.importSvc.Kinds(),
	})
}

// handleStartImport arms a new import job. The response carries the armed job
// state; the actual work happens in background ticks.
func (s *Server) handleStartImport(c *fiber.Ctx) error {
	kind := c.Params("kind")

	var req StartImportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return RespondBadRequest(c, "Invalid request body", err.Error())
		}
	}
	if req.Overwrite && req.SkipExisting {
		return RespondBadRequest(c, "overwrite and skip_existing are mutually exclusive", "")
	}

	opts := importer.Options{
		BatchSize:          req.BatchSize,
		SkipExisting:       req.SkipExisting,
		Overwrite:          req.Overwrite,
		DryRun:             req.DryRun,
		GenerateThumbnails: req.GenerateThumbnails,
	}

	job, err := s.importSvc.Start(c.Context(), kind, opts)
	if err != nil {
		return s.respondImportError(c, kind, err)
	}

	return RespondAccepted(c, job)
}

// handleStopImport requests a cooperative stop. Idempotent.
func (s *Server) handleStopImport(c *fiber.Ctx) error {
	kind := c.Params("kind")

	job, err := s.importSvc.Stop(c.Context(), kind)
	if err != nil {
		return s.respondImportError(c, kind, err)
	}

	return RespondSuccess(c, job)
}

// handleResetImport returns a terminal job to idle
func (s *Server) handleResetImport(c *fiber.Ctx) error {
	kind := c.Params("kind")

	job, err := s.importSvc.Reset(c.Context(), kind)
	if err != nil {
		return s.respondImportError(c, kind, err)
	}

	return RespondSuccess(c, job)
}

// handleImportStatus returns the current job state with recent log lines
func (s *Server) handleImportStatus(c *fiber.Ctx) error {
	kind := c.Params("kind")

	status, err := s.importSvc.Status(c.Context(), kind)
	if err != nil {
		return s.respondImportError(c, kind, err)
	}

	return RespondSuccess(c, status)
}

// handleImportStats returns remote versus local item counts
func (s *Server) handleImportStats(c *fiber.Ctx) error {
	kind := c.Params("kind")

	stats, err := s.importSvc.Stats(c.Context(), kind)
	if err != nil {
		return s.respondImportError(c, kind, err)
	}

	return RespondSuccess(c, stats)
}

// respondImportError maps the service's typed errors onto HTTP statuses
func (s *Server) respondImportError(c *fiber.Ctx, kind string, err error) error {
	switch {
	case errors.Is(err, importer.ErrUnknownKind):
		return RespondNotFound(c, "Import kind", kind)
	case errors.Is(err, importer.ErrAlreadyRunning):
		return RespondConflict(c, "An import job of this kind is already active", kind)
	case errors.Is(err, importer.ErrJobStillActive):
		return RespondConflict(c, "Import job is still active, stop it before resetting", kind)
	case errors.Is(err, importer.ErrNoItemsFound):
		return RespondNotFound(c, "Remote items", "the remote source reports zero items")
	default:
		s.logger.Error("Import operation failed", "kind", kind, "error", err)
		return RespondInternalError(c, "Import operation failed", err.Error())
	}
}
