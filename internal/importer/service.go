package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/sidepull/sidepull/internal/config"
	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/joblog"
	"github.com/sidepull/sidepull/internal/media"
	"github.com/sidepull/sidepull/internal/remote"
)

// Counter is the slice of the remote client the control plane uses.
type Counter interface {
	Count(ctx context.Context, forceRefresh bool) (int, error)
}

// Status is the poll-friendly snapshot of one import kind.
type Status struct {
	Job        *database.ImportJob   `json:"job"`
	RecentLogs []database.JobLogLine `json:"recent_logs"`
}

// Stats combines remote and local counts for one import kind.
type Stats struct {
	Kind        string `json:"kind"`
	RemoteTotal int    `json:"remote_total"`
	LocalTotal  int    `json:"local_total"`
	Imported    int    `json:"imported"`
	Remaining   int    `json:"remaining"`
}

// pipeline bundles everything one import kind needs.
type pipeline struct {
	kind      string
	state     *StateManager
	counter   Counter
	processor *Processor
}

// Service is the synchronous control plane over all configured import kinds.
// Start, Stop and Reset only flip persisted state; the actual work happens in
// scheduler ticks.
type Service struct {
	db        *database.DB
	scheduler *Scheduler
	pipelines map[string]*pipeline
	batchSize int
	logTail   int
	log       *slog.Logger
}

// NewService wires a pipeline for every configured source and registers each
// with the scheduler.
func NewService(cfg *config.Config, db *database.DB, fs afero.Fs) (*Service, error) {
	svc := &Service{
		db:        db,
		scheduler: NewScheduler(time.Duration(cfg.Import.TickIntervalSeconds) * time.Second),
		pipelines: make(map[string]*pipeline, len(cfg.Sources)),
		batchSize: cfg.Import.DefaultBatchSize,
		logTail:   cfg.Import.LogTailLines,
		log:       slog.Default().With("component", "import-service"),
	}

	conflictPolicy := DecisionSkip
	if cfg.Import.ConflictPolicy == "overwrite" {
		conflictPolicy = DecisionUpdate
	}

	for _, src := range cfg.Sources {
		if err := db.Jobs.EnsureJob(src.Kind); err != nil {
			return nil, fmt.Errorf("failed to seed job row for %s: %w", src.Kind, err)
		}

		client := remote.NewClient(remote.Config{
			BaseURL:   src.URL,
			CountPath: src.CountPath,
			APIKey:    src.APIKey,
			Filters:   src.Filters,
			CacheTTL:  time.Duration(cfg.Import.CountCacheMinutes) * time.Minute,
		})

		resolver := NewResolver(src.Kind, db.Records, db.Records)

		sideloader := media.NewProcessor(media.Config{
			MediaDir:       cfg.Storage.MediaDir,
			ThumbnailDir:   cfg.Storage.ThumbnailDir,
			ThumbnailWidth: cfg.Storage.ThumbnailWidth,
			MaxFileSize:    int64(cfg.Storage.MaxFileSizeMB) << 20,
			MediaBase:      src.MediaBase,
		}, fs, nil, db.Records, resolver.DisambiguateFilename)

		state := NewStateManager(db.Jobs, src.Kind,
			time.Duration(cfg.Import.StopFlagTTLMinutes)*time.Minute)

		proc := NewProcessor(state, client, sideloader, db.Records, resolver, db.Logs, ProcessorConfig{
			PageSize:         cfg.Import.PageSize,
			ProgressLogEvery: cfg.Import.ProgressLogEvery,
			MaxFetchFailures: cfg.Import.MaxFetchFailures,
			ConflictPolicy:   conflictPolicy,
		})

		if err := svc.scheduler.Register(src.Kind, proc); err != nil {
			return nil, err
		}

		svc.pipelines[src.Kind] = &pipeline{
			kind:      src.Kind,
			state:     state,
			counter:   client,
			processor: proc,
		}
	}

	return svc, nil
}

// StartScheduler begins background processing for all kinds.
func (s *Service) StartScheduler() {
	s.scheduler.Start()
}

// StopScheduler halts background ticks and waits for in-flight batches.
func (s *Service) StopScheduler(ctx context.Context) error {
	return s.scheduler.Stop(ctx)
}

// Kinds lists the configured import kinds.
func (s *Service) Kinds() []string {
	kinds := make([]string, 0, len(s.pipelines))
	for k := range s.pipelines {
		kinds = append(kinds, k)
	}
	return kinds
}

// Start begins a new import job for a kind. It refreshes the remote count,
// freezes the options and arms the state machine; the first batch runs on the
// next scheduler tick.
func (s *Service) Start(ctx context.Context, kind string, opts Options) (*database.ImportJob, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	opts.Normalize(s.batchSize)

	// Starts are rare and explicit, a cached count is not good enough here
	total, err := p.counter.Count(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count remote items: %w", err)
	}
	if total == 0 {
		return nil, ErrNoItemsFound
	}

	jobID, applied, err := p.state.Start(total, opts)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrAlreadyRunning
	}

	// Each job session gets a clean activity log
	jlog := joblog.New(s.db.Logs, kind, jobID)
	jlog.Clear()
	jlog.Info("import", fmt.Sprintf("Import started, %d items to process", total), map[string]any{
		"batch_size":    opts.BatchSize,
		"skip_existing": opts.SkipExisting,
		"overwrite":     opts.Overwrite,
		"dry_run":       opts.DryRun,
	})

	return p.state.Job()
}

// Stop requests a cooperative stop. Idempotent: stopping an idle or already
// stopping job is a no-op, never an error.
func (s *Service) Stop(ctx context.Context, kind string) (*database.ImportJob, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	applied, err := p.state.RequestStop()
	if err != nil {
		return nil, err
	}
	if applied {
		job, jerr := p.state.Job()
		if jerr == nil {
			jlog := joblog.New(s.db.Logs, kind, jobSession(job))
			jlog.Info("import", "Stop requested, finishing current item", nil)
		}
	}

	return p.state.Job()
}

// Reset returns a terminal job to idle. Active jobs must be stopped first.
func (s *Service) Reset(ctx context.Context, kind string) (*database.ImportJob, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	applied, err := p.state.Reset()
	if err != nil {
		return nil, err
	}
	if !applied {
		job, jerr := p.state.Job()
		if jerr == nil && job.Status.Active() {
			return nil, ErrJobStillActive
		}
		// Resetting an already idle job is fine
	}

	return p.state.Job()
}

// Status returns the current job state with a tail of recent activity lines.
// Built to be polled: it reads local state only and never calls the remote.
func (s *Service) Status(ctx context.Context, kind string) (*Status, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	job, err := p.state.Job()
	if err != nil {
		return nil, err
	}

	lines, err := s.db.Logs.Tail(kind, s.logTail)
	if err != nil {
		// Status must stay useful to pollers even when the log read fails
		s.log.WarnContext(ctx, "Failed to read job log tail", "kind", kind, "error", err)
		lines = nil
	}

	return &Status{Job: job, RecentLogs: lines}, nil
}

// Stats reports remote versus local item counts. The remote total comes from
// the count cache, so polling this is cheap.
func (s *Service) Stats(ctx context.Context, kind string) (*Stats, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	remoteTotal, err := p.counter.Count(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to count remote items: %w", err)
	}

	localTotal, err := s.db.Records.CountRecords(kind)
	if err != nil {
		return nil, err
	}
	imported, err := s.db.Records.CountImported(kind)
	if err != nil {
		return nil, err
	}

	remaining := remoteTotal - localTotal
	if remaining < 0 {
		remaining = 0
	}

	return &Stats{
		Kind:        kind,
		RemoteTotal: remoteTotal,
		LocalTotal:  localTotal,
		Imported:    imported,
		Remaining:   remaining,
	}, nil
}

// Run drives one import synchronously to a terminal state. Used by the CLI
// one-shot mode; the server path goes through the scheduler instead.
func (s *Service) Run(ctx context.Context, kind string, opts Options) (*database.ImportJob, error) {
	p, err := s.pipeline(kind)
	if err != nil {
		return nil, err
	}

	if _, err := s.Start(ctx, kind, opts); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			if _, serr := p.state.RequestStop(); serr != nil {
				return nil, serr
			}
			if _, serr := p.state.FinalizeStop(); serr != nil {
				return nil, serr
			}
			return p.state.Job()
		default:
		}

		if err := p.processor.RunTick(ctx); err != nil {
			return nil, err
		}

		job, err := p.state.Job()
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() || job.Status == database.JobStatusIdle {
			return job, nil
		}
	}
}

func (s *Service) pipeline(kind string) (*pipeline, error) {
	p, ok := s.pipelines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return p, nil
}
