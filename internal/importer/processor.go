package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/joblog"
	"github.com/sidepull/sidepull/internal/media"
	"github.com/sidepull/sidepull/internal/remote"
	"github.com/sidepull/sidepull/internal/slogutil"
)

// PageFetcher is the slice of the remote client the processor drives.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, limit int) (*remote.Page, error)
}

// Sideloader is the slice of the media processor the processor drives.
type Sideloader interface {
	Process(ctx context.Context, ref remote.MediaRef, opts media.Options) media.Result
}

// RecordWriter materializes local records.
type RecordWriter interface {
	UpsertRecord(rec *database.Record) error
	UpdateRecordByID(rec *database.Record) error
}

// ProcessorConfig tunes one background processor.
type ProcessorConfig struct {
	PageSize         int
	ProgressLogEvery int
	MaxFetchFailures int
	// ConflictPolicy settles the resolver's conflict verdict without pausing
	// the batch. Either DecisionSkip or DecisionUpdate.
	ConflictPolicy Decision
}

// Processor drives one batch of import work per tick. Every invocation is
// safe even when triggered spuriously: it no-ops unless the job is running,
// and honors the durable stop flag before the batch and before every item.
type Processor struct {
	state    *StateManager
	fetcher  PageFetcher
	media    Sideloader
	records  RecordWriter
	resolver *Resolver
	logRepo  *database.LogRepository
	cfg      ProcessorConfig
	log      *slog.Logger

	// consecutive whole-slice fetch failures, reset on any success
	fetchFailures int
}

// NewProcessor creates the background processor for one import kind.
func NewProcessor(
	state *StateManager,
	fetcher PageFetcher,
	sideloader Sideloader,
	records RecordWriter,
	resolver *Resolver,
	logRepo *database.LogRepository,
	cfg ProcessorConfig,
) *Processor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.ConflictPolicy != DecisionUpdate {
		cfg.ConflictPolicy = DecisionSkip
	}

	return &Processor{
		state:    state,
		fetcher:  fetcher,
		media:    sideloader,
		records:  records,
		resolver: resolver,
		logRepo:  logRepo,
		cfg:      cfg,
		log:      slog.Default().With("component", "background-processor", "kind", state.Kind()),
	}
}

// RunTick processes at most one batch, then returns. Re-arming is the
// scheduler's job; a tick that leaves the job running simply waits for the
// next trigger.
func (p *Processor) RunTick(ctx context.Context) error {
	job, err := p.state.Job()
	if err != nil {
		return err
	}

	jlog := joblog.New(p.logRepo, p.state.Kind(), jobSession(job))

	switch job.Status {
	case database.JobStatusRunning:
	case database.JobStatusStopping:
		// A stop arrived between ticks; finish it before doing anything else
		return p.honorStop(jlog)
	default:
		p.log.DebugContext(ctx, "Tick is a no-op", "status", job.Status)
		return nil
	}

	ctx = slogutil.With(ctx, "job_id", jobSession(job))

	if stop, err := p.state.StopRequested(); err != nil {
		return err
	} else if stop {
		return p.honorStop(jlog)
	}

	opts, err := DecodeOptions(job)
	if err != nil {
		// Options are frozen at start; losing them is state corruption
		msg := fmt.Sprintf("job state corrupted: %v", err)
		jlog.Log(joblog.LevelCritical, "state", msg, nil)
		if _, ferr := p.state.Fail(msg); ferr != nil {
			return ferr
		}
		return err
	}

	remaining := job.Remaining()
	if remaining == 0 {
		return p.complete(jlog)
	}

	sliceSize := opts.BatchSize
	if sliceSize > remaining {
		sliceSize = remaining
	}

	var (
		page         *remote.Page
		pageNum      int
		idx          = job.CurrentIndex
		stopObserved bool
	)

	for i := 0; i < sliceSize; i++ {
		// Mid-batch cancellation point: at most the current item is in
		// flight when a stop is honored.
		if stop, err := p.state.StopRequested(); err != nil {
			return err
		} else if stop {
			stopObserved = true
			break
		}

		// A batch may straddle page boundaries; the offset within the
		// fetched page carries across ticks via current_index.
		wantPage := idx/p.cfg.PageSize + 1
		offset := idx % p.cfg.PageSize

		if page == nil || pageNum != wantPage {
			fetched, err := p.fetcher.FetchPage(ctx, wantPage, p.cfg.PageSize)
			if err != nil {
				return p.handleFetchFailure(ctx, jlog, wantPage, err)
			}
			p.fetchFailures = 0
			page, pageNum = fetched, wantPage
		}

		var bucket database.OutcomeBucket
		var label string
		if offset >= len(page.Docs) {
			// The remote set shrank under the job; the slot is gone
			bucket = database.BucketFailed
			label = fmt.Sprintf("item %d", idx)
			jlog.Warning("import", "Remote item disappeared mid-job, counting as failed", map[string]any{"index": idx})
		} else {
			bucket, label = p.processItem(ctx, jlog, page.Docs[offset], opts)
		}

		if err := p.state.Advance(bucket, label); err != nil {
			return err
		}
		idx++

		if p.cfg.ProgressLogEvery > 0 && idx%p.cfg.ProgressLogEvery == 0 {
			p.logProgress(jlog)
		}
	}

	if idx >= job.Total {
		return p.complete(jlog)
	}
	if stopObserved {
		return p.honorStop(jlog)
	}

	// Still work left: the next scheduler tick picks up from current_index
	return nil
}

// processItem routes one remote item through resolution, record upsert and
// media side-loading, and returns the outcome bucket to advance with.
func (p *Processor) processItem(ctx context.Context, jlog *joblog.Logger, item remote.Item, opts Options) (database.OutcomeBucket, string) {
	label := itemLabel(item)

	decision, existing, err := p.resolver.Resolve(item, opts)
	if err != nil {
		jlog.Error("resolve", fmt.Sprintf("Failed to resolve %s: %v", label, err), nil)
		return database.BucketFailed, label
	}

	if decision == DecisionConflict {
		jlog.Info("collision", fmt.Sprintf("Existing entity for %s with no explicit policy, applying default (%s)", label, p.cfg.ConflictPolicy), nil)
		decision = p.cfg.ConflictPolicy
	}

	if decision == DecisionSkip {
		return database.BucketSkipped, label
	}

	if !opts.DryRun {
		rec := &database.Record{
			Kind:     p.state.Kind(),
			SourceID: item.ID,
			Slug:     itemSlug(item),
			Title:    item.Title,
		}
		if len(item.Payload) > 0 {
			payload := string(item.Payload)
			rec.Payload = &payload
		}

		// An entity matched by slug carries a foreign source id; retag the
		// existing row in place instead of inserting a sibling.
		if existing != nil && existing.SourceID != item.ID {
			rec.ID = existing.ID
			err = p.records.UpdateRecordByID(rec)
		} else {
			err = p.records.UpsertRecord(rec)
		}
		if err != nil {
			jlog.Error("upsert", fmt.Sprintf("Failed to store %s: %v", label, err), nil)
			return database.BucketFailed, label
		}
	}

	mediaOpts := media.Options{
		SkipExisting:       opts.SkipExisting,
		DryRun:             opts.DryRun,
		GenerateThumbnails: opts.GenerateThumbnails,
	}

	mediaFailures := 0
	for _, ref := range item.Media {
		result := p.media.Process(ctx, ref, mediaOpts)
		if result.Status == media.StatusError {
			mediaFailures++
			jlog.Warning("media", fmt.Sprintf("Failed to side-load media for %s: %s", label, result.Reason), map[string]any{
				"media_id": ref.ID,
				"filename": ref.Filename,
			})
		}
	}
	if mediaFailures > 0 {
		return database.BucketFailed, label
	}

	return database.BucketImported, label
}

func (p *Processor) handleFetchFailure(ctx context.Context, jlog *joblog.Logger, pageNum int, err error) error {
	p.fetchFailures++

	if p.cfg.MaxFetchFailures > 0 && p.fetchFailures >= p.cfg.MaxFetchFailures {
		msg := fmt.Sprintf("fetching page %d failed %d consecutive times: %v", pageNum, p.fetchFailures, err)
		jlog.Error("fetch", msg, nil)
		if _, ferr := p.state.Fail(msg); ferr != nil {
			return ferr
		}
		return nil
	}

	// Transient: no progress this tick, the same slice is retried next tick
	jlog.Warning("fetch", fmt.Sprintf("Failed to fetch page %d, will retry: %v", pageNum, err), map[string]any{
		"consecutive_failures": p.fetchFailures,
	})
	p.log.WarnContext(ctx, "Page fetch failed, re-arming", "page", pageNum, "error", err)
	return nil
}

func (p *Processor) honorStop(jlog *joblog.Logger) error {
	// Running with the flag raised still needs the stopping hop first
	if _, err := p.state.RequestStop(); err != nil {
		return err
	}
	applied, err := p.state.FinalizeStop()
	if err != nil {
		return err
	}
	if applied {
		jlog.Info("import", "Import stopped on request", nil)
	}
	return nil
}

func (p *Processor) complete(jlog *joblog.Logger) error {
	applied, err := p.state.Complete()
	if err != nil {
		return err
	}
	if applied {
		if job, jerr := p.state.Job(); jerr == nil {
			jlog.Info("import", "Import completed", map[string]any{
				"imported": job.Imported,
				"skipped":  job.Skipped,
				"failed":   job.Failed,
			})
		}
	}
	return nil
}

func (p *Processor) logProgress(jlog *joblog.Logger) {
	job, err := p.state.Job()
	if err != nil {
		return
	}
	jlog.Info("progress", fmt.Sprintf("Processed %d of %d items", job.CurrentIndex, job.Total), map[string]any{
		"imported": job.Imported,
		"skipped":  job.Skipped,
		"failed":   job.Failed,
	})
}

func jobSession(job *database.ImportJob) string {
	if job.JobID != nil {
		return *job.JobID
	}
	return ""
}

func itemLabel(item remote.Item) string {
	switch {
	case item.Title != "":
		return item.Title
	case item.Slug != "":
		return item.Slug
	default:
		return item.ID
	}
}

func itemSlug(item remote.Item) string {
	if item.Slug != "" {
		return item.Slug
	}
	if item.Title != "" {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(item.Title), " ", "-"))
	}
	return item.ID
}
