package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/media"
	"github.com/sidepull/sidepull/internal/remote"
)

type fakeFetcher struct {
	pages map[int]*remote.Page
	err   error
	calls int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page, limit int) (*remote.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.pages[page]
	if !ok {
		return &remote.Page{Page: page}, nil
	}
	return p, nil
}

type fakeSideloader struct {
	result    media.Result
	calls     int
	onProcess func()
}

func (f *fakeSideloader) Process(ctx context.Context, ref remote.MediaRef, opts media.Options) media.Result {
	f.calls++
	if f.onProcess != nil {
		f.onProcess()
	}
	if f.result.Status == "" {
		return media.Result{Status: media.StatusImported, LocalRef: ref.Filename}
	}
	return f.result
}

// pagesOf lays items out into pages of the given size, 1-indexed.
func pagesOf(pageSize int, items ...remote.Item) map[int]*remote.Page {
	pages := make(map[int]*remote.Page)
	for i := 0; i < len(items); i += pageSize {
		end := i + pageSize
		if end > len(items) {
			end = len(items)
		}
		pages[i/pageSize+1] = &remote.Page{
			Docs:      items[i:end],
			TotalDocs: len(items),
			Page:      i/pageSize + 1,
		}
	}
	return pages
}

func testItems(n int) []remote.Item {
	items := make([]remote.Item, n)
	for i := range items {
		items[i] = remote.Item{
			ID:    fmt.Sprintf("src-%d", i),
			Title: fmt.Sprintf("Item %d", i),
			Slug:  fmt.Sprintf("item-%d", i),
		}
	}
	return items
}

func newTestProcessor(t *testing.T, db *database.DB, fetcher PageFetcher, sideloader Sideloader, cfg ProcessorConfig) (*Processor, *StateManager) {
	t.Helper()

	state := NewStateManager(db.Jobs, "posts", time.Hour)
	resolver := NewResolver("posts", db.Records, db.Records)
	proc := NewProcessor(state, fetcher, sideloader, db.Records, resolver, db.Logs, cfg)
	return proc, state
}

func TestRunTick_NoOpWhenIdle(t *testing.T) {
	db := database.NewTestDB(t)
	fetcher := &fakeFetcher{}
	proc, _ := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})

	require.NoError(t, proc.RunTick(context.Background()))
	assert.Zero(t, fetcher.calls, "Idle tick must not touch the remote")
}

func TestRunTick_ProcessesBatchesUntilCompletion(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(3)
	fetcher := &fakeFetcher{pages: pagesOf(2, items...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})

	_, applied, err := state.Start(3, Options{BatchSize: 2})
	require.NoError(t, err)
	require.True(t, applied)

	// First tick: items 0 and 1
	require.NoError(t, proc.RunTick(context.Background()))
	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusRunning, job.Status)
	assert.Equal(t, 2, job.CurrentIndex)

	// Second tick: item 2, then completion
	require.NoError(t, proc.RunTick(context.Background()))
	job, err = state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.CurrentIndex)
	assert.Equal(t, 3, job.Imported)

	count, err := db.Records.CountRecords("posts")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "Every item should be materialized")
}

func TestRunTick_BatchStraddlesPages(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(4)
	fetcher := &fakeFetcher{pages: pagesOf(2, items...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})

	// Batch of 3 spans page 1 (items 0,1) and page 2 (item 2)
	_, applied, err := state.Start(4, Options{BatchSize: 3})
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, 3, job.CurrentIndex)
	assert.Equal(t, 2, fetcher.calls, "Straddling batch needs both pages")
}

func TestRunTick_ResumesFromPersistedIndex(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(4)
	fetcher := &fakeFetcher{pages: pagesOf(2, items...)}

	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})
	_, applied, err := state.Start(4, Options{BatchSize: 1})
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, proc.RunTick(context.Background()))
	require.NoError(t, proc.RunTick(context.Background()))

	// A fresh processor picks up where the persisted index left off,
	// like a process restart would
	proc2, _ := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})
	require.NoError(t, proc2.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, 3, job.CurrentIndex)

	rec, err := db.Records.GetRecordBySourceID("posts", "src-2")
	require.NoError(t, err)
	require.NotNil(t, rec, "Third item should have been processed after the handover")
}

func TestRunTick_HonorsStopBetweenItems(t *testing.T) {
	db := database.NewTestDB(t)
	items := make([]remote.Item, 3)
	for i := range items {
		items[i] = remote.Item{
			ID:    fmt.Sprintf("src-%d", i),
			Title: fmt.Sprintf("Item %d", i),
			Media: []remote.MediaRef{{ID: fmt.Sprintf("m-%d", i), URL: "http://files/x.jpg", Filename: "x.jpg"}},
		}
	}
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}

	var state *StateManager
	sideloader := &fakeSideloader{}
	sideloader.onProcess = func() {
		// A stop arriving while item 0 is in flight
		if sideloader.calls == 1 {
			_, err := state.RequestStop()
			require.NoError(t, err)
		}
	}

	proc, st := newTestProcessor(t, db, fetcher, sideloader, ProcessorConfig{PageSize: 10})
	state = st

	_, applied, err := state.Start(3, Options{BatchSize: 3})
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusStopped, job.Status)
	assert.Equal(t, 1, job.CurrentIndex, "In-flight item finishes, the rest does not start")
	assert.Equal(t, 1, sideloader.calls)

	// The flag must be lowered once the stop is finalized
	raised, err := state.StopRequested()
	require.NoError(t, err)
	assert.False(t, raised)
}

func TestRunTick_FinalizesPendingStop(t *testing.T) {
	db := database.NewTestDB(t)
	fetcher := &fakeFetcher{pages: pagesOf(2, testItems(5)...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 2})

	_, applied, err := state.Start(5, Options{BatchSize: 2})
	require.NoError(t, err)
	require.True(t, applied)

	_, err = state.RequestStop()
	require.NoError(t, err)

	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusStopped, job.Status)
	assert.Zero(t, job.CurrentIndex, "Stop before the batch processes nothing")
	assert.Zero(t, fetcher.calls)
}

func TestRunTick_FetchFailureMakesNoProgress(t *testing.T) {
	db := database.NewTestDB(t)
	fetcher := &fakeFetcher{err: &remote.APIError{Op: "fetchPage", StatusCode: 503}}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{
		PageSize:         2,
		MaxFetchFailures: 3,
	})

	_, applied, err := state.Start(5, Options{BatchSize: 2})
	require.NoError(t, err)
	require.True(t, applied)

	// Two failing ticks stay running with zero progress
	for i := 0; i < 2; i++ {
		require.NoError(t, proc.RunTick(context.Background()))
		job, err := state.Job()
		require.NoError(t, err)
		assert.Equal(t, database.JobStatusRunning, job.Status)
		assert.Zero(t, job.CurrentIndex, "Fetch failure must not advance the index")
	}

	// The third consecutive failure crosses the threshold
	require.NoError(t, proc.RunTick(context.Background()))
	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusError, job.Status)
	require.NotNil(t, job.LastError)
}

func TestRunTick_FetchFailureCounterResetsOnSuccess(t *testing.T) {
	db := database.NewTestDB(t)
	fetcher := &fakeFetcher{
		pages: pagesOf(2, testItems(4)...),
		err:   &remote.APIError{Op: "fetchPage", StatusCode: 500},
	}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{
		PageSize:         2,
		MaxFetchFailures: 2,
	})

	_, applied, err := state.Start(4, Options{BatchSize: 2})
	require.NoError(t, err)
	require.True(t, applied)

	// One failure, then recovery
	require.NoError(t, proc.RunTick(context.Background()))
	fetcher.err = nil
	require.NoError(t, proc.RunTick(context.Background()))

	// Another single failure must not trip the threshold of 2
	fetcher.err = &remote.APIError{Op: "fetchPage", StatusCode: 500}
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusRunning, job.Status, "Non-consecutive failures must not fail the job")
}

func TestRunTick_SkipExistingRerunSkipsEverything(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(3)
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}

	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 10})

	// First run imports everything
	_, applied, err := state.Start(3, Options{BatchSize: 10})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	_, err = state.Reset()
	require.NoError(t, err)

	// Second run with skip_existing buckets everything as skipped
	_, applied, err = state.Start(3, Options{BatchSize: 10, SkipExisting: true})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status)
	assert.Zero(t, job.Imported)
	assert.Equal(t, 3, job.Skipped)
}

func TestRunTick_MediaFailureBucketsItemAsFailed(t *testing.T) {
	db := database.NewTestDB(t)
	items := []remote.Item{{
		ID:    "src-0",
		Title: "Broken media",
		Media: []remote.MediaRef{{ID: "m-0"}}, // no URL, no filename
	}}
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}
	sideloader := &fakeSideloader{result: media.Result{Status: media.StatusError, Reason: "no_url"}}

	proc, state := newTestProcessor(t, db, fetcher, sideloader, ProcessorConfig{PageSize: 10})

	_, applied, err := state.Start(1, Options{BatchSize: 10})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status, "Item failures do not fail the job")
	assert.Equal(t, 1, job.Failed)
	assert.Zero(t, job.Imported)

	// The record itself was still materialized; only the media failed
	rec, err := db.Records.GetRecordBySourceID("posts", "src-0")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestRunTick_RemoteShrankCountsMissingAsFailed(t *testing.T) {
	db := database.NewTestDB(t)
	// Job armed for 3 items but the remote now only has 2
	fetcher := &fakeFetcher{pages: pagesOf(10, testItems(2)...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 10})

	_, applied, err := state.Start(3, Options{BatchSize: 10})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status, "Shrunken remote must still terminate")
	assert.Equal(t, 2, job.Imported)
	assert.Equal(t, 1, job.Failed)
}

func TestRunTick_DryRunWritesNothing(t *testing.T) {
	db := database.NewTestDB(t)
	fetcher := &fakeFetcher{pages: pagesOf(10, testItems(2)...)}
	sideloader := &fakeSideloader{result: media.Result{Status: media.StatusSkipped, Reason: "dry_run"}}
	proc, state := newTestProcessor(t, db, fetcher, sideloader, ProcessorConfig{PageSize: 10})

	_, applied, err := state.Start(2, Options{BatchSize: 10, DryRun: true})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status)

	count, err := db.Records.CountRecords("posts")
	require.NoError(t, err)
	assert.Zero(t, count, "Dry run must not materialize records")
}

func TestRunTick_ConflictDefaultsToSkip(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(1)
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 10})

	// Seed the existing entity the item will collide with
	require.NoError(t, db.Records.UpsertRecord(&database.Record{
		Kind: "posts", SourceID: "src-0", Slug: "item-0", Title: "Existing",
	}))

	// Neither overwrite nor skip_existing: the configured default decides
	_, applied, err := state.Start(1, Options{BatchSize: 10})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	job, err := state.Job()
	require.NoError(t, err)
	assert.Equal(t, 1, job.Skipped)

	rec, err := db.Records.GetRecordBySourceID("posts", "src-0")
	require.NoError(t, err)
	assert.Equal(t, "Existing", rec.Title, "Skip must leave the existing entity untouched")
}

func TestRunTick_OverwriteRetagsSlugMatchedEntity(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(1) // src-0, slug item-0
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 10})

	// Pre-existing entity with the same slug but no matching source id
	require.NoError(t, db.Records.UpsertRecord(&database.Record{
		Kind: "posts", SourceID: "legacy", Slug: "item-0", Title: "Untagged",
	}))

	_, applied, err := state.Start(1, Options{BatchSize: 10, Overwrite: true})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	count, err := db.Records.CountRecords("posts")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Slug match must retag, never duplicate")

	rec, err := db.Records.GetRecordBySourceID("posts", "src-0")
	require.NoError(t, err)
	require.NotNil(t, rec, "The row now carries the remote source id")
	assert.Equal(t, "Item 0", rec.Title)
}

func TestRunTick_OverwriteUpdatesExisting(t *testing.T) {
	db := database.NewTestDB(t)
	items := testItems(1)
	fetcher := &fakeFetcher{pages: pagesOf(10, items...)}
	proc, state := newTestProcessor(t, db, fetcher, &fakeSideloader{}, ProcessorConfig{PageSize: 10})

	require.NoError(t, db.Records.UpsertRecord(&database.Record{
		Kind: "posts", SourceID: "src-0", Slug: "item-0", Title: "Old title",
	}))

	_, applied, err := state.Start(1, Options{BatchSize: 10, Overwrite: true})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, proc.RunTick(context.Background()))

	rec, err := db.Records.GetRecordBySourceID("posts", "src-0")
	require.NoError(t, err)
	assert.Equal(t, "Item 0", rec.Title, "Overwrite must refresh the entity")

	count, err := db.Records.CountRecords("posts")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Overwrite must not duplicate the entity")
}
