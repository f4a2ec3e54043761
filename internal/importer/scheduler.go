package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker is what the scheduler fires on every trigger.
type Ticker interface {
	RunTick(ctx context.Context) error
}

// Scheduler fires registered processors on a fixed interval. Each processor
// gets a single-flight guard: a trigger arriving while the previous tick is
// still in flight is dropped, never queued, so overlapping batches cannot
// happen no matter how slow a tick gets.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]*schedulerEntry
	started bool
}

type schedulerEntry struct {
	ticker Ticker
	flight sync.Mutex
}

// NewScheduler creates a scheduler with the given tick interval.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		cron:     cron.New(),
		interval: interval,
		log:      slog.Default().With("component", "scheduler"),
		entries:  make(map[string]*schedulerEntry),
	}
}

// Register adds a processor under a unique name. Must be called before Start.
func (s *Scheduler) Register(name string, ticker Ticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("processor %q already registered", name)
	}

	entry := &schedulerEntry{ticker: ticker}
	s.entries[name] = entry

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.fire(name, entry)
	}); err != nil {
		delete(s.entries, name)
		return fmt.Errorf("failed to schedule processor %q: %w", name, err)
	}

	return nil
}

// Start begins firing ticks in the cron's own goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("Scheduler started", "interval", s.interval, "processors", len(s.entries))
}

// Stop halts the trigger and waits for in-flight ticks to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	// Running jobs survive in the database; the flight locks only cover the
	// current batch.
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		entry.flight.Lock()
		entry.flight.Unlock()
	}

	s.log.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) fire(name string, entry *schedulerEntry) {
	if !entry.flight.TryLock() {
		// Previous batch still running, skip this trigger
		return
	}
	defer entry.flight.Unlock()

	if err := entry.ticker.RunTick(context.Background()); err != nil {
		s.log.Error("Tick failed", "processor", name, "error", err)
	}
}
