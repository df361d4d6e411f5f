// Package orchestrator drives the end-to-end sync run: window computation,
// per-day collection, audit, backup and notification, with bounded fixed-delay
// retry when a run fails.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/audit"
	"github.com/labgate/resultsync/internal/collector"
	"github.com/labgate/resultsync/internal/metrics"
	"github.com/labgate/resultsync/internal/scheduler"
)

// DayCollector collects one calendar day across all configured departments.
type DayCollector interface {
	CollectDay(ctx context.Context, day time.Time) (collector.DayReport, error)
}

// Auditor validates the persisted result set after a run.
type Auditor interface {
	Run(ctx context.Context) (audit.Report, error)
}

// Dumper produces a database backup and returns where it was stored.
type Dumper interface {
	Dump(ctx context.Context) (string, error)
}

// Config tunes run pacing and failure retry.
type Config struct {
	OverlapDays int
	DayPause    time.Duration
	RetryDelay  time.Duration
	MaxAttempts uint
}

func (c Config) withDefaults() Config {
	if c.OverlapDays <= 0 {
		c.OverlapDays = DefaultOverlapDays
	}
	if c.DayPause <= 0 {
		c.DayPause = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	return c
}

// Orchestrator serializes sync runs: at most one is in flight, and a failed
// run reschedules itself until the attempt budget is spent.
type Orchestrator struct {
	collector DayCollector
	store     collector.ResultStore
	auditor   Auditor
	dumper    Dumper
	notifier  collector.Notifier
	sched     *scheduler.Scheduler
	clock     collector.Clock
	logger    *zap.Logger
	cfg       Config

	mu       sync.Mutex
	running  bool
	attempts uint
}

func New(dc DayCollector, store collector.ResultStore, auditor Auditor, dumper Dumper, notifier collector.Notifier, sched *scheduler.Scheduler, clock collector.Clock, logger *zap.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		collector: dc,
		store:     store,
		auditor:   auditor,
		dumper:    dumper,
		notifier:  notifier,
		sched:     sched,
		clock:     clock,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// ErrRunInProgress is returned when a trigger arrives while a run is active.
var ErrRunInProgress = fmt.Errorf("sync run already in progress")

// Trigger starts a fresh run, resetting the retry budget. It is what the cron
// schedule and the manual API endpoint call.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	o.mu.Lock()
	o.attempts = 0
	o.mu.Unlock()
	return o.runOnce(ctx)
}

// runOnce executes a single attempt, refusing to overlap a running one.
func (o *Orchestrator) runOnce(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrRunInProgress
	}
	o.running = true
	o.attempts++
	attempt := o.attempts
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID), zap.Uint("attempt", attempt))
	started := o.clock.Now()
	logger.Info("sync run starting")

	err := o.run(ctx, logger)
	elapsed := o.clock.Now().Sub(started)
	if err != nil {
		metrics.ObserveSyncRun("failure", elapsed)
		logger.Error("sync run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		o.escalate(ctx, logger, attempt, err)
		return err
	}
	metrics.ObserveSyncRun("success", elapsed)
	o.mu.Lock()
	o.attempts = 0
	o.mu.Unlock()
	logger.Info("sync run finished", zap.Duration("elapsed", elapsed))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, logger *zap.Logger) error {
	window, err := computeWindow(ctx, o.store, o.clock.Now(), o.cfg.OverlapDays)
	if err != nil {
		return fmt.Errorf("compute collection window: %w", err)
	}
	days := window.Days()
	if len(days) == 0 {
		logger.Info("collection window is empty, nothing to do")
		o.notify(ctx, logger, "Sync skipped: storage is already up to date.")
		return nil
	}
	logger.Info("collection window computed",
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
		zap.Int("days", len(days)))

	var totalInserted, totalSkipped int
	for i, day := range days {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.DayPause):
			}
		}
		report, err := o.collector.CollectDay(ctx, day)
		if err != nil {
			return fmt.Errorf("collect %s: %w", day.Format(time.DateOnly), err)
		}
		totalInserted += report.Inserted
		totalSkipped += report.Skipped
	}

	auditReport, err := o.auditor.Run(ctx)
	if err != nil {
		return fmt.Errorf("audit persisted results: %w", err)
	}
	if !auditReport.OK() {
		o.notify(ctx, logger, auditMessage(auditReport))
	}

	location, err := o.dumper.Dump(ctx)
	if err != nil {
		return fmt.Errorf("database backup: %w", err)
	}
	logger.Info("database backup written", zap.String("location", location))

	o.notify(ctx, logger, fmt.Sprintf(
		"Sync run complete: %s to %s, %d new records, %d duplicates skipped, audit %s.",
		window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly),
		totalInserted, totalSkipped, auditReport.Status))
	return nil
}

// escalate notifies about the failure and schedules a retry, or gives up and
// sends a terminal alert once the budget is exhausted.
func (o *Orchestrator) escalate(ctx context.Context, logger *zap.Logger, attempt uint, runErr error) {
	if attempt >= o.cfg.MaxAttempts {
		o.notify(ctx, logger, fmt.Sprintf(
			"Sync run failed after %d attempts, giving up until the next schedule: %v",
			attempt, runErr))
		o.mu.Lock()
		o.attempts = 0
		o.mu.Unlock()
		return
	}
	o.notify(ctx, logger, fmt.Sprintf(
		"Sync run attempt %d/%d failed, retrying in %s: %v",
		attempt, o.cfg.MaxAttempts, o.cfg.RetryDelay, runErr))
	o.sched.Once(o.cfg.RetryDelay, func(ctx context.Context) {
		if err := o.runOnce(ctx); err != nil && err != ErrRunInProgress {
			logger.Error("retry attempt failed", zap.Error(err))
		}
	})
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, message string) {
	if err := o.notifier.Send(ctx, message); err != nil {
		logger.Error("notification failed", zap.Error(err))
	}
}

func auditMessage(r audit.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Result audit FAILED: %d of %d records look wrong (%d empty).",
		r.BadCount, r.TotalChecked, r.EmptyCount)
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "\n  record %d (%s, %s): %s", p.ID, p.Patient, p.Date, p.Reason)
	}
	return b.String()
}
