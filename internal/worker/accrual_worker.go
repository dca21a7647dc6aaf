// Package worker schedules the daily accrual runs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"paghetta/internal/log"
	"paghetta/internal/services"
)

// AccrualWorker fires the accrual processor on a cron schedule, always
// evaluated in UTC. Runs never overlap; a run still going when the next
// trigger fires makes the trigger a no-op.
type AccrualWorker struct {
	processor *services.AccrualProcessor
	schedule  string
	catchUp   bool
	logger    *log.Logger

	cron *cron.Cron
}

// NewAccrualWorker creates a worker firing on the given 5-field cron
// schedule. When catchUp is set, Start runs one pass immediately so a
// fire time missed while the process was down is recovered; the due-date
// rule makes the extra run idempotent.
func NewAccrualWorker(processor *services.AccrualProcessor, schedule string, catchUp bool, logger *log.Logger) *AccrualWorker {
	return &AccrualWorker{
		processor: processor,
		schedule:  schedule,
		catchUp:   catchUp,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// Start validates the schedule, optionally runs the catch-up pass and
// launches the cron loop. It does not block.
func (w *AccrualWorker) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(w.logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := c.AddFunc(w.schedule, func() { w.run(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("parse schedule %q: %w", w.schedule, err)
	}

	if w.catchUp {
		w.logger.InfoContext(ctx, "Running catch-up accrual pass")
		w.run(ctx, time.Now())
	}

	c.Start()
	w.cron = c
	w.logger.InfoContext(ctx, "Accrual worker started", "schedule", w.schedule)
	return nil
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (w *AccrualWorker) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.logger.Info("Accrual worker stopped")
}

func (w *AccrualWorker) run(ctx context.Context, fireTime time.Time) {
	count, err := w.processor.ProcessDailyAccruals(ctx, fireTime)
	if err != nil {
		w.logger.ErrorContext(ctx, "Accrual run failed",
			log.FieldFireDate, fireTime.UTC().Format(time.RFC3339),
			log.FieldError, err)
		return
	}
	w.logger.InfoContext(ctx, "Accrual run complete",
		log.FieldFireDate, fireTime.UTC().Format(time.RFC3339),
		log.FieldProcessed, count)
}
