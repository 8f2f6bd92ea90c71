// Package pipeline runs the engine's background maintenance jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// RunReport summarises one archive run.
type RunReport struct {
	Cutoff       time.Time
	Transactions int64
	Cycles       int64
	Took         time.Duration
}

// Archiver moves settled history older than the retention window to cold
// storage, on a cron schedule and on demand.
type Archiver struct {
	store     domain.Archiver
	retention time.Duration
	now       func() time.Time
	trigger   <-chan struct{}
	logger    *slog.Logger
}

// NewArchiver creates an Archiver keeping retentionDays of history hot.
func NewArchiver(store domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// WithTrigger makes RunCron also start a run whenever ch receives.
func (a *Archiver) WithTrigger(ch <-chan struct{}) *Archiver {
	a.trigger = ch
	return a
}

// Run archives everything settled before now minus the retention window.
// Cycles are attempted even when transactions fail; the errors are joined.
func (a *Archiver) Run(ctx context.Context) (RunReport, error) {
	start := a.now()
	rep := RunReport{Cutoff: start.UTC().Add(-a.retention)}

	var txErr, cycleErr error
	rep.Transactions, txErr = a.store.ArchiveTransactions(ctx, rep.Cutoff)
	if txErr != nil {
		txErr = fmt.Errorf("pipeline: archive transactions: %w", txErr)
	}
	rep.Cycles, cycleErr = a.store.ArchiveCycles(ctx, rep.Cutoff)
	if cycleErr != nil {
		cycleErr = fmt.Errorf("pipeline: archive cycles: %w", cycleErr)
	}
	rep.Took = a.now().Sub(start)
	return rep, errors.Join(txErr, cycleErr)
}

// RunCron runs the archiver on a five-field cron schedule, evaluated in UTC,
// until ctx is cancelled. "30 4 * * *" runs daily at 04:30 UTC.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archiver scheduled", slog.String("cron", expr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", expr, err)
		}
		a.logger.DebugContext(ctx, "next archive run", slog.Time("at", next))

		timer := time.NewTimer(next.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-a.trigger:
			timer.Stop()
			a.runOnce(ctx, "manual")
		case <-timer.C:
			a.runOnce(ctx, "cron")
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context, reason string) {
	rep, err := a.Run(ctx)
	attrs := []any{
		slog.String("reason", reason),
		slog.Time("cutoff", rep.Cutoff),
		slog.Int64("transactions", rep.Transactions),
		slog.Int64("cycles", rep.Cycles),
		slog.Duration("took", rep.Took),
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	a.logger.InfoContext(ctx, "archive run complete", attrs...)
}
