// Package pipeline runs background jobs that sit outside the live auction
// path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Archiver moves closed auctions older than the retention period to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Cutoff returns the end time before which auctions are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	start := time.Now()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveAuctions(ctx, cutoff)
	if err != nil {
		a.logger.Warn("archive run incomplete",
			slog.Int64("archived", n),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pipeline: archive auctions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("archived", n),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// RunCron runs the archiver on a cron schedule until ctx is cancelled.
// Five-field expressions are minute based; six fields add a leading seconds
// field. Overlapping runs are skipped.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	withSeconds := len(strings.Fields(cronExpr)) == 6

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("pipeline: new scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(cronExpr, withSeconds),
		gocron.NewTask(func() {
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}),
		gocron.WithName("archive_auctions"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("pipeline: schedule %q: %w", cronExpr, err)
	}

	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))
	s.Start()

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		a.logger.Warn("archiver shutdown", slog.String("error", err.Error()))
	}
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
