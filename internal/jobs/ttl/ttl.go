// Package ttl evicts expired REST rows on a cron schedule.
package ttl

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

const DefaultSchedule = "@every 10m"

type Sweeper struct {
	log      *logger.Logger
	schedule string
	datasets datasets.DatasetRepo
	rows     services.RowStore
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewSweeper(schedule string, dsRepo datasets.DatasetRepo, rowStore services.RowStore, metrics *observability.Metrics, baseLog *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		log:      baseLog.With("component", "TTLSweeper"),
		schedule: schedule,
		datasets: dsRepo,
		rows:     rowStore,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run schedules SweepAll until ctx is done. A sweep still running when ctx ends is waited
// for.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.SweepAll(ctx); err != nil {
			s.log.Warn("ttl sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.log.Info("TTL sweeper scheduled", "schedule", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// SweepAll applies the TTL of every REST dataset that has one. A failing dataset does not
// stop the others; the first error is returned.
func (s *Sweeper) SweepAll(ctx context.Context) (int, error) {
	list, err := s.datasets.ListWithActiveTTL(dbctx.With(ctx))
	if err != nil {
		return 0, err
	}
	var firstErr error
	deleted := 0
	for _, ds := range list {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		summary, err := s.rows.SweepTTL(ctx, ds, s.now())
		if err != nil {
			s.log.Warn("ttl sweep of dataset failed", "dataset_id", ds.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted += summary.NbOk
		s.metrics.TTLDeleted(summary.NbOk)
		if summary.NbOk > 0 {
			s.log.Info("expired rows deleted", "dataset_id", ds.ID, "rows", summary.NbOk)
		}
	}
	return deleted, firstErr
}
