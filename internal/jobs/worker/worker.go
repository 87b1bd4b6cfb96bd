package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Config struct {
	PollInterval time.Duration
	// StaleAfter is how long a dataset may stay in a working status before the sweeper
	// rewinds it.
	StaleAfter time.Duration
	// MaxAttempts is the number of claims after which a stale dataset goes to error.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

type Worker struct {
	log      *logger.Logger
	cfg      Config
	repo     datasets.DatasetRepo
	registry *runtime.Registry
	notify   services.Notifier
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewWorker(cfg Config, repo datasets.DatasetRepo, registry *runtime.Registry, notify services.Notifier, metrics *observability.Metrics, baseLog *logger.Logger) *Worker {
	return &Worker{
		log:      baseLog.With("component", "StageWorker"),
		cfg:      cfg.withDefaults(),
		repo:     repo,
		registry: registry,
		notify:   notify,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run polls every stage on its own ticker and sweeps stale claims until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	handlers := w.registry.All()
	w.log.Info("Starting stage workers", "stages", len(handlers), "poll_interval", w.cfg.PollInterval)
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		g.Go(func() error {
			w.loop(gctx, h)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(w.cfg.StaleAfter / 4)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.SweepStale(gctx); err != nil {
					w.log.Warn("stale sweep failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, h runtime.Handler) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Stage loop stopped", "stage", h.Type())
			return
		case <-ticker.C:
			// drain everything claimable before waiting for the next tick
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx, h)
				if err != nil {
					w.log.Warn("claim failed", "stage", h.Type(), "error", err)
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims at most one dataset for h and runs it. It reports whether a dataset was
// claimed.
func (w *Worker) RunOnce(ctx context.Context, h runtime.Handler) (bool, error) {
	ds, err := w.repo.ClaimNext(dbctx.With(ctx), h.Claims(), h.Working())
	if err != nil {
		return false, err
	}
	if ds == nil {
		return false, nil
	}
	w.run(ctx, h, ds)
	return true, nil
}

// Drain runs stages until no stage claims anything or maxRuns runs happened.
func (w *Worker) Drain(ctx context.Context, maxRuns int) (int, error) {
	runs := 0
	for runs < maxRuns {
		progressed := false
		for _, h := range w.registry.All() {
			ran, err := w.RunOnce(ctx, h)
			if err != nil {
				return runs, err
			}
			if ran {
				runs++
				progressed = true
			}
		}
		if !progressed {
			return runs, nil
		}
	}
	return runs, nil
}

func (w *Worker) run(ctx context.Context, h runtime.Handler, ds *types.Dataset) {
	start := w.now()
	spanCtx, span := observability.StartSpan(ctx, "stage."+h.Type(),
		attribute.String("dataset.id", ds.ID),
		attribute.String("dataset.claimed_from", string(ds.ClaimedFrom)),
	)
	defer span.End()

	jc := runtime.NewContext(spanCtx, h.Type(), ds, w.repo, w.notify, w.log)
	jc.Journal(types.EventStageStart, "", map[string]any{"stage": h.Type(), "from": ds.ClaimedFrom})

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Stage handler panic", "stage", h.Type(), "dataset_id", ds.ID, "panic", r)
				runErr = &panicError{Val: r}
			}
		}()
		runErr = h.Run(jc)
	}()

	switch {
	case runErr != nil && errors.Is(runErr, runtime.ErrClaimLost):
		w.log.Warn("stage lost its claim", "stage", h.Type(), "dataset_id", ds.ID)
	case runErr != nil:
		jc.Fail(runErr)
	case !jc.Done():
		runErr = fmt.Errorf("stage %s returned without committing", h.Type())
		jc.Fail(runErr)
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	w.metrics.ObserveStage(h.Type(), runErr, w.now().Sub(start))
	w.log.Info("Stage run finished",
		"stage", h.Type(),
		"dataset_id", ds.ID,
		"status", jc.Dataset.Status,
		"duration", w.now().Sub(start),
	)
}

// SweepStale rewinds datasets held in a working status for longer than StaleAfter back to
// the status they were claimed from, or fails them once MaxAttempts claims timed out.
func (w *Worker) SweepStale(ctx context.Context) (int, error) {
	cutoff := w.now().UTC().Add(-w.cfg.StaleAfter)
	stale, err := w.repo.ListStaleClaims(dbctx.With(ctx), cutoff)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, ds := range stale {
		var updates map[string]interface{}
		var event, msg string
		if ds.ClaimAttempts >= w.cfg.MaxAttempts || ds.ClaimedFrom == "" {
			msg = fmt.Sprintf("%s timed out after %d attempts", ds.Status, ds.ClaimAttempts)
			updates = map[string]interface{}{"status": types.StatusError, "error_message": msg, "claimed_at": nil}
			event = types.EventError
		} else {
			msg = fmt.Sprintf("%s exceeded %s, returning to %s", ds.Status, w.cfg.StaleAfter, ds.ClaimedFrom)
			updates = map[string]interface{}{"status": ds.ClaimedFrom, "claimed_at": nil}
			event = types.EventStaleClaim
		}
		ok, err := w.repo.UpdateFieldsIfStatus(dbctx.With(ctx), ds.ID, []types.Status{ds.Status}, updates)
		if err != nil {
			return handled, err
		}
		if !ok {
			continue
		}
		handled++
		if event == types.EventError {
			w.metrics.StaleClaim("failed")
		} else {
			w.metrics.StaleClaim("rewound")
		}
		w.log.Warn("Stale claim reclaimed", "dataset_id", ds.ID, "status", ds.Status, "attempts", ds.ClaimAttempts, "event", event)
		if err := w.notify.Journal(ctx, ds.ID, event, msg, map[string]any{"status": ds.Status, "attempts": ds.ClaimAttempts}); err != nil {
			w.log.Warn("journal append failed", "dataset_id", ds.ID, "error", err)
		}
	}
	return handled, nil
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
