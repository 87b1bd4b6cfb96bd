package app

import (
	"fmt"

	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/analyzer"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/converter"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/extender"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/finalizer"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/indexer"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/schematizer"
	"github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/jobs/ttl"
	"github.com/yungbote/dataset-engine/internal/jobs/worker"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type Jobs struct {
	Registry *runtime.Registry
	Worker   *worker.Worker
	TTL      *ttl.Sweeper
}

func wireJobs(log *logger.Logger, cfg Config, clients Clients, repos Repos, svcs Services, metrics *observability.Metrics) (Jobs, error) {
	log.Info("Wiring pipeline stages...")
	reg := runtime.NewRegistry()
	stages := []runtime.Handler{
		converter.New(log, clients.Bucket),
		analyzer.New(log, clients.Bucket),
		schematizer.New(log, clients.Bucket, svcs.Catalog),
		indexer.New(indexer.Config{IndexPrefix: cfg.IndexPrefix, BatchSize: cfg.IndexerBatch},
			log, clients.Bucket, clients.Engine, svcs.Rows, repos.ExtensionResult, svcs.Catalog),
		extender.New(extender.Config{IndexPrefix: cfg.IndexPrefix, BatchSize: cfg.ExtenderBatch},
			log, clients.Engine, repos.ExtensionResult, svcs.Catalog, clients.Remote, metrics),
		finalizer.New(finalizer.Config{IndexPrefix: cfg.IndexPrefix},
			log, clients.Engine, repos.Dataset, repos.Row, svcs.Storage),
	}
	for _, h := range stages {
		if err := reg.Register(h); err != nil {
			return Jobs{}, fmt.Errorf("register stage: %w", err)
		}
	}
	w := worker.NewWorker(worker.Config{
		PollInterval: cfg.PollInterval,
		StaleAfter:   cfg.StaleAfter,
		MaxAttempts:  cfg.MaxAttempts,
	}, repos.Dataset, reg, svcs.Notifier, metrics, log)
	return Jobs{
		Registry: reg,
		Worker:   w,
		TTL:      ttl.NewSweeper(cfg.TTLSchedule, repos.Dataset, svcs.Rows, metrics, log),
	}, nil
}
