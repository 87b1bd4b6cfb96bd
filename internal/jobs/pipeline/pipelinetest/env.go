// Package pipelinetest wires stage handlers to an in-memory database for tests.
package pipelinetest

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime/bus"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Env struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Datasets  datasets.DatasetRepo
	Results   datasets.ExtensionResultRepo
	Journal   datasets.JournalRepo
	Rows      rows.RowRepo
	Revisions rows.RevisionRepo
	Bus       *bus.MemoryBus
	Notifier  services.Notifier
	Storage   services.StorageService
	RowStore  services.RowStore
	Catalog   services.RemoteServiceCatalog
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	gdb := testutil.DB(t)
	log := logger.Nop()
	journal := datasets.NewJournalRepo(gdb, log)
	b := bus.NewMemoryBus()
	env := &Env{
		DB:        gdb,
		Log:       log,
		Datasets:  datasets.NewDatasetRepo(gdb, log),
		Results:   datasets.NewExtensionResultRepo(gdb, log),
		Journal:   journal,
		Rows:      rows.NewRowRepo(gdb, log),
		Revisions: rows.NewRevisionRepo(gdb, log),
		Bus:       b,
		Notifier:  services.NewNotifier(journal, b, log),
		Catalog:   services.NewRemoteServiceCatalog(datasets.NewRemoteServiceRepo(gdb, log), log),
	}
	env.Storage = services.NewStorageService(env.Datasets, env.Rows, env.Revisions, datasets.NewOwnerLimitRepo(gdb, log), -1, log)
	t.Cleanup(env.Notifier.Close)
	env.RowStore = services.NewRowStore(gdb, env.Datasets, env.Rows, env.Revisions, env.Storage, env.Notifier, log)
	return env
}

// SeedCatalog loads remote services from a YAML document.
func (e *Env) SeedCatalog(t *testing.T, doc string) {
	t.Helper()
	if _, err := e.Catalog.Seed(context.Background(), strings.NewReader(doc)); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
}

// Claimed stores ds as if a worker had just claimed it into working and returns the run
// context a stage receives.
func (e *Env) Claimed(t *testing.T, ds *types.Dataset, working types.Status) *jobrt.Context {
	t.Helper()
	now := time.Now().UTC()
	ds.ClaimedFrom = ds.Status
	ds.ClaimedAt = &now
	ds.ClaimAttempts = 1
	ds.Status = working
	if ds.OwnerType == "" {
		ds.OwnerType, ds.OwnerID = "user", "owner-1"
	}
	if err := e.DB.Save(ds).Error; err != nil {
		t.Fatalf("save claimed dataset: %v", err)
	}
	return jobrt.NewContext(context.Background(), string(working), ds, e.Datasets, e.Notifier, e.Log)
}

func (e *Env) Reload(t *testing.T, id string) *types.Dataset {
	t.Helper()
	ds, err := e.Datasets.GetByID(dbctx.With(context.Background()), id)
	if err != nil || ds == nil {
		t.Fatalf("reload dataset %s: ds=%v err=%v", id, ds, err)
	}
	return ds
}

// Events returns the journal event types of a dataset, newest first.
func (e *Env) Events(t *testing.T, id string) []string {
	t.Helper()
	evs, err := e.Journal.List(dbctx.With(context.Background()), id, 0)
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
