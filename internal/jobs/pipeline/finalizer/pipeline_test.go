package finalizer

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/search/searchtest"
)

const prefix = "test-"

func published(t *testing.T, e *searchtest.Engine, id string, n int) {
	t.Helper()
	ctx := context.Background()
	alias := types.AliasName(prefix, id)
	index := search.IndexName(alias, 1)
	if err := e.CreateIndex(ctx, index, map[string]any{}); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if err := e.SwitchAlias(ctx, alias, index); err != nil {
		t.Fatalf("alias: %v", err)
	}
	ops := make([]search.BulkOp, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		ops = append(ops, search.BulkOp{Action: search.BulkIndex, ID: id, Doc: map[string]any{types.KeyID: id}})
	}
	if err := e.Bulk(ctx, alias, ops); err != nil {
		t.Fatalf("bulk: %v", err)
	}
}

func TestFinalizeCountsDocuments(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	engine := searchtest.New()
	published(t, engine, "villes", 4)
	p := New(Config{IndexPrefix: prefix}, env.Log, engine, env.Datasets, env.Rows, env.Storage)

	ds := testutil.RestDataset("villes", types.Field{Key: "nom", Type: types.TypeString})
	ds.Status = types.StatusExtended
	if err := p.Run(env.Claimed(t, ds, types.StatusFinalizing)); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := env.Reload(t, "villes")
	if got.Status != types.StatusFinalized || got.Count != 4 {
		t.Fatalf("dataset: status=%s count=%d", got.Status, got.Count)
	}
	if got.FinalizedAt == nil {
		t.Fatalf("finalizedAt not set")
	}
	if events := env.Events(t, "villes"); len(events) == 0 || events[0] != types.EventFinalizeEnd {
		t.Fatalf("journal: want %s first, got %v", types.EventFinalizeEnd, events)
	}
}

func TestDirtyRestRowsLeadBackToUpdated(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	engine := searchtest.New()
	published(t, engine, "live", 1)
	p := New(Config{IndexPrefix: prefix}, env.Log, engine, env.Datasets, env.Rows, env.Storage)

	ds := testutil.RestDataset("live", types.Field{Key: "nom", Type: types.TypeString})
	ds.Status = types.StatusExtended
	jc := env.Claimed(t, ds, types.StatusFinalizing)
	testutil.SeedRow(t, context.Background(), env.DB, "live", "late", map[string]any{"nom": "x"}, time.Now())

	if err := p.Run(jc); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := env.Reload(t, "live")
	if got.Status != types.StatusUpdated {
		t.Fatalf("status: want=%s got=%s", types.StatusUpdated, got.Status)
	}
	if got.StorageInfo().CollectionSize == 0 {
		t.Fatalf("storage totals not refreshed: %+v", got.StorageInfo())
	}
}

func TestVirtualSumsChildren(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	p := New(Config{IndexPrefix: prefix}, env.Log, searchtest.New(), env.Datasets, env.Rows, env.Storage)
	ctx := context.Background()

	a := testutil.RestDataset("a",
		types.Field{Key: "nom", Type: types.TypeString},
		types.Field{Key: "pop", Type: types.TypeInteger},
	)
	a.Count = 3
	b := testutil.RestDataset("b",
		types.Field{Key: "nom", Type: types.TypeString},
		types.Field{Key: "pop", Type: types.TypeString},
	)
	b.Count = 5
	testutil.SeedDataset(t, ctx, env.DB, a)
	testutil.SeedDataset(t, ctx, env.DB, b)

	v := &types.Dataset{
		ID:        "v",
		IsVirtual: true,
		Status:    types.StatusExtended,
		Virtual:   datatypes.NewJSONType(types.VirtualOptions{Children: []string{"a", "b", "gone"}}),
	}
	if err := p.Run(env.Claimed(t, v, types.StatusFinalizing)); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := env.Reload(t, "v")
	if got.Status != types.StatusFinalized || got.Count != 8 {
		t.Fatalf("dataset: status=%s count=%d", got.Status, got.Count)
	}
	fields := got.SchemaFields()
	if len(fields) != 1 || fields[0].Key != "nom" {
		t.Fatalf("schema: want [nom] got %+v", fields)
	}
}

// lateWriter lands a row right after the first dirty count.
type lateWriter struct {
	rows.RowRepo
	write func()
	calls int
}

func (l *lateWriter) CountDirty(dbc dbctx.Context, datasetID string) (int64, error) {
	n, err := l.RowRepo.CountDirty(dbc, datasetID)
	l.calls++
	if l.calls == 1 {
		l.write()
	}
	return n, err
}

func TestWriteDuringFinalizeLeadsBackToUpdated(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	engine := searchtest.New()
	published(t, engine, "live", 1)
	repo := &lateWriter{RowRepo: env.Rows, write: func() {
		testutil.SeedRow(t, context.Background(), env.DB, "live", "late", map[string]any{"nom": "x"}, time.Now())
	}}
	p := New(Config{IndexPrefix: prefix}, env.Log, engine, env.Datasets, repo, env.Storage)

	ds := testutil.RestDataset("live", types.Field{Key: "nom", Type: types.TypeString})
	ds.Status = types.StatusExtended
	if err := p.Run(env.Claimed(t, ds, types.StatusFinalizing)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("dirty counts: want=2 got=%d", repo.calls)
	}
	if got := env.Reload(t, "live"); got.Status != types.StatusUpdated {
		t.Fatalf("status: want=%s got=%s", types.StatusUpdated, got.Status)
	}
}
