package services_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/realtime"
	"github.com/yungbote/dataset-engine/internal/services"
)

type sliceDecoder struct {
	items []map[string]any
	i     int
}

func (d *sliceDecoder) Next() (map[string]any, error) {
	if d.i >= len(d.items) {
		return nil, io.EOF
	}
	d.i++
	return d.items[d.i-1], nil
}

func restDataset(t *testing.T, env *pipelinetest.Env, id string, history bool) *types.Dataset {
	t.Helper()
	ds := testutil.RestDataset(id,
		types.Field{Key: "nom", Type: types.TypeString},
		types.Field{Key: "pop", Type: types.TypeInteger},
	)
	ds.Rest = datatypes.NewJSONType(types.RestOptions{History: history})
	return testutil.SeedDataset(t, context.Background(), env.DB, ds)
}

func TestBulkApplyAccounting(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ds := restDataset(t, env, "villes", false)
	dec := &sliceDecoder{items: []map[string]any{
		{"_id": "1", "nom": "Tours", "pop": float64(136000)},
		{"_id": "2", "pop": "beaucoup"},
		{"_action": "patch", "nom": "sans id"},
		{"_action": "replace", "_id": "3"},
		{"_action": "patch", "_id": "1", "pop": float64(137000)},
		{"_action": "delete", "_id": "absent"},
		{"_id": "4", "nom": "Blois", "_private": true},
		{"nom": "Orléans"},
		{"_id": float64(12345678), "nom": "Chartres"},
		{"_id": nil, "nom": "Vierzon"},
		{"_id": 2.5, "nom": "Dreux"},
		{"_id": true, "nom": "Vendôme"},
	}}
	var batches int
	summary, err := env.RowStore.BulkApply(context.Background(), ds, dec, func(services.Summary) { batches++ })
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if summary.NbOk+summary.NbErrors != len(dec.items) {
		t.Fatalf("accounting: nbOk=%d nbErrors=%d lines=%d", summary.NbOk, summary.NbErrors, len(dec.items))
	}
	if summary.NbOk != 5 || summary.NbErrors != 7 {
		t.Fatalf("summary: want=5/7 got=%d/%d (%+v)", summary.NbOk, summary.NbErrors, summary.Errors)
	}
	if batches != 1 {
		t.Fatalf("batches: want=1 got=%d", batches)
	}
	lines := []int{}
	for _, e := range summary.Errors {
		lines = append(lines, e.Line)
	}
	if fmt.Sprint(lines) != "[1 2 3 5 6 10 11]" {
		t.Fatalf("error lines: got %v", lines)
	}
	// "1" is created then patched
	live, err := env.Rows.CountLive(dbctx.With(context.Background()), "villes")
	if err != nil || live != 4 {
		t.Fatalf("live rows: want=4 got=%d err=%v", live, err)
	}
	if _, err := env.RowStore.ReadRow(context.Background(), ds, "12345678"); err != nil {
		t.Fatalf("numeric id: %v", err)
	}
	if _, err := env.RowStore.ReadRow(context.Background(), ds, "<nil>"); err == nil {
		t.Fatalf("null id: want generated id, found literal")
	}
	row, err := env.RowStore.ReadRow(context.Background(), ds, "1")
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Data["nom"] != "Tours" || row.Data["pop"] != float64(137000) {
		t.Fatalf("patched row: unexpected %v", row.Data)
	}
}

func TestBulkPathAboveThreshold(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ds := restDataset(t, env, "gros", false)
	n := services.BulkThreshold + 50
	txs := make([]services.Transaction, 0, n+1)
	for i := 0; i < n; i++ {
		txs = append(txs, services.Transaction{Action: services.ActionCreate, ID: fmt.Sprint(i), Body: map[string]any{"nom": fmt.Sprint("n", i)}})
	}
	// folded with the create of the same line
	txs = append(txs, services.Transaction{Action: services.ActionPatch, ID: "0", Body: map[string]any{"pop": float64(1)}})
	results, err := env.RowStore.Apply(context.Background(), ds, txs)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i, r := range results {
		if !r.OK() {
			t.Fatalf("result %d: %+v", i, r)
		}
	}
	row, err := env.RowStore.ReadRow(context.Background(), ds, "0")
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Data["nom"] != "n0" || row.Data["pop"] != float64(1) || !row.NeedsIndexing {
		t.Fatalf("folded row: unexpected %+v", row)
	}
}

func TestCreateThenDeleteKeepsHistory(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ctx := context.Background()
	ds := restDataset(t, env, "hist", true)
	results, err := env.RowStore.Apply(ctx, ds, []services.Transaction{
		{Action: services.ActionCreate, ID: "x", Body: map[string]any{"nom": "a"}},
		{Action: services.ActionDelete, ID: "x"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !results[0].OK() || !results[1].OK() {
		t.Fatalf("results: %+v", results)
	}
	row, err := env.Rows.Get(dbctx.With(ctx), "hist", "x", false)
	if err != nil || row == nil || !row.Deleted || !row.NeedsIndexing {
		t.Fatalf("tombstone: row=%+v err=%v", row, err)
	}
	if _, err := env.RowStore.ReadRow(ctx, ds, "x"); !apierr.IsNotFound(err) {
		t.Fatalf("read deleted row: want not found got %v", err)
	}
	for r, err := range env.RowStore.ReadStream(ctx, "hist", false) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		if r.ID == "x" && !r.Deleted {
			t.Fatalf("stream returned a live copy of a deleted row")
		}
	}
	page, err := env.RowStore.ReadRevisions(ctx, ds, "x", 1, 10)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if page.Total != 2 || len(page.Results) != 2 {
		t.Fatalf("revisions: want 2 got total=%d results=%v", page.Total, page.Results)
	}
	if page.Results[0][types.KeyDeleted] != true || page.Results[1]["nom"] != "a" {
		t.Fatalf("revisions order: %v", page.Results)
	}
	// deleting again is a per-line not found
	if err := env.RowStore.DeleteRow(ctx, ds, "x"); !apierr.IsNotFound(err) {
		t.Fatalf("second delete: want not found got %v", err)
	}
}

func TestConcurrentUpdateKeepsDirtyFlag(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ctx := context.Background()
	ds := restDataset(t, env, "course", false)
	if _, err := env.RowStore.UpdateRow(ctx, ds, "a", map[string]any{"nom": "v1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.RowStore.UpdateRow(ctx, ds, "b", map[string]any{"nom": "v1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// the indexer reads the dirty rows
	var marks []rows.Mark
	for r, err := range env.RowStore.ReadStream(ctx, "course", true) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		marks = append(marks, rows.Mark{ID: r.ID, UpdatedAt: r.UpdatedAt})
	}
	if len(marks) != 2 {
		t.Fatalf("dirty rows: want=2 got=%d", len(marks))
	}
	// row a changes while its previous version is being indexed
	if _, err := env.RowStore.PatchRow(ctx, ds, "a", map[string]any{"nom": "v2"}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	n, err := env.RowStore.MarkIndexed(ctx, "course", marks)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if n != 1 {
		t.Fatalf("marked: want=1 got=%d", n)
	}
	dirty := []string{}
	for r, err := range env.RowStore.ReadStream(ctx, "course", true) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		dirty = append(dirty, r.ID)
		if r.Data["nom"] != "v2" {
			t.Fatalf("dirty row value: want=v2 got=%v", r.Data["nom"])
		}
	}
	if len(dirty) != 1 || dirty[0] != "a" {
		t.Fatalf("dirty after mark: want=[a] got=%v", dirty)
	}
}

func TestWriteMovesFinalizedToUpdated(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ctx := context.Background()
	ds := restDataset(t, env, "pub", false)
	if ds.Status != types.StatusFinalized {
		t.Fatalf("fixture status: %s", ds.Status)
	}
	line, err := env.RowStore.CreateRow(ctx, ds, map[string]any{"nom": "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if line[types.KeyID] == "" || line[types.KeyUpdatedAt] == nil {
		t.Fatalf("created line: unexpected %v", line)
	}
	if got := env.Reload(t, "pub"); got.Status != types.StatusUpdated {
		t.Fatalf("status: want=%s got=%s", types.StatusUpdated, got.Status)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		found := false
		for _, m := range env.Bus.Published() {
			if m.Channel == realtime.TransactionsChannel("pub") {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transactions not published")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestValidationErrorsAreTyped(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ctx := context.Background()
	ds := restDataset(t, env, "strict", false)
	_, err := env.RowStore.CreateRow(ctx, ds, map[string]any{"inconnu": 1})
	if !apierr.IsValidation(err) {
		t.Fatalf("unknown property: want validation got %v", err)
	}
	if _, err := env.RowStore.ReadRevisions(ctx, ds, "x", 1, 10); !apierr.IsValidation(err) {
		t.Fatalf("revisions without history: want validation got %v", err)
	}
	file := &types.Dataset{ID: "file"}
	if _, err := env.RowStore.Apply(ctx, file, []services.Transaction{{Action: services.ActionCreate}}); !apierr.IsValidation(err) {
		t.Fatalf("file dataset: want validation got %v", err)
	}
}
