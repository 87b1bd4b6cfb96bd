package datasets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
)

func TestDatasetRepoClaimNextSingleWinner(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDatasetRepo(db, testutil.Logger(t))

	ds := testutil.RestDataset("claim-me")
	ds.Status = types.StatusSchematized
	testutil.SeedDataset(t, ctx, db, ds)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repo.ClaimNext(dbctx.With(ctx), []types.Status{types.StatusSchematized}, types.StatusIndexing)
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("claims: want=1 got=%d", claims)
	}

	stored, err := repo.GetByID(dbctx.With(ctx), "claim-me")
	if err != nil || stored == nil {
		t.Fatalf("GetByID: err=%v ds=%v", err, stored)
	}
	if stored.Status != types.StatusIndexing || stored.ClaimedFrom != types.StatusSchematized || stored.ClaimAttempts != 1 {
		t.Fatalf("claimed state: status=%s from=%s attempts=%d", stored.Status, stored.ClaimedFrom, stored.ClaimAttempts)
	}
}

func TestDatasetRepoClaimNextOldestFirst(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDatasetRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	for i, id := range []string{"newer", "older"} {
		ds := testutil.RestDataset(id)
		ds.Status = types.StatusExtended
		ds.UpdatedAt = now.Add(-time.Duration(i+1) * time.Hour)
		testutil.SeedDataset(t, ctx, db, ds)
	}

	got, err := repo.ClaimNext(dbctx.With(ctx), []types.Status{types.StatusExtended}, types.StatusFinalizing)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != "older" {
		t.Fatalf("ClaimNext: want=older got=%v", got)
	}
	none, err := repo.ClaimNext(dbctx.With(ctx), []types.Status{types.StatusAnalyzed}, types.StatusSchematizing)
	if err != nil || none != nil {
		t.Fatalf("ClaimNext empty: want nil got=%v err=%v", none, err)
	}
}

func TestDatasetRepoConditionalUpdateAndStaleClaims(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDatasetRepo(db, testutil.Logger(t))

	ds := testutil.RestDataset("stale")
	ds.Status = types.StatusIndexing
	ds.ClaimedFrom = types.StatusSchematized
	claimedAt := time.Now().UTC().Add(-2 * time.Hour)
	ds.ClaimedAt = &claimedAt
	testutil.SeedDataset(t, ctx, db, ds)

	ok, err := repo.UpdateFieldsIfStatus(dbctx.With(ctx), "stale", []types.Status{types.StatusFinalized}, map[string]interface{}{"title": "x"})
	if err != nil || ok {
		t.Fatalf("UpdateFieldsIfStatus wrong status: ok=%v err=%v", ok, err)
	}

	stale, err := repo.ListStaleClaims(dbctx.With(ctx), time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleClaims: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale" {
		t.Fatalf("ListStaleClaims: got=%v", stale)
	}
	fresh, err := repo.ListStaleClaims(dbctx.With(ctx), time.Now().UTC().Add(-3*time.Hour))
	if err != nil || len(fresh) != 0 {
		t.Fatalf("ListStaleClaims fresh: got=%v err=%v", fresh, err)
	}

	ok, err = repo.UpdateFieldsIfStatus(dbctx.With(ctx), "stale", []types.Status{types.StatusIndexing}, map[string]interface{}{
		"status":     types.StatusSchematized,
		"claimed_at": nil,
	})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsIfStatus rewind: ok=%v err=%v", ok, err)
	}
}

func TestDatasetRepoExistingIDs(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDatasetRepo(db, testutil.Logger(t))
	for _, id := range []string{"sales", "sales-2", "salesforce"} {
		testutil.SeedDataset(t, ctx, db, testutil.RestDataset(id))
	}
	got, err := repo.ExistingIDs(dbctx.With(ctx), "sales")
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if len(got) != 2 || !got["sales"] || !got["sales-2"] {
		t.Fatalf("ExistingIDs: got=%v", got)
	}
}

func TestExtensionResultRepoUpsert(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewExtensionResultRepo(db, testutil.Logger(t))

	err := repo.Upsert(dbctx.With(ctx), []*types.ExtensionResult{
		{DatasetID: "d", ExtensionKey: "_ext_a_b", InputHash: "h1", Output: map[string]any{"v": 1}},
		{DatasetID: "d", ExtensionKey: "_ext_a_b", InputHash: "h1", Output: map[string]any{"v": 2}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(dbctx.With(ctx), []*types.ExtensionResult{
		{DatasetID: "d", ExtensionKey: "_ext_a_b", InputHash: "h2", Output: map[string]any{"v": 3}},
	}); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}
	got, err := repo.GetByHashes(dbctx.With(ctx), "d", "_ext_a_b", []string{"h1", "h2", "h3"})
	if err != nil {
		t.Fatalf("GetByHashes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByHashes: want=2 got=%d", len(got))
	}
	if v := got["h1"].Output["v"]; v != float64(2) {
		t.Fatalf("h1 output: want=2 got=%v", v)
	}
}
