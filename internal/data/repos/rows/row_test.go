package rows

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
)

func TestRowRepoMarkIndexedKeepsNewerVersions(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewRowRepo(db, testutil.Logger(t))

	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	testutil.SeedRow(t, ctx, db, "d", "a", map[string]any{"v": 1}, t0)
	testutil.SeedRow(t, ctx, db, "d", "b", map[string]any{"v": 1}, t0)

	page, err := repo.Page(dbctx.With(ctx), "d", PageQuery{OnlyDirty: true})
	if err != nil || len(page) != 2 {
		t.Fatalf("Page: len=%d err=%v", len(page), err)
	}

	// b is rewritten between the indexer read and the mark
	if err := repo.Upsert(dbctx.With(ctx), []*types.Row{{
		DatasetID: "d", ID: "b", Data: datatypes.JSONMap{"v": 2},
		UpdatedAt: t0.Add(time.Second), NeedsIndexing: true,
	}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	marks := []Mark{}
	for _, r := range page {
		marks = append(marks, Mark{ID: r.ID, UpdatedAt: r.UpdatedAt})
	}
	n, err := repo.MarkIndexed(dbctx.With(ctx), "d", marks)
	if err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkIndexed: want=1 got=%d", n)
	}
	dirty, err := repo.Page(dbctx.With(ctx), "d", PageQuery{OnlyDirty: true})
	if err != nil {
		t.Fatalf("Page dirty: %v", err)
	}
	if len(dirty) != 1 || dirty[0].ID != "b" || dirty[0].Data["v"] != float64(2) {
		t.Fatalf("dirty rows: got=%+v", dirty)
	}
}

func TestRowRepoExpiredPage(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewRowRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	at := func(d time.Duration) string { return types.FormatTimestamp(now.Add(-d)) }
	testutil.SeedRow(t, ctx, db, "d", "1", map[string]any{"date": at(24 * time.Hour)}, now)
	testutil.SeedRow(t, ctx, db, "d", "2", map[string]any{"date": at(4 * 24 * time.Hour)}, now)
	testutil.SeedRow(t, ctx, db, "d", "3", map[string]any{"date": at(time.Hour)}, now)
	testutil.SeedRow(t, ctx, db, "other", "4", map[string]any{"date": at(10 * 24 * time.Hour)}, now)

	got, err := repo.ExpiredPage(dbctx.With(ctx), "d", "date", at(2*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ExpiredPage: %v", err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("ExpiredPage: got=%v", got)
	}
}

func TestRowRepoPageKeyset(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewRowRepo(db, testutil.Logger(t))
	now := time.Now().UTC()
	for _, id := range []string{"c", "a", "b"} {
		testutil.SeedRow(t, ctx, db, "d", id, map[string]any{}, now)
	}
	first, err := repo.Page(dbctx.With(ctx), "d", PageQuery{Limit: 2})
	if err != nil || len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("first page: got=%v err=%v", first, err)
	}
	second, err := repo.Page(dbctx.With(ctx), "d", PageQuery{AfterID: "b", Limit: 2})
	if err != nil || len(second) != 1 || second[0].ID != "c" {
		t.Fatalf("second page: got=%v err=%v", second, err)
	}
}

func TestRevisionRepoListNewestFirst(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewRevisionRepo(db, testutil.Logger(t))
	base := time.Now().UTC().Truncate(time.Microsecond)
	err := repo.Insert(dbctx.With(ctx), []*types.Revision{
		{DatasetID: "d", LineID: "x", UpdatedAt: base, Data: datatypes.JSONMap{"v": 1}},
		{DatasetID: "d", LineID: "x", UpdatedAt: base.Add(time.Second), Deleted: true},
		{DatasetID: "d", LineID: "y", UpdatedAt: base},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	revs, total, err := repo.List(dbctx.With(ctx), "d", "x", 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(revs) != 2 || !revs[0].Deleted {
		t.Fatalf("List: total=%d revs=%+v", total, revs)
	}
}

func TestRowRepoMarkIndexedPurgesTombstones(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewRowRepo(db, testutil.Logger(t))

	t0 := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.Upsert(dbctx.With(ctx), []*types.Row{{DatasetID: "d", ID: "gone", UpdatedAt: t0, Deleted: true, NeedsIndexing: true}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := repo.MarkIndexed(dbctx.With(ctx), "d", []Mark{{ID: "gone", UpdatedAt: t0}}); err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
	row, err := repo.Get(dbctx.With(ctx), "d", "gone", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row != nil {
		t.Fatalf("tombstone should be purged, got=%+v", row)
	}
}
