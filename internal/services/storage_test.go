package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/services"
)

func TestOwnerLimitOverridesFiniteDefault(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	ctx := context.Background()
	storage := services.NewStorageService(env.Datasets, env.Rows, env.Revisions, datasets.NewOwnerLimitRepo(env.DB, env.Log), 1, env.Log)

	ds := testutil.SeedDataset(t, ctx, env.DB, testutil.RestDataset("villes", types.Field{Key: "nom", Type: types.TypeString}))
	testutil.SeedRow(t, ctx, env.DB, "villes", "1", map[string]any{"nom": "Tours"}, time.Now())
	if _, err := storage.Refresh(ctx, "villes"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := storage.CheckQuota(ctx, ds); !apierr.IsStorageQuota(err) {
		t.Fatalf("default limit: want quota error got=%v", err)
	}

	if err := storage.SetLimit(ctx, ds.Owner(), types.LimitUnlimited); err != nil {
		t.Fatalf("set unlimited: %v", err)
	}
	// consumption updates must not reset the limit
	if _, err := storage.Refresh(ctx, "villes"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := storage.CheckQuota(ctx, ds); err != nil {
		t.Fatalf("unlimited owner: want=nil got=%v", err)
	}
	usage, err := storage.Usage(ctx, ds.Owner())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.StoreBytesLimit != types.LimitUnlimited || usage.StoreBytesUsed == 0 {
		t.Fatalf("usage: want limit=%d with consumption got=%+v", types.LimitUnlimited, usage)
	}

	if err := storage.SetLimit(ctx, ds.Owner(), types.LimitUnset); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := storage.CheckQuota(ctx, ds); !apierr.IsStorageQuota(err) {
		t.Fatalf("unset limit: want quota error got=%v", err)
	}

	if err := storage.SetLimit(ctx, ds.Owner(), -3); err == nil {
		t.Fatalf("limit -3: want validation error")
	}
}
