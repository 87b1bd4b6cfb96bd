package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// RestDataset returns an unsaved REST dataset with the given base fields.
func RestDataset(id string, fields ...datasets.Field) *datasets.Dataset {
	return &datasets.Dataset{
		ID:        id,
		Title:     id,
		OwnerType: "user",
		OwnerID:   "owner-1",
		IsRest:    true,
		Status:    datasets.StatusFinalized,
		Schema:    datatypes.JSONSlice[datasets.Field](fields),
		Rest:      datatypes.NewJSONType(datasets.RestOptions{}),
	}
}

func SeedDataset(tb testing.TB, ctx context.Context, tx *gorm.DB, ds *datasets.Dataset) *datasets.Dataset {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(ds).Error; err != nil {
		tb.Fatalf("seed dataset: %v", err)
	}
	return ds
}

func SeedRow(tb testing.TB, ctx context.Context, tx *gorm.DB, datasetID, id string, data map[string]any, updatedAt time.Time) *datasets.Row {
	tb.Helper()
	r := &datasets.Row{
		DatasetID:     datasetID,
		ID:            id,
		Data:          datatypes.JSONMap(data),
		UpdatedAt:     updatedAt.UTC().Truncate(time.Microsecond),
		NeedsIndexing: true,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed row: %v", err)
	}
	return r
}
