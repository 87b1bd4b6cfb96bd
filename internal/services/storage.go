package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// StorageService accounts for the bytes each dataset and owner consume.
type StorageService interface {
	// CheckQuota fails with a storage quota error when the owner already uses its limit.
	CheckQuota(ctx context.Context, ds *types.Dataset) error
	Refresh(ctx context.Context, datasetID string) (types.StorageInfo, error)
	RefreshAsync(datasetID string)
	RefreshOwner(ctx context.Context, owner types.Owner) error
	Usage(ctx context.Context, owner types.Owner) (*types.OwnerLimit, error)
	SetLimit(ctx context.Context, owner types.Owner, limit int64) error
}

type storageService struct {
	log          *logger.Logger
	datasets     datasets.DatasetRepo
	rows         rows.RowRepo
	revisions    rows.RevisionRepo
	limits       datasets.OwnerLimitRepo
	defaultLimit int64
}

// NewStorageService uses defaultLimit for owners without an explicit limit. A negative
// limit means unlimited.
func NewStorageService(
	dsRepo datasets.DatasetRepo,
	rowRepo rows.RowRepo,
	revRepo rows.RevisionRepo,
	limits datasets.OwnerLimitRepo,
	defaultLimit int64,
	baseLog *logger.Logger,
) StorageService {
	return &storageService{
		log:          baseLog.With("service", "StorageService"),
		datasets:     dsRepo,
		rows:         rowRepo,
		revisions:    revRepo,
		limits:       limits,
		defaultLimit: defaultLimit,
	}
}

func (s *storageService) effectiveLimit(l *types.OwnerLimit) int64 {
	if l == nil || l.StoreBytesLimit == types.LimitUnset {
		return s.defaultLimit
	}
	return l.StoreBytesLimit
}

func (s *storageService) CheckQuota(ctx context.Context, ds *types.Dataset) error {
	l, err := s.limits.Get(dbctx.With(ctx), ds.Owner())
	if err != nil {
		return fmt.Errorf("read owner limit: %w", err)
	}
	limit := s.effectiveLimit(l)
	if limit < 0 {
		return nil
	}
	var used int64
	if l != nil {
		used = l.StoreBytesUsed
	}
	if used >= limit {
		return apierr.StorageQuota("storage limit of %d bytes reached (%d used)", limit, used)
	}
	return nil
}

func (s *storageService) Refresh(ctx context.Context, datasetID string) (types.StorageInfo, error) {
	dbc := dbctx.With(ctx)
	ds, err := s.datasets.GetByID(dbc, datasetID)
	if err != nil {
		return types.StorageInfo{}, err
	}
	if ds == nil {
		return types.StorageInfo{}, apierr.NotFound("dataset %s not found", datasetID)
	}
	info := types.StorageInfo{}
	if f := ds.FileInfo(); f != nil {
		info.FileSize += f.Size
	}
	if f := ds.OriginalFileInfo(); f != nil && (ds.FileInfo() == nil || f.Name != ds.FileInfo().Name) {
		info.FileSize += f.Size
	}
	if ds.IsRest {
		if info.CollectionSize, err = s.rows.SizeOf(dbc, datasetID); err != nil {
			return info, err
		}
		if info.RevisionsSize, err = s.revisions.SizeOf(dbc, datasetID); err != nil {
			return info, err
		}
	}
	info.Size = info.FileSize + info.CollectionSize + info.RevisionsSize
	if err := s.datasets.UpdateFields(dbc, datasetID, map[string]interface{}{
		"storage": datatypes.NewJSONType(info),
	}); err != nil {
		return info, err
	}

	if err := s.RefreshOwner(ctx, ds.Owner()); err != nil {
		return info, err
	}
	return info, nil
}

// RefreshOwner recomputes the owner consumption from the stored dataset totals.
func (s *storageService) RefreshOwner(ctx context.Context, owner types.Owner) error {
	dbc := dbctx.With(ctx)
	owned, err := s.datasets.List(dbc, datasets.ListFilter{OwnerType: owner.Type, OwnerID: owner.ID})
	if err != nil {
		return err
	}
	var used int64
	for _, o := range owned {
		used += o.StorageInfo().Size
	}
	return s.limits.SetUsed(dbc, owner, used)
}

func (s *storageService) RefreshAsync(datasetID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Refresh(ctx, datasetID); err != nil {
			s.log.Warn("storage refresh failed", "dataset_id", datasetID, "error", err)
		}
	}()
}

func (s *storageService) Usage(ctx context.Context, owner types.Owner) (*types.OwnerLimit, error) {
	l, err := s.limits.Get(dbctx.With(ctx), owner)
	if err != nil {
		return nil, err
	}
	limit := s.effectiveLimit(l)
	if l == nil {
		l = &types.OwnerLimit{OwnerType: owner.Type, OwnerID: owner.ID}
	}
	l.StoreBytesLimit = limit
	return l, nil
}

// SetLimit stores a byte limit. LimitUnlimited lifts the quota and LimitUnset restores the default.
func (s *storageService) SetLimit(ctx context.Context, owner types.Owner, limit int64) error {
	if limit < types.LimitUnset {
		return apierr.Validation("storage limit must be a byte count, %d or %d", types.LimitUnlimited, types.LimitUnset)
	}
	return s.limits.SetLimit(dbctx.With(ctx), owner, limit)
}
