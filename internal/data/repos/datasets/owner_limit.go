package datasets

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type OwnerLimitRepo interface {
	Get(dbc dbctx.Context, owner types.Owner) (*types.OwnerLimit, error)
	SetLimit(dbc dbctx.Context, owner types.Owner, limit int64) error
	SetUsed(dbc dbctx.Context, owner types.Owner, used int64) error
}

type ownerLimitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOwnerLimitRepo(db *gorm.DB, baseLog *logger.Logger) OwnerLimitRepo {
	return &ownerLimitRepo{db: db, log: baseLog.With("repo", "OwnerLimitRepo")}
}

func (r *ownerLimitRepo) Get(dbc dbctx.Context, owner types.Owner) (*types.OwnerLimit, error) {
	var l types.OwnerLimit
	err := dbc.DB(r.db).Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *ownerLimitRepo) SetLimit(dbc dbctx.Context, owner types.Owner, limit int64) error {
	row := &types.OwnerLimit{OwnerType: owner.Type, OwnerID: owner.ID, StoreBytesLimit: limit, UpdatedAt: time.Now().UTC()}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_bytes_limit", "updated_at"}),
	}).Create(row).Error
}

// SetUsed records consumption. New rows leave the limit unset.
func (r *ownerLimitRepo) SetUsed(dbc dbctx.Context, owner types.Owner, used int64) error {
	row := &types.OwnerLimit{OwnerType: owner.Type, OwnerID: owner.ID, StoreBytesLimit: types.LimitUnset, StoreBytesUsed: used, UpdatedAt: time.Now().UTC()}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_bytes_used", "updated_at"}),
	}).Create(row).Error
}
