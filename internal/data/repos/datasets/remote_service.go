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

type RemoteServiceRepo interface {
	Upsert(dbc dbctx.Context, svcs []*types.RemoteService) error
	GetByID(dbc dbctx.Context, id string) (*types.RemoteService, error)
	List(dbc dbctx.Context) ([]*types.RemoteService, error)
}

type remoteServiceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRemoteServiceRepo(db *gorm.DB, baseLog *logger.Logger) RemoteServiceRepo {
	return &remoteServiceRepo{db: db, log: baseLog.With("repo", "RemoteServiceRepo")}
}

func (r *remoteServiceRepo) Upsert(dbc dbctx.Context, svcs []*types.RemoteService) error {
	if len(svcs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, s := range svcs {
		s.UpdatedAt = now
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "server", "api_key_header", "api_key_value", "actions", "updated_at"}),
	}).Create(&svcs).Error
}

func (r *remoteServiceRepo) GetByID(dbc dbctx.Context, id string) (*types.RemoteService, error) {
	var svc types.RemoteService
	err := dbc.DB(r.db).Where("id = ?", id).First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *remoteServiceRepo) List(dbc dbctx.Context) ([]*types.RemoteService, error) {
	var out []*types.RemoteService
	err := dbc.DB(r.db).Order("id ASC").Find(&out).Error
	return out, err
}
