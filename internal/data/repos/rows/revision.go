package rows

import (
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/data/db"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type RevisionRepo interface {
	Insert(dbc dbctx.Context, revs []*types.Revision) error
	List(dbc dbctx.Context, datasetID, lineID string, offset, limit int) ([]*types.Revision, int64, error)
	SizeOf(dbc dbctx.Context, datasetID string) (int64, error)
	DeleteByDataset(dbc dbctx.Context, datasetID string) error
}

type revisionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRevisionRepo(db *gorm.DB, baseLog *logger.Logger) RevisionRepo {
	return &revisionRepo{db: db, log: baseLog.With("repo", "RevisionRepo")}
}

func (r *revisionRepo) Insert(dbc dbctx.Context, revs []*types.Revision) error {
	if len(revs) == 0 {
		return nil
	}
	return dbc.DB(r.db).CreateInBatches(&revs, 500).Error
}

// List returns revisions newest first. An empty lineID lists every line of the dataset.
func (r *revisionRepo) List(dbc dbctx.Context, datasetID, lineID string, offset, limit int) ([]*types.Revision, int64, error) {
	if limit <= 0 {
		limit = 10
	}
	scoped := func() *gorm.DB {
		q := dbc.DB(r.db).Model(&types.Revision{}).Where("dataset_id = ?", datasetID)
		if lineID != "" {
			q = q.Where("line_id = ?", lineID)
		}
		return q
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.Revision
	err := scoped().Order("updated_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *revisionRepo) SizeOf(dbc dbctx.Context, datasetID string) (int64, error) {
	expr := "COALESCE(SUM(LENGTH(data)), 0)"
	if db.IsPostgres(r.db) {
		expr = "COALESCE(SUM(octet_length(data::text)), 0)"
	}
	var n int64
	err := dbc.DB(r.db).Model(&types.Revision{}).Where("dataset_id = ?", datasetID).Select(expr).Scan(&n).Error
	return n, err
}

func (r *revisionRepo) DeleteByDataset(dbc dbctx.Context, datasetID string) error {
	return dbc.DB(r.db).Where("dataset_id = ?", datasetID).Delete(&types.Revision{}).Error
}
