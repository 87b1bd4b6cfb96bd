package datasets

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type JournalRepo interface {
	Append(dbc dbctx.Context, ev *types.JournalEvent) error
	List(dbc dbctx.Context, datasetID string, limit int) ([]*types.JournalEvent, error)
	DeleteByDataset(dbc dbctx.Context, datasetID string) error
}

type journalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJournalRepo(db *gorm.DB, baseLog *logger.Logger) JournalRepo {
	return &journalRepo{db: db, log: baseLog.With("repo", "JournalRepo")}
}

func (r *journalRepo) Append(dbc dbctx.Context, ev *types.JournalEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return dbc.DB(r.db).Create(ev).Error
}

// List returns the most recent events first.
func (r *journalRepo) List(dbc dbctx.Context, datasetID string, limit int) ([]*types.JournalEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.JournalEvent
	err := dbc.DB(r.db).
		Where("dataset_id = ?", datasetID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *journalRepo) DeleteByDataset(dbc dbctx.Context, datasetID string) error {
	return dbc.DB(r.db).Where("dataset_id = ?", datasetID).Delete(&types.JournalEvent{}).Error
}
