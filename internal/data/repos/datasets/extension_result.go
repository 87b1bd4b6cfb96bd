package datasets

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type ExtensionResultRepo interface {
	Upsert(dbc dbctx.Context, results []*types.ExtensionResult) error
	GetByHashes(dbc dbctx.Context, datasetID, extensionKey string, hashes []string) (map[string]*types.ExtensionResult, error)
	DeleteByKey(dbc dbctx.Context, datasetID, extensionKey string) error
	DeleteByDataset(dbc dbctx.Context, datasetID string) error
}

type extensionResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtensionResultRepo(db *gorm.DB, baseLog *logger.Logger) ExtensionResultRepo {
	return &extensionResultRepo{db: db, log: baseLog.With("repo", "ExtensionResultRepo")}
}

func (r *extensionResultRepo) Upsert(dbc dbctx.Context, results []*types.ExtensionResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UTC()
	// one statement cannot touch the same key twice on Postgres
	dedup := make(map[string]*types.ExtensionResult, len(results))
	order := make([]string, 0, len(results))
	for _, res := range results {
		res.UpdatedAt = now
		if _, seen := dedup[res.InputHash]; !seen {
			order = append(order, res.InputHash)
		}
		dedup[res.InputHash] = res
	}
	rows := make([]*types.ExtensionResult, 0, len(order))
	for _, h := range order {
		rows = append(rows, dedup[h])
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_id"}, {Name: "extension_key"}, {Name: "input_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"output", "error", "updated_at"}),
	}).CreateInBatches(&rows, 500).Error
}

func (r *extensionResultRepo) GetByHashes(dbc dbctx.Context, datasetID, extensionKey string, hashes []string) (map[string]*types.ExtensionResult, error) {
	out := map[string]*types.ExtensionResult{}
	if len(hashes) == 0 {
		return out, nil
	}
	var found []*types.ExtensionResult
	err := dbc.DB(r.db).
		Where("dataset_id = ? AND extension_key = ? AND input_hash IN ?", datasetID, extensionKey, hashes).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	for _, res := range found {
		out[res.InputHash] = res
	}
	return out, nil
}

func (r *extensionResultRepo) DeleteByKey(dbc dbctx.Context, datasetID, extensionKey string) error {
	return dbc.DB(r.db).
		Where("dataset_id = ? AND extension_key = ?", datasetID, extensionKey).
		Delete(&types.ExtensionResult{}).Error
}

func (r *extensionResultRepo) DeleteByDataset(dbc dbctx.Context, datasetID string) error {
	return dbc.DB(r.db).Where("dataset_id = ?", datasetID).Delete(&types.ExtensionResult{}).Error
}
