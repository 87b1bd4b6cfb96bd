package rows

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/dataset-engine/internal/data/db"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// Mark identifies the version of a row that was written to the index.
type Mark struct {
	ID        string
	UpdatedAt time.Time
}

type PageQuery struct {
	AfterID   string
	Limit     int
	OnlyDirty bool
}

type RowRepo interface {
	Get(dbc dbctx.Context, datasetID, id string, forUpdate bool) (*types.Row, error)
	GetByIDs(dbc dbctx.Context, datasetID string, ids []string) (map[string]*types.Row, error)
	Upsert(dbc dbctx.Context, rows []*types.Row) error
	Page(dbc dbctx.Context, datasetID string, q PageQuery) ([]*types.Row, error)
	MarkIndexed(dbc dbctx.Context, datasetID string, marks []Mark) (int64, error)
	CountDirty(dbc dbctx.Context, datasetID string) (int64, error)
	CountLive(dbc dbctx.Context, datasetID string) (int64, error)
	ExpiredPage(dbc dbctx.Context, datasetID, prop, before string, limit int) ([]*types.Row, error)
	SizeOf(dbc dbctx.Context, datasetID string) (int64, error)
	DeleteByDataset(dbc dbctx.Context, datasetID string) error
}

type rowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRowRepo(db *gorm.DB, baseLog *logger.Logger) RowRepo {
	return &rowRepo{db: db, log: baseLog.With("repo", "RowRepo")}
}

// Get returns the row including tombstones, or nil when it was never written. forUpdate
// locks the row until the surrounding transaction ends.
func (r *rowRepo) Get(dbc dbctx.Context, datasetID, id string, forUpdate bool) (*types.Row, error) {
	q := dbc.DB(r.db)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row types.Row
	err := q.Where("dataset_id = ? AND id = ?", datasetID, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *rowRepo) GetByIDs(dbc dbctx.Context, datasetID string, ids []string) (map[string]*types.Row, error) {
	out := map[string]*types.Row{}
	if len(ids) == 0 {
		return out, nil
	}
	var found []*types.Row
	if err := dbc.DB(r.db).Where("dataset_id = ? AND id IN ?", datasetID, ids).Find(&found).Error; err != nil {
		return nil, err
	}
	for _, row := range found {
		out[row.ID] = row
	}
	return out, nil
}

// Upsert writes full row states. rows must not repeat a key.
func (r *rowRepo) Upsert(dbc dbctx.Context, rows []*types.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at", "deleted", "needs_indexing"}),
	}).CreateInBatches(&rows, 500).Error
}

// Page reads rows in id order after q.AfterID. Tombstones are included.
func (r *rowRepo) Page(dbc dbctx.Context, datasetID string, q PageQuery) ([]*types.Row, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	tx := dbc.DB(r.db).Where("dataset_id = ?", datasetID)
	if q.AfterID != "" {
		tx = tx.Where("id > ?", q.AfterID)
	}
	if q.OnlyDirty {
		tx = tx.Where("needs_indexing = ?", true)
	}
	var out []*types.Row
	err := tx.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// MarkIndexed clears the dirty flag of rows whose stored version still equals the marked
// one. A row rewritten after it was read keeps its flag. Indexed tombstones are purged.
func (r *rowRepo) MarkIndexed(dbc dbctx.Context, datasetID string, marks []Mark) (int64, error) {
	if len(marks) == 0 {
		return 0, nil
	}
	var total int64
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		for _, m := range marks {
			purged := txx.Where("dataset_id = ? AND id = ? AND updated_at = ? AND deleted = ?", datasetID, m.ID, m.UpdatedAt, true).
				Delete(&types.Row{})
			if purged.Error != nil {
				return purged.Error
			}
			if purged.RowsAffected > 0 {
				total += purged.RowsAffected
				continue
			}
			res := txx.Model(&types.Row{}).
				Where("dataset_id = ? AND id = ? AND updated_at = ?", datasetID, m.ID, m.UpdatedAt).
				Update("needs_indexing", false)
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}
		return nil
	})
	return total, err
}

func (r *rowRepo) CountDirty(dbc dbctx.Context, datasetID string) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Row{}).
		Where("dataset_id = ? AND needs_indexing = ?", datasetID, true).
		Count(&n).Error
	return n, err
}

func (r *rowRepo) CountLive(dbc dbctx.Context, datasetID string) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Row{}).
		Where("dataset_id = ? AND deleted = ?", datasetID, false).
		Count(&n).Error
	return n, err
}

// ExpiredPage returns live rows whose prop value is at or before the given timestamp. Stored
// date-time values share a fixed width layout, so a text comparison is chronological.
func (r *rowRepo) ExpiredPage(dbc dbctx.Context, datasetID, prop, before string, limit int) ([]*types.Row, error) {
	if limit <= 0 {
		limit = 500
	}
	tx := dbc.DB(r.db).Where("dataset_id = ? AND deleted = ?", datasetID, false)
	if db.IsPostgres(r.db) {
		tx = tx.Where("data->>? <= ?", prop, before)
	} else {
		tx = tx.Where("json_extract(data, ?) <= ?", jsonPath(prop), before)
	}
	var out []*types.Row
	err := tx.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// SizeOf approximates the stored size of the live rows.
func (r *rowRepo) SizeOf(dbc dbctx.Context, datasetID string) (int64, error) {
	expr := "COALESCE(SUM(LENGTH(data)), 0)"
	if db.IsPostgres(r.db) {
		expr = "COALESCE(SUM(octet_length(data::text)), 0)"
	}
	var n int64
	err := dbc.DB(r.db).Model(&types.Row{}).
		Where("dataset_id = ? AND deleted = ?", datasetID, false).
		Select(expr).Scan(&n).Error
	return n, err
}

func (r *rowRepo) DeleteByDataset(dbc dbctx.Context, datasetID string) error {
	return dbc.DB(r.db).Where("dataset_id = ?", datasetID).Delete(&types.Row{}).Error
}

func jsonPath(prop string) string {
	return fmt.Sprintf(`$."%s"`, prop)
}
