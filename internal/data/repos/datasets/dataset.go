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

type ListFilter struct {
	OwnerType string
	OwnerID   string
	Statuses  []types.Status
	IDs       []string
	IsRest    *bool
	Limit     int
	Offset    int
}

type DatasetRepo interface {
	Create(dbc dbctx.Context, ds *types.Dataset) error
	GetByID(dbc dbctx.Context, id string) (*types.Dataset, error)
	ExistingIDs(dbc dbctx.Context, prefix string) (map[string]bool, error)
	List(dbc dbctx.Context, f ListFilter) ([]*types.Dataset, error)
	ClaimNext(dbc dbctx.Context, from []types.Status, working types.Status) (*types.Dataset, error)
	UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id string, allowed []types.Status, updates map[string]interface{}) (bool, error)
	ListStaleClaims(dbc dbctx.Context, cutoff time.Time) ([]*types.Dataset, error)
	ListWithActiveTTL(dbc dbctx.Context) ([]*types.Dataset, error)
	Delete(dbc dbctx.Context, id string) error
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{
		db:  db,
		log: baseLog.With("repo", "DatasetRepo"),
	}
}

func (r *datasetRepo) Create(dbc dbctx.Context, ds *types.Dataset) error {
	return dbc.DB(r.db).Create(ds).Error
}

// GetByID returns nil without error when the dataset does not exist.
func (r *datasetRepo) GetByID(dbc dbctx.Context, id string) (*types.Dataset, error) {
	var ds types.Dataset
	err := dbc.DB(r.db).Where("id = ?", id).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ExistingIDs returns the ids equal to prefix or starting with prefix + "-".
func (r *datasetRepo) ExistingIDs(dbc dbctx.Context, prefix string) (map[string]bool, error) {
	var ids []string
	err := dbc.DB(r.db).
		Model(&types.Dataset{}).
		Where("id = ? OR id LIKE ?", prefix, prefix+"-%").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *datasetRepo) List(dbc dbctx.Context, f ListFilter) ([]*types.Dataset, error) {
	q := dbc.DB(r.db).Model(&types.Dataset{})
	if f.OwnerType != "" {
		q = q.Where("owner_type = ? AND owner_id = ?", f.OwnerType, f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.IsRest != nil {
		q = q.Where("is_rest = ?", *f.IsRest)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []*types.Dataset
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNext moves the least recently updated dataset in one of the from statuses to working.
// The update is conditional on the status read, so when several workers race for the same
// dataset exactly one of them gets it; the others get nil.
func (r *datasetRepo) ClaimNext(dbc dbctx.Context, from []types.Status, working types.Status) (*types.Dataset, error) {
	if len(from) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var claimed *types.Dataset
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var ds types.Dataset
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", from).
			Order("updated_at ASC").
			First(&ds).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.Dataset{}).
			Where("id = ? AND status = ?", ds.ID, ds.Status).
			Updates(map[string]interface{}{
				"status":         working,
				"claimed_from":   ds.Status,
				"claimed_at":     now,
				"claim_attempts": gorm.Expr("claim_attempts + 1"),
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ds.ClaimedFrom = ds.Status
		ds.Status = working
		ds.ClaimedAt = &now
		ds.ClaimAttempts++
		ds.UpdatedAt = now
		claimed = &ds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *datasetRepo) UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error {
	if id == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.Dataset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the dataset is in one of allowed and
// reports whether a row changed.
func (r *datasetRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id string, allowed []types.Status, updates map[string]interface{}) (bool, error) {
	if id == "" || len(allowed) == 0 {
		return false, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := dbc.DB(r.db).
		Model(&types.Dataset{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *datasetRepo) ListStaleClaims(dbc dbctx.Context, cutoff time.Time) ([]*types.Dataset, error) {
	var out []*types.Dataset
	err := dbc.DB(r.db).
		Where("status IN ? AND claimed_at IS NOT NULL AND claimed_at < ?", types.WorkingStatuses(), cutoff).
		Order("claimed_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListWithActiveTTL returns REST datasets; callers filter on the decoded TTL settings since
// JSON predicates differ between dialects.
func (r *datasetRepo) ListWithActiveTTL(dbc dbctx.Context) ([]*types.Dataset, error) {
	var candidates []*types.Dataset
	if err := dbc.DB(r.db).Where("is_rest = ?", true).Find(&candidates).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Dataset, 0, len(candidates))
	for _, ds := range candidates {
		if ttl := ds.RestOptions().TTL; ttl.Active && ttl.Prop != "" {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (r *datasetRepo) Delete(dbc dbctx.Context, id string) error {
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.Dataset{}).Error
}
