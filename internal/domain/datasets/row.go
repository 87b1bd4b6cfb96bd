package datasets

import (
	"time"

	"gorm.io/datatypes"
)

// Row is one stored line of a REST dataset. Deleted rows stay as tombstones so the indexer
// can propagate the deletion.
type Row struct {
	DatasetID     string            `gorm:"column:dataset_id;primaryKey;index:idx_rows_dirty,priority:1" json:"-"`
	ID            string            `gorm:"column:id;primaryKey" json:"_id"`
	Data          datatypes.JSONMap `gorm:"column:data" json:"-"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"_updatedAt"`
	Deleted       bool              `gorm:"column:deleted;not null;default:false" json:"_deleted,omitempty"`
	NeedsIndexing bool              `gorm:"column:needs_indexing;not null;default:false;index:idx_rows_dirty,priority:2" json:"-"`
}

func (Row) TableName() string { return "dataset_rows" }

// Document returns the row attributes plus _id and _updatedAt.
func (r *Row) Document() map[string]any {
	out := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out[KeyID] = r.ID
	out[KeyUpdatedAt] = FormatTimestamp(r.UpdatedAt)
	return out
}

// Revision is an immutable snapshot of a row after one mutation.
type Revision struct {
	ID        uint              `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	DatasetID string            `gorm:"column:dataset_id;not null;uniqueIndex:idx_revisions_line,priority:1" json:"-"`
	LineID    string            `gorm:"column:line_id;not null;uniqueIndex:idx_revisions_line,priority:2" json:"_lineId"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null;uniqueIndex:idx_revisions_line,priority:3;autoUpdateTime:false" json:"_updatedAt"`
	Deleted   bool              `gorm:"column:deleted;not null;default:false" json:"_deleted,omitempty"`
	Data      datatypes.JSONMap `gorm:"column:data" json:"-"`
}

func (Revision) TableName() string { return "dataset_revisions" }

// Document returns the snapshot attributes with revision meta fields.
func (r *Revision) Document() map[string]any {
	out := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["_lineId"] = r.LineID
	out[KeyUpdatedAt] = FormatTimestamp(r.UpdatedAt)
	if r.Deleted {
		out[KeyDeleted] = true
	}
	return out
}

// TimestampLayout is the fixed-width UTC layout used for row timestamps and normalized
// date-time attributes. Fixed width keeps lexical and chronological order identical.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Now returns the current time at row timestamp precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(TimestampLayout)
}

type JournalEvent struct {
	ID        uint           `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	DatasetID string         `gorm:"column:dataset_id;not null;index" json:"datasetId"`
	Type      string         `gorm:"column:type;not null" json:"type"`
	Message   string         `gorm:"column:message;not null;default:''" json:"message,omitempty"`
	Data      datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index" json:"date"`
}

func (JournalEvent) TableName() string { return "journal_events" }

// Journal event types.
const (
	EventDatasetCreated = "dataset-created"
	EventStageStart     = "stage-start"
	EventStageEnd       = "stage-end"
	EventError          = "error"
	EventExtendStart    = "extend-start"
	EventExtendEnd      = "extend-end"
	EventExtendError    = "extend-error"
	EventFinalizeEnd    = "finalize-end"
	EventStatusRewound  = "status-rewound"
	EventStaleClaim     = "stale-claim"
)

const (
	// LimitUnlimited disables the storage quota of an owner.
	LimitUnlimited int64 = -1
	// LimitUnset defers to the configured default limit.
	LimitUnset int64 = -2
)

// OwnerLimit tracks storage consumption against a per-owner limit.
type OwnerLimit struct {
	OwnerType       string    `gorm:"column:owner_type;primaryKey" json:"ownerType"`
	OwnerID         string    `gorm:"column:owner_id;primaryKey" json:"ownerId"`
	StoreBytesLimit int64     `gorm:"column:store_bytes_limit;not null" json:"storeBytesLimit"`
	StoreBytesUsed  int64     `gorm:"column:store_bytes_used;not null;default:0" json:"storeBytesUsed"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (OwnerLimit) TableName() string { return "owner_limits" }
