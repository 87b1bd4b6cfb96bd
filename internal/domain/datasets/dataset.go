package datasets

import (
	"time"

	"gorm.io/datatypes"
)

type Dataset struct {
	ID          string `gorm:"column:id;primaryKey" json:"id"`
	Title       string `gorm:"column:title;not null;default:''" json:"title"`
	Description string `gorm:"column:description;not null;default:''" json:"description,omitempty"`
	OwnerType   string `gorm:"column:owner_type;not null;index:idx_datasets_owner,priority:1" json:"ownerType"`
	OwnerID     string `gorm:"column:owner_id;not null;index:idx_datasets_owner,priority:2" json:"ownerId"`

	IsRest    bool `gorm:"column:is_rest;not null;default:false" json:"isRest"`
	IsVirtual bool `gorm:"column:is_virtual;not null;default:false" json:"isVirtual"`

	Status        Status     `gorm:"column:status;not null;index" json:"status"`
	ClaimedFrom   Status     `gorm:"column:claimed_from;not null;default:''" json:"-"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at;index" json:"-"`
	ClaimAttempts int        `gorm:"column:claim_attempts;not null;default:0" json:"-"`
	ErrorMessage  string     `gorm:"column:error_message;not null;default:''" json:"errorMessage,omitempty"`

	Schema       datatypes.JSONSlice[Field]          `gorm:"column:schema" json:"schema"`
	File         datatypes.JSONType[*FileInfo]       `gorm:"column:file" json:"file,omitempty"`
	OriginalFile datatypes.JSONType[*FileInfo]       `gorm:"column:original_file" json:"originalFile,omitempty"`
	Analysis     datatypes.JSONType[AnalysisOptions] `gorm:"column:analysis" json:"analysis"`
	Rest         datatypes.JSONType[RestOptions]     `gorm:"column:rest" json:"rest"`
	Virtual      datatypes.JSONType[VirtualOptions]  `gorm:"column:virtual" json:"virtual"`
	Extensions   datatypes.JSONSlice[Extension]      `gorm:"column:extensions" json:"extensions"`
	Storage      datatypes.JSONType[StorageInfo]     `gorm:"column:storage" json:"storage"`
	BBox         datatypes.JSONSlice[float64]        `gorm:"column:bbox" json:"bbox,omitempty"`

	Count       int64      `gorm:"column:count;not null;default:0" json:"count"`
	FinalizedAt *time.Time `gorm:"column:finalized_at" json:"finalizedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;index" json:"updatedAt"`
}

func (Dataset) TableName() string { return "datasets" }

// FileInfo describes a stored blob and what the analyzer learned about it.
type FileInfo struct {
	Name     string     `json:"name"`
	Size     int64      `json:"size"`
	MimeType string     `json:"mimetype"`
	Encoding string     `json:"encoding,omitempty"`
	Props    *FileProps `json:"props,omitempty"`
	Schema   []Field    `json:"schema,omitempty"`
}

// FileProps are parsing properties detected for csv files.
type FileProps struct {
	NumLines        int    `json:"numLines"`
	LinesDelimiter  string `json:"linesDelimiter,omitempty"`
	FieldsDelimiter string `json:"fieldsDelimiter,omitempty"`
	EscapeChar      string `json:"escapeChar,omitempty"`
	HasHeader       bool   `json:"hasHeader"`
}

// AnalysisOptions are client overrides of automatic detection.
type AnalysisOptions struct {
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	NoHeader  bool   `json:"noHeader,omitempty"`
}

type RestOptions struct {
	History bool      `json:"history"`
	TTL     TTLConfig `json:"ttl"`
}

type TTLConfig struct {
	Active    bool       `json:"active"`
	Prop      string     `json:"prop"`
	Delay     TTLDelay   `json:"delay"`
	CheckedAt *time.Time `json:"checkedAt,omitempty"`
}

type TTLDelay struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// Duration converts the delay to a time.Duration. Unknown units count as days.
func (d TTLDelay) Duration() time.Duration {
	v := time.Duration(d.Value)
	switch d.Unit {
	case "seconds":
		return v * time.Second
	case "minutes":
		return v * time.Minute
	case "hours":
		return v * time.Hour
	case "weeks":
		return v * 7 * 24 * time.Hour
	default:
		return v * 24 * time.Hour
	}
}

type VirtualOptions struct {
	Children []string `json:"children,omitempty"`
}

type StorageInfo struct {
	Size           int64 `json:"size"`
	FileSize       int64 `json:"fileSize"`
	CollectionSize int64 `json:"collectionSize"`
	RevisionsSize  int64 `json:"revisionsSize"`
}

// Owner identifies the account a dataset and its storage quota belong to.
type Owner struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (d *Dataset) Owner() Owner { return Owner{Type: d.OwnerType, ID: d.OwnerID} }

// SchemaFields returns the dataset schema as a plain slice.
func (d *Dataset) SchemaFields() []Field {
	return []Field(d.Schema)
}

func (d *Dataset) FileInfo() *FileInfo         { return d.File.Data() }
func (d *Dataset) OriginalFileInfo() *FileInfo { return d.OriginalFile.Data() }
func (d *Dataset) RestOptions() RestOptions    { return d.Rest.Data() }
func (d *Dataset) VirtualOptions() VirtualOptions {
	return d.Virtual.Data()
}
func (d *Dataset) AnalysisOptions() AnalysisOptions { return d.Analysis.Data() }
func (d *Dataset) StorageInfo() StorageInfo         { return d.Storage.Data() }

// StartStatus is where a full re-run of the pipeline begins for this row source.
func (d *Dataset) StartStatus() Status {
	switch {
	case d.IsVirtual:
		return StatusIndexed
	case d.IsRest:
		return StatusSchematized
	}
	if orig := d.OriginalFileInfo(); orig != nil && !IsBaseMimeType(orig.MimeType) {
		return StatusUploaded
	}
	return StatusLoaded
}

// AliasName is the stable search alias for the dataset.
func AliasName(prefix, datasetID string) string {
	return prefix + "dataset-" + datasetID
}

const (
	MimeCSV     = "text/csv"
	MimeGeoJSON = "application/geo+json"
	MimeGzip    = "application/gzip"
	MimeZip     = "application/zip"
)

// IsBaseMimeType reports whether the analyzer can read the format without conversion.
func IsBaseMimeType(mime string) bool {
	return mime == MimeCSV || mime == MimeGeoJSON
}

// BlobPrefix is the directory holding every blob of the dataset.
func BlobPrefix(datasetID string) string { return datasetID + "/" }

// OriginalFileKey is where the uploaded file is kept untouched.
func OriginalFileKey(datasetID, name string) string {
	return BlobPrefix(datasetID) + "original/" + name
}

// FileKey is where the converted, analyzable file lives.
func FileKey(datasetID, name string) string {
	return BlobPrefix(datasetID) + "converted/" + name
}

// DataFileKey is the blob key of the file the analyzer and indexer read, empty before
// conversion.
func (d *Dataset) DataFileKey() string {
	f := d.FileInfo()
	if f == nil {
		return ""
	}
	if orig := d.OriginalFileInfo(); orig != nil && IsBaseMimeType(orig.MimeType) {
		return OriginalFileKey(d.ID, orig.Name)
	}
	return FileKey(d.ID, f.Name)
}
