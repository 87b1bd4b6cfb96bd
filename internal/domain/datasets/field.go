package datasets

import "strings"

// Field is one column of a dataset schema.
type Field struct {
	Key             string `json:"key"`
	Type            string `json:"type"`
	Format          string `json:"format,omitempty"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	OriginalName    string `json:"x-originalName,omitempty"`
	RefersTo        string `json:"x-refersTo,omitempty"`
	Calculated      bool   `json:"x-calculated,omitempty"`
	Extension       string `json:"x-extension,omitempty"`
	Separator       string `json:"separator,omitempty"`
	IgnoreDetection bool   `json:"ignoreDetection,omitempty"`
}

const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"

	FormatDate         = "date"
	FormatDateTime     = "date-time"
	FormatURIReference = "uri-reference"
)

// Reserved keys of calculated and row meta fields.
const (
	KeyID          = "_id"
	KeyI           = "_i"
	KeyRand        = "_rand"
	KeyUpdatedAt   = "_updatedAt"
	KeyDeleted     = "_deleted"
	KeyAction      = "_action"
	KeyGeoPoint    = "_geopoint"
	KeyGeoShape    = "_geoshape"
	KeyGeoCorners  = "_geocorners"
	KeyFileContent = "_file.content"
	KeyFileType    = "_file.content_type"
	KeyFileLength  = "_file.content_length"
	KeyAttachment  = "_attachment_url"
)

// IsDateTime reports whether values of the field are normalized timestamps.
func (f Field) IsDateTime() bool {
	return f.Type == TypeString && f.Format == FormatDateTime
}

// Underscored reports whether the key belongs to the reserved namespace.
func (f Field) Underscored() bool {
	return strings.HasPrefix(f.Key, "_")
}

// FindField returns the field with key, if present.
func FindField(schema []Field, key string) (Field, bool) {
	for _, f := range schema {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// FindConcept returns the first field annotated with the given concept URI.
func FindConcept(schema []Field, concept string) (Field, bool) {
	for _, f := range schema {
		if f.RefersTo == concept {
			return f, true
		}
	}
	return Field{}, false
}
