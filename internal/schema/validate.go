package schema

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Validator checks row bodies against the writable part of a dataset schema.
type Validator struct {
	resolved  *jsonschema.Resolved
	dateTimes []string
	dates     []string
}

// NewValidator compiles the JSON schema of writable fields: every base field plus _id,
// no additional properties.
func NewValidator(fields []datasets.Field) (*Validator, error) {
	root := &jsonschema.Schema{
		Type:                 "object",
		Properties:           map[string]*jsonschema.Schema{datasets.KeyID: {Type: "string"}},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	v := &Validator{}
	for _, f := range Strip(fields) {
		if f.Underscored() {
			continue
		}
		root.Properties[f.Key] = &jsonschema.Schema{Types: []string{"null", jsonType(f)}}
		if f.Type == datasets.TypeString && f.Separator == "" {
			switch f.Format {
			case datasets.FormatDateTime:
				v.dateTimes = append(v.dateTimes, f.Key)
			case datasets.FormatDate:
				v.dates = append(v.dates, f.Key)
			}
		}
	}
	resolved, err := root.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve row schema: %w", err)
	}
	v.resolved = resolved
	return v, nil
}

func jsonType(f datasets.Field) string {
	if f.Separator != "" {
		return "string"
	}
	switch f.Type {
	case datasets.TypeInteger, datasets.TypeNumber, datasets.TypeBoolean, datasets.TypeObject:
		return f.Type
	default:
		return "string"
	}
}

// Validate checks body and returns a copy with date-time values normalized to the storage
// layout.
func (v *Validator) Validate(body map[string]any) (map[string]any, error) {
	for k := range body {
		if strings.HasPrefix(k, "_") && k != datasets.KeyID {
			return nil, fmt.Errorf("property %q is reserved", k)
		}
	}
	if err := v.resolved.Validate(body); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(body))
	for k, val := range body {
		out[k] = val
	}
	for _, key := range v.dateTimes {
		s, ok := out[key].(string)
		if !ok {
			continue
		}
		n, err := NormalizeDateTime(s)
		if err != nil {
			return nil, fmt.Errorf("property %q: %q is not a valid date-time", key, s)
		}
		out[key] = n
	}
	for _, key := range v.dates {
		s, ok := out[key].(string)
		if ok && !isDate(s) {
			return nil, fmt.Errorf("property %q: %q is not a valid date", key, s)
		}
	}
	return out, nil
}
