package schema

import (
	"strconv"
	"strings"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Format converts a raw cell to the typed value of field. Strings are parsed, already typed
// values pass through, empty strings become nil. Unparseable values are kept as strings so
// nothing is silently dropped.
func Format(raw any, field datasets.Field) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if field.Separator != "" {
		parts := strings.Split(s, field.Separator)
		out := make([]any, 0, len(parts))
		single := field
		single.Separator = ""
		for _, p := range parts {
			if v := Format(p, single); v != nil {
				out = append(out, v)
			}
		}
		return out
	}
	switch field.Type {
	case datasets.TypeBoolean:
		if b, ok := booleans[strings.ToLower(s)]; ok {
			return b
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case datasets.TypeInteger:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case datasets.TypeNumber:
		if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
			return f
		}
	case datasets.TypeString:
		switch field.Format {
		case datasets.FormatDateTime:
			if n, err := NormalizeDateTime(s); err == nil {
				return n
			}
		case datasets.FormatDate:
			if isDate(s) {
				return s
			}
		}
	}
	return s
}

// FormatRow applies Format to every schema field present in row and returns a new map.
// Keys not in the schema are dropped.
func FormatRow(row map[string]any, fields []datasets.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Calculated {
			continue
		}
		v, ok := row[f.Key]
		if !ok {
			continue
		}
		if fv := Format(v, f); fv != nil {
			out[f.Key] = fv
		}
	}
	return out
}
