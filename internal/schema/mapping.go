package schema

import (
	"reflect"
	"strings"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Mapping builds the search engine index definition for fields. Dotted keys become nested
// object properties. _id is a metadata field of the engine and is not mapped.
func Mapping(fields []datasets.Field) map[string]any {
	props := map[string]any{}
	for _, f := range fields {
		if f.Key == datasets.KeyID {
			continue
		}
		setProperty(props, strings.Split(f.Key, "."), fieldMapping(f))
	}
	return map[string]any{
		"dynamic":    "strict",
		"properties": props,
	}
}

func setProperty(props map[string]any, path []string, leaf map[string]any) {
	if len(path) == 1 {
		props[path[0]] = leaf
		return
	}
	obj, ok := props[path[0]].(map[string]any)
	if !ok || obj["properties"] == nil {
		obj = map[string]any{"type": "object", "properties": map[string]any{}}
		props[path[0]] = obj
	}
	setProperty(obj["properties"].(map[string]any), path[1:], leaf)
}

func fieldMapping(f datasets.Field) map[string]any {
	switch f.Key {
	case datasets.KeyGeoPoint:
		return map[string]any{"type": "geo_point"}
	case datasets.KeyGeoShape:
		return map[string]any{"type": "geo_shape"}
	case datasets.KeyGeoCorners:
		return map[string]any{"type": "geo_point", "index": false}
	case datasets.KeyFileContent:
		return map[string]any{"type": "text"}
	case datasets.KeyRand:
		return map[string]any{"type": "integer"}
	}
	switch f.Type {
	case datasets.TypeInteger:
		return map[string]any{"type": "long"}
	case datasets.TypeNumber:
		return map[string]any{"type": "double"}
	case datasets.TypeBoolean:
		return map[string]any{"type": "boolean"}
	case datasets.TypeObject:
		return map[string]any{"type": "object", "enabled": false}
	}
	switch f.Format {
	case datasets.FormatDate:
		return map[string]any{"type": "date", "format": "yyyy-MM-dd"}
	case datasets.FormatDateTime:
		return map[string]any{"type": "date"}
	case datasets.FormatURIReference:
		return map[string]any{"type": "keyword", "ignore_above": 512}
	}
	return map[string]any{
		"type":         "keyword",
		"ignore_above": 256,
		"fields": map[string]any{
			"text": map[string]any{"type": "text"},
		},
	}
}

// SameMapping reports whether two field lists produce identical index definitions.
func SameMapping(a, b []datasets.Field) bool {
	return reflect.DeepEqual(Mapping(a), Mapping(b))
}
