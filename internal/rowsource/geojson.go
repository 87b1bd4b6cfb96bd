package rowsource

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/paulmach/orb/geojson"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/schema"
)

// GeometryKey is the field carrying the serialized feature geometry.
const GeometryKey = "geometry"

// ReadGeoJSON streams the features of a FeatureCollection without loading the whole
// document. Property values are stringified so they go through the same sniffing and
// formatting as csv cells.
func ReadGeoJSON(r io.Reader) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		dec := json.NewDecoder(r)
		if err := expectDelim(dec, '{'); err != nil {
			yield(nil, err)
			return
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				yield(nil, fmt.Errorf("read geojson: %w", err))
				return
			}
			if key, _ := tok.(string); key != "features" {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					yield(nil, fmt.Errorf("read geojson: %w", err))
					return
				}
				continue
			}
			if err := expectDelim(dec, '['); err != nil {
				yield(nil, err)
				return
			}
			for dec.More() {
				var raw json.RawMessage
				if err := dec.Decode(&raw); err != nil {
					yield(nil, fmt.Errorf("read geojson feature: %w", err))
					return
				}
				row, err := featureRow(raw)
				if !yield(row, err) {
					return
				}
			}
			if err := expectDelim(dec, ']'); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("read geojson: unexpected end of document")
		}
		return fmt.Errorf("read geojson: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("read geojson: expected %q got %v", want, tok)
	}
	return nil
}

func featureRow(raw json.RawMessage) (map[string]any, error) {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid feature: %w", err)
	}
	row := make(map[string]any, len(f.Properties)+1)
	for name, v := range f.Properties {
		if s, ok := stringify(v); ok {
			row[schema.EscapeKey(name)] = s
		}
	}
	if f.Geometry != nil {
		g, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("invalid feature geometry: %w", err)
		}
		row[GeometryKey] = string(g)
	}
	return row, nil
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// geometryField is appended to the schema of every geojson file.
func geometryField() types.Field {
	return types.Field{
		Key:          GeometryKey,
		Type:         types.TypeString,
		OriginalName: GeometryKey,
		RefersTo:     types.ConceptGeometry,
	}
}
