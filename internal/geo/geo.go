// Package geo derives the calculated geo fields of a document from its concept-annotated
// columns.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

var ErrNoGeometry = errors.New("no geometry")

// Derived holds calculated geo values of one document.
type Derived struct {
	Point   string
	Shape   map[string]any
	Corners []string
	Bound   orb.Bound
}

// Apply writes the derived values onto doc.
func (d Derived) Apply(doc map[string]any) {
	doc[datasets.KeyGeoPoint] = d.Point
	doc[datasets.KeyGeoShape] = d.Shape
	doc[datasets.KeyGeoCorners] = d.Corners
}

// Derive computes the geo fields of doc. ErrNoGeometry is returned when the row has no
// usable coordinates; other errors describe malformed values.
func Derive(doc map[string]any, fields []datasets.Field) (Derived, error) {
	g, err := geometryOf(doc, fields)
	if err != nil {
		return Derived{}, err
	}
	centroid, _ := planar.CentroidArea(g)
	bound := g.Bound()
	raw, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return Derived{}, fmt.Errorf("encode geometry: %w", err)
	}
	shape := map[string]any{}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return Derived{}, fmt.Errorf("decode geometry: %w", err)
	}
	return Derived{
		Point: latLon(centroid),
		Shape: shape,
		Corners: []string{
			latLon(bound.Min),
			latLon(orb.Point{bound.Min.Lon(), bound.Max.Lat()}),
			latLon(bound.Max),
			latLon(orb.Point{bound.Max.Lon(), bound.Min.Lat()}),
		},
		Bound: bound,
	}, nil
}

func geometryOf(doc map[string]any, fields []datasets.Field) (orb.Geometry, error) {
	if f, ok := datasets.FindConcept(fields, datasets.ConceptGeometry); ok {
		v, present := doc[f.Key]
		if present && v != nil && v != "" {
			return parseGeometry(v)
		}
	}
	if f, ok := datasets.FindConcept(fields, datasets.ConceptLatLon); ok {
		if s, _ := doc[f.Key].(string); s != "" {
			return parseLatLon(s)
		}
	}
	latField, okLat := datasets.FindConcept(fields, datasets.ConceptLatitude)
	lonField, okLon := datasets.FindConcept(fields, datasets.ConceptLongitude)
	if okLat && okLon {
		lat, errLat := toFloat(doc[latField.Key])
		lon, errLon := toFloat(doc[lonField.Key])
		if errors.Is(errLat, ErrNoGeometry) || errors.Is(errLon, ErrNoGeometry) {
			return nil, ErrNoGeometry
		}
		if errLat != nil {
			return nil, errLat
		}
		if errLon != nil {
			return nil, errLon
		}
		return checkPoint(orb.Point{lon, lat})
	}
	return nil, ErrNoGeometry
}

func parseGeometry(v any) (orb.Geometry, error) {
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("geometry: %w", err)
		}
		raw = b
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	if g.Geometry() == nil {
		return nil, ErrNoGeometry
	}
	return g.Geometry(), nil
}

func parseLatLon(s string) (orb.Geometry, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid lat,lon value %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in %q", s)
	}
	return checkPoint(orb.Point{lon, lat})
}

func checkPoint(p orb.Point) (orb.Geometry, error) {
	if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
		return nil, fmt.Errorf("coordinates out of range: %v,%v", p.Lat(), p.Lon())
	}
	return p, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, ErrNoGeometry
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, ErrNoGeometry
		}
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(t), ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid coordinate %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid coordinate %v", v)
	}
}

func latLon(p orb.Point) string {
	return strconv.FormatFloat(p.Lat(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', -1, 64)
}

// BBox accumulates the bounding box of every derived geometry.
type BBox struct {
	bound orb.Bound
	set   bool
}

func (b *BBox) Add(bound orb.Bound) {
	if !b.set {
		b.bound, b.set = bound, true
		return
	}
	b.bound = b.bound.Union(bound)
}

// Values returns [minLon, minLat, maxLon, maxLat], or nil when nothing was added.
func (b *BBox) Values() []float64 {
	if !b.set {
		return nil
	}
	return []float64{b.bound.Min.Lon(), b.bound.Min.Lat(), b.bound.Max.Lon(), b.bound.Max.Lat()}
}
