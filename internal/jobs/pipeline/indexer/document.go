package indexer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/geo"
	"github.com/yungbote/dataset-engine/internal/schema"
)

const randRange = 1_000_000

// LineID is the identifier of the i-th line of a file dataset. It only depends on the
// dataset and the line position so rebuilding an unchanged file yields the same ids.
func LineID(datasetID string, i int64) string {
	return strconv.FormatUint(xxhash.Sum64String(datasetID+"/"+strconv.FormatInt(i, 10)), 36)
}

func randOf(id string) int64 {
	return int64(xxhash.Sum64String(id) % randRange)
}

type builder struct {
	fields []types.Field
	geo    bool
	bbox   geo.BBox
}

func newBuilder(fields []types.Field) *builder {
	return &builder{fields: fields, geo: schema.HasGeo(fields)}
}

// document formats a raw row and adds the calculated fields. updatedAt is empty for file
// datasets.
func (b *builder) document(raw map[string]any, id string, i int64, updatedAt string) (map[string]any, error) {
	doc := schema.FormatRow(raw, b.fields)
	doc[types.KeyID] = id
	doc[types.KeyI] = i
	doc[types.KeyRand] = randOf(id)
	if updatedAt != "" {
		doc[types.KeyUpdatedAt] = updatedAt
	}
	if b.geo {
		d, err := geo.Derive(doc, b.fields)
		switch {
		case errors.Is(err, geo.ErrNoGeometry):
		case err != nil:
			return nil, fmt.Errorf("line %s: %w", id, err)
		default:
			d.Apply(doc)
			b.bbox.Add(d.Bound)
		}
	}
	return doc, nil
}

// restDocument builds the document of a stored row. Its line number is its write time in
// microseconds so full and incremental builds agree on it.
func (b *builder) restDocument(row *types.Row) (map[string]any, error) {
	return b.document(row.Data, row.ID, row.UpdatedAt.UnixMicro(), types.FormatTimestamp(row.UpdatedAt))
}

func boundOf(b []float64) orb.Bound {
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}
