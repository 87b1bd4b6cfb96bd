package schematizer

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"strings"

	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/rowsource"
	"github.com/yungbote/dataset-engine/internal/schema"
	"github.com/yungbote/dataset-engine/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	file := ds.FileInfo()
	if file == nil || len(file.Schema) == 0 {
		return fmt.Errorf("dataset file was not analyzed")
	}
	sample, total, err := Reservoir(rowsource.Read(jc.Ctx, p.bucket, ds), SampleSize)
	if err != nil {
		return err
	}
	current := schema.Strip(ds.SchemaFields())
	sniffed := Detect(file.Schema, current, sample)
	merged := schema.Merge(sniffed, current)

	catalog, err := p.catalog.All(jc.Ctx)
	if err != nil {
		return fmt.Errorf("load remote services: %w", err)
	}
	full := services.FullSchema(merged, ds.Extensions, catalog, ds.IsRest)
	jc.Log.Info("schema computed", "fields", len(full), "sampled", len(sample), "rows", total)
	return jc.Commit(types.StatusSchematized, map[string]interface{}{
		"schema": datatypes.JSONSlice[types.Field](full),
	})
}

// Reservoir keeps a uniform random sample of at most size rows from the stream and counts
// every row seen.
func Reservoir(rows iter.Seq2[map[string]any, error], size int) ([]map[string]any, int, error) {
	sample := make([]map[string]any, 0, size)
	seen := 0
	for row, err := range rows {
		if err != nil {
			return nil, seen, err
		}
		seen++
		if len(sample) < size {
			sample = append(sample, row)
			continue
		}
		if j := rand.IntN(seen); j < size {
			sample[j] = row
		}
	}
	return sample, seen, nil
}

// Detect sniffs a type for each file column. Columns the current schema marks with
// ignoreDetection stay strings, separators split values before sniffing.
func Detect(fileFields, current []types.Field, sample []map[string]any) []types.Field {
	out := make([]types.Field, 0, len(fileFields))
	for _, f := range fileFields {
		prev, known := types.FindField(current, f.Key)
		field := f
		if known && prev.IgnoreDetection {
			field.Type, field.Format = types.TypeString, ""
			out = append(out, field)
			continue
		}
		if f.RefersTo != "" {
			out = append(out, schema.ApplyConcept(field))
			continue
		}
		values := make([]string, 0, len(sample))
		for _, row := range sample {
			s, ok := row[f.Key].(string)
			if !ok {
				continue
			}
			if known && prev.Separator != "" {
				values = append(values, strings.Split(s, prev.Separator)...)
				continue
			}
			values = append(values, s)
		}
		field.Type, field.Format = schema.Sniff(values)
		out = append(out, field)
	}
	return out
}
