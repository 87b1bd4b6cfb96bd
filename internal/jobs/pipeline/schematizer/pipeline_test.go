package schematizer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/rowsource"
)

const catalogYAML = `
services:
  - id: geocoder
    title: Geocoder
    server: http://geocoder.local
    actions:
      - id: coords
        path: /coords
        input:
          - name: q
            concept: http://schema.org/address
        output:
          - name: lat
            concept: http://schema.org/latitude
            type: number
          - name: lon
            concept: http://schema.org/longitude
            type: number
`

func analyzed(t *testing.T, bucket gcp.BucketService, id, body string, current []types.Field, exts []types.Extension) *types.Dataset {
	t.Helper()
	ctx := context.Background()
	if _, err := bucket.UploadFile(ctx, gcp.BucketCategoryDatasets, types.OriginalFileKey(id, id+".csv"), strings.NewReader(body)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	info := &types.FileInfo{Name: id + ".csv", MimeType: types.MimeCSV}
	a, err := rowsource.Analyze(strings.NewReader(body), types.MimeCSV, types.AnalysisOptions{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	file := *info
	file.Encoding, file.Props, file.Schema = a.Encoding, a.Props, a.Schema
	return &types.Dataset{
		ID:           id,
		Status:       types.StatusAnalyzed,
		OriginalFile: datatypes.NewJSONType(info),
		File:         datatypes.NewJSONType(&file),
		Schema:       datatypes.JSONSlice[types.Field](current),
		Extensions:   datatypes.JSONSlice[types.Extension](exts),
	}
}

func TestSchematize(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	bucket := gcp.NewMemoryBucket()
	body := "produit;prix;quantite;date;adresse;code\npain;1,10;3;2024-01-02;1 rue A;01000\nlait;0,95;12;2024-02-03;2 rue B;02000\n"
	current := []types.Field{
		{Key: "produit", Type: types.TypeString, Title: "Produit vendu"},
		{Key: "code", Type: types.TypeString, IgnoreDetection: true},
		{Key: "adresse", Type: types.TypeString, RefersTo: types.ConceptAddress},
		{Key: "disparu", Type: types.TypeString},
	}
	exts := []types.Extension{{RemoteService: "geocoder", Action: "coords", Active: true}}
	ds := analyzed(t, bucket, "ventes", body, current, exts)

	env.SeedCatalog(t, catalogYAML)
	p := New(env.Log, bucket, env.Catalog)
	if err := p.Run(env.Claimed(t, ds, types.StatusSchematizing)); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := env.Reload(t, "ventes")
	if got.Status != types.StatusSchematized {
		t.Fatalf("status: want=%s got=%s", types.StatusSchematized, got.Status)
	}
	fields := got.SchemaFields()
	want := map[string]string{
		"produit":  types.TypeString,
		"prix":     types.TypeNumber,
		"quantite": types.TypeInteger,
		"code":     types.TypeString,
	}
	for key, typ := range want {
		f, ok := types.FindField(fields, key)
		if !ok || f.Type != typ {
			t.Fatalf("field %s: want type=%s got=%+v", key, typ, f)
		}
	}
	if f, _ := types.FindField(fields, "date"); f.Format != types.FormatDate {
		t.Fatalf("date format: want=%s got=%+v", types.FormatDate, f)
	}
	if f, _ := types.FindField(fields, "produit"); f.Title != "Produit vendu" {
		t.Fatalf("annotation lost: %+v", f)
	}
	if _, ok := types.FindField(fields, "disparu"); ok {
		t.Fatalf("removed column must be dropped")
	}
	extKey := types.ExtensionKey("geocoder", "coords")
	if f, ok := types.FindField(fields, extKey+".lat"); !ok || f.Extension == "" {
		t.Fatalf("extension output missing: %+v", fields)
	}
	for _, key := range []string{types.KeyID, types.KeyI, types.KeyRand} {
		if f, ok := types.FindField(fields, key); !ok || !f.Calculated {
			t.Fatalf("calculated field %s missing", key)
		}
	}
}

func TestReservoirBounds(t *testing.T) {
	rows := func(yield func(map[string]any, error) bool) {
		for i := 0; i < 10000; i++ {
			if !yield(map[string]any{"i": fmt.Sprint(i)}, nil) {
				return
			}
		}
	}
	sample, total, err := Reservoir(rows, SampleSize)
	if err != nil {
		t.Fatalf("reservoir: %v", err)
	}
	if total != 10000 || len(sample) != SampleSize {
		t.Fatalf("reservoir: want total=10000 size=%d got total=%d size=%d", SampleSize, total, len(sample))
	}
	small, total, _ := Reservoir(func(yield func(map[string]any, error) bool) {
		yield(map[string]any{"i": "1"}, nil)
	}, SampleSize)
	if total != 1 || len(small) != 1 {
		t.Fatalf("small stream: total=%d size=%d", total, len(small))
	}
}

func TestDetectSplitsOnSeparator(t *testing.T) {
	fileFields := []types.Field{{Key: "tags", Type: types.TypeString}}
	current := []types.Field{{Key: "tags", Type: types.TypeString, Separator: "|"}}
	sample := []map[string]any{{"tags": "1|2|3"}, {"tags": "4"}}
	got := Detect(fileFields, current, sample)
	if got[0].Type != types.TypeInteger {
		t.Fatalf("separated values: want=%s got=%s", types.TypeInteger, got[0].Type)
	}
}
