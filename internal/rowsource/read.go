package rowsource

import (
	"context"
	"fmt"
	"io"
	"iter"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
)

// Rows streams the raw rows of an analyzed file.
func Rows(r io.Reader, file *types.FileInfo) iter.Seq2[map[string]any, error] {
	switch file.MimeType {
	case types.MimeCSV:
		return ReadCSV(NewReader(r, file.Encoding), file.Props, file.Schema)
	case types.MimeGeoJSON:
		return ReadGeoJSON(r)
	default:
		return func(yield func(map[string]any, error) bool) {
			yield(nil, fmt.Errorf("unsupported file type %q", file.MimeType))
		}
	}
}

// Read downloads the data file of ds and streams its rows. The blob is closed when the
// iteration stops.
func Read(ctx context.Context, bucket gcp.BucketService, ds *types.Dataset) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		file := ds.FileInfo()
		if file == nil {
			yield(nil, fmt.Errorf("dataset %s has no data file", ds.ID))
			return
		}
		rc, err := bucket.DownloadFile(ctx, gcp.BucketCategoryDatasets, ds.DataFileKey())
		if err != nil {
			yield(nil, fmt.Errorf("download data file: %w", err))
			return
		}
		defer rc.Close()
		for row, err := range Rows(rc, file) {
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}
