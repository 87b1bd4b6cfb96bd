package analyzer

import (
	"fmt"

	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/rowsource"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	file := ds.FileInfo()
	if file == nil {
		return fmt.Errorf("dataset has no data file")
	}
	rc, err := p.bucket.DownloadFile(jc.Ctx, gcp.BucketCategoryDatasets, ds.DataFileKey())
	if err != nil {
		return fmt.Errorf("download data file: %w", err)
	}
	defer rc.Close()

	a, err := rowsource.Analyze(rc, file.MimeType, ds.AnalysisOptions())
	if err != nil {
		return fmt.Errorf("analyze %s: %w", file.Name, err)
	}
	next := *file
	next.Encoding = a.Encoding
	next.Props = a.Props
	next.Schema = a.Schema
	jc.Log.Info("file analyzed",
		"encoding", a.Encoding,
		"lines", a.Props.NumLines,
		"columns", len(a.Schema),
	)
	return jc.Commit(types.StatusAnalyzed, map[string]interface{}{"file": datatypes.NewJSONType(&next)})
}
