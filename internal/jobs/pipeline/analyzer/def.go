package analyzer

import (
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// Pipeline detects encoding, csv properties and raw columns of the data file.
type Pipeline struct {
	log    *logger.Logger
	bucket gcp.BucketService
}

func New(baseLog *logger.Logger, bucket gcp.BucketService) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", "analyzer"),
		bucket: bucket,
	}
}

func (p *Pipeline) Type() string           { return "analyzer" }
func (p *Pipeline) Claims() []types.Status { return []types.Status{types.StatusLoaded} }
func (p *Pipeline) Working() types.Status  { return types.StatusAnalyzing }
