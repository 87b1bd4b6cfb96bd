package converter

import (
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// Pipeline unpacks uploaded archives into an analyzable csv or geojson file.
type Pipeline struct {
	log    *logger.Logger
	bucket gcp.BucketService
}

func New(baseLog *logger.Logger, bucket gcp.BucketService) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", "converter"),
		bucket: bucket,
	}
}

func (p *Pipeline) Type() string           { return "converter" }
func (p *Pipeline) Claims() []types.Status { return []types.Status{types.StatusUploaded} }
func (p *Pipeline) Working() types.Status  { return types.StatusConverting }
