package schematizer

import (
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

// SampleSize is the number of rows type detection looks at.
const SampleSize = 4000

type Pipeline struct {
	log     *logger.Logger
	bucket  gcp.BucketService
	catalog services.RemoteServiceCatalog
}

func New(baseLog *logger.Logger, bucket gcp.BucketService, catalog services.RemoteServiceCatalog) *Pipeline {
	return &Pipeline{
		log:     baseLog.With("job", "schematizer"),
		bucket:  bucket,
		catalog: catalog,
	}
}

func (p *Pipeline) Type() string           { return "schematizer" }
func (p *Pipeline) Claims() []types.Status { return []types.Status{types.StatusAnalyzed} }
func (p *Pipeline) Working() types.Status  { return types.StatusSchematizing }
