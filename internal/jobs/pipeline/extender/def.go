package extender

import (
	"time"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/extensions"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Config struct {
	IndexPrefix string
	BatchSize   int
	// ProgressEvery bounds how often progress is persisted and published.
	ProgressEvery time.Duration
}

// Pipeline enriches indexed documents through remote services. Outputs are stored by input
// hash so unchanged inputs are never sent twice.
type Pipeline struct {
	cfg     Config
	log     *logger.Logger
	engine  search.Engine
	results datasets.ExtensionResultRepo
	catalog services.RemoteServiceCatalog
	client  extensions.Client
	metrics *observability.Metrics
}

func New(
	cfg Config,
	baseLog *logger.Logger,
	engine search.Engine,
	results datasets.ExtensionResultRepo,
	catalog services.RemoteServiceCatalog,
	client extensions.Client,
	metrics *observability.Metrics,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = time.Second
	}
	return &Pipeline{
		cfg:     cfg,
		log:     baseLog.With("job", "extender"),
		engine:  engine,
		results: results,
		catalog: catalog,
		client:  client,
		metrics: metrics,
	}
}

func (p *Pipeline) Type() string           { return "extender" }
func (p *Pipeline) Claims() []types.Status { return []types.Status{types.StatusIndexed} }
func (p *Pipeline) Working() types.Status  { return types.StatusExtending }
