package finalizer

import (
	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Config struct {
	IndexPrefix string
}

// Pipeline publishes the dataset: final count, storage totals and finalizedAt.
type Pipeline struct {
	cfg      Config
	log      *logger.Logger
	engine   search.Engine
	datasets datasets.DatasetRepo
	rows     rows.RowRepo
	storage  services.StorageService
}

func New(
	cfg Config,
	baseLog *logger.Logger,
	engine search.Engine,
	dsRepo datasets.DatasetRepo,
	rowRepo rows.RowRepo,
	storage services.StorageService,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		log:      baseLog.With("job", "finalizer"),
		engine:   engine,
		datasets: dsRepo,
		rows:     rowRepo,
		storage:  storage,
	}
}

func (p *Pipeline) Type() string           { return "finalizer" }
func (p *Pipeline) Claims() []types.Status { return []types.Status{types.StatusExtended} }
func (p *Pipeline) Working() types.Status  { return types.StatusFinalizing }
