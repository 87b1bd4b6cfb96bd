package indexer

import (
	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Config struct {
	IndexPrefix string
	BatchSize   int
}

// Pipeline builds the search index of a dataset. Schematized datasets get a new physical
// index swapped in behind the alias, updated REST datasets get their dirty rows written
// into the live index.
type Pipeline struct {
	cfg     Config
	log     *logger.Logger
	bucket  gcp.BucketService
	engine  search.Engine
	rows    services.RowStore
	results datasets.ExtensionResultRepo
	catalog services.RemoteServiceCatalog
}

func New(
	cfg Config,
	baseLog *logger.Logger,
	bucket gcp.BucketService,
	engine search.Engine,
	rows services.RowStore,
	results datasets.ExtensionResultRepo,
	catalog services.RemoteServiceCatalog,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Pipeline{
		cfg:     cfg,
		log:     baseLog.With("job", "indexer"),
		bucket:  bucket,
		engine:  engine,
		rows:    rows,
		results: results,
		catalog: catalog,
	}
}

func (p *Pipeline) Type() string { return "indexer" }
func (p *Pipeline) Claims() []types.Status {
	return []types.Status{types.StatusSchematized, types.StatusUpdated}
}
func (p *Pipeline) Working() types.Status { return types.StatusIndexing }
