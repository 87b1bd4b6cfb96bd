package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type Repos struct {
	Dataset         datasets.DatasetRepo
	Journal         datasets.JournalRepo
	ExtensionResult datasets.ExtensionResultRepo
	RemoteService   datasets.RemoteServiceRepo
	OwnerLimit      datasets.OwnerLimitRepo
	Row             rows.RowRepo
	Revision        rows.RevisionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Dataset:         datasets.NewDatasetRepo(db, log),
		Journal:         datasets.NewJournalRepo(db, log),
		ExtensionResult: datasets.NewExtensionResultRepo(db, log),
		RemoteService:   datasets.NewRemoteServiceRepo(db, log),
		OwnerLimit:      datasets.NewOwnerLimitRepo(db, log),
		Row:             rows.NewRowRepo(db, log),
		Revision:        rows.NewRevisionRepo(db, log),
	}
}
