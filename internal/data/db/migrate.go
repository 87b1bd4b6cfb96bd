package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&datasets.Dataset{},
		&datasets.Row{},
		&datasets.Revision{},
		&datasets.JournalEvent{},
		&datasets.RemoteService{},
		&datasets.ExtensionResult{},
		&datasets.OwnerLimit{},
	)
}
