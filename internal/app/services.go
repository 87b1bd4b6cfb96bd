package app

import (
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

type Services struct {
	Notifier services.Notifier
	Storage  services.StorageService
	Catalog  services.RemoteServiceCatalog
	Rows     services.RowStore
	Datasets services.DatasetService
	Query    services.QueryService
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, repos Repos) Services {
	log.Info("Wiring services...")
	notifier := services.NewNotifier(repos.Journal, clients.Bus, log)
	storage := services.NewStorageService(repos.Dataset, repos.Row, repos.Revision, repos.OwnerLimit, cfg.DefaultStorageLimit, log)
	catalog := services.NewRemoteServiceCatalog(repos.RemoteService, log)
	rowStore := services.NewRowStore(clients.DB, repos.Dataset, repos.Row, repos.Revision, storage, notifier, log)

	datasets := services.NewDatasetService(services.DatasetConfig{IndexPrefix: cfg.IndexPrefix}, services.DatasetServiceDeps{
		DB:        clients.DB,
		Datasets:  repos.Dataset,
		Rows:      repos.Row,
		Revisions: repos.Revision,
		Journal:   repos.Journal,
		Results:   repos.ExtensionResult,
		Catalog:   catalog,
		Engine:    clients.Engine,
		Bucket:    clients.Bucket,
		Cache:     clients.Cache,
		Storage:   storage,
		Notifier:  notifier,
	}, log)
	query := services.NewQueryService(services.QueryConfig{IndexPrefix: cfg.IndexPrefix},
		repos.Dataset, clients.Engine, clients.Cache, notifier, log)

	return Services{
		Notifier: notifier,
		Storage:  storage,
		Catalog:  catalog,
		Rows:     rowStore,
		Datasets: datasets,
		Query:    query,
	}
}
