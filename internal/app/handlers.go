package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/http"
	httpH "github.com/yungbote/dataset-engine/internal/http/handlers"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Dataset  *httpH.DatasetHandler
	Lines    *httpH.LinesHandler
	Search   *httpH.SearchHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, clients Clients, services Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := clients.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if clients.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() }
	}
	return Handlers{
		Health:   httpH.NewHealthHandler(checks),
		Dataset:  httpH.NewDatasetHandler(services.Datasets, services.Storage),
		Lines:    httpH.NewLinesHandler(log, services.Datasets, services.Rows),
		Search:   httpH.NewSearchHandler(services.Query),
		Realtime: httpH.NewRealtimeHandler(log, hub, services.Datasets),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	if cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.Otel.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		DatasetHandler:  handlers.Dataset,
		LinesHandler:    handlers.Lines,
		SearchHandler:   handlers.Search,
		RealtimeHandler: handlers.Realtime,
		HealthHandler:   handlers.Health,
	})
}
