package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/dataset-engine/internal/http/handlers"
	httpMW "github.com/yungbote/dataset-engine/internal/http/middleware"
	"github.com/yungbote/dataset-engine/internal/observability"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	DatasetHandler  *httpH.DatasetHandler
	LinesHandler    *httpH.LinesHandler
	SearchHandler   *httpH.SearchHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics", "/api/v1/datasets/:id/events"))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readiness", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api/v1")
	{
		// Datasets
		if cfg.DatasetHandler != nil {
			api.POST("/datasets", cfg.DatasetHandler.Create)
			api.GET("/datasets", cfg.DatasetHandler.List)
			api.GET("/datasets/:id", cfg.DatasetHandler.Get)
			api.PATCH("/datasets/:id", cfg.DatasetHandler.Patch)
			api.DELETE("/datasets/:id", cfg.DatasetHandler.Delete)
			api.PUT("/datasets/:id/file", cfg.DatasetHandler.ReplaceFile)
			api.GET("/datasets/:id/journal", cfg.DatasetHandler.Journal)
			api.GET("/limits/:type/:id", cfg.DatasetHandler.Usage)
		}

		// Rows
		if cfg.LinesHandler != nil {
			api.POST("/datasets/:id/lines", cfg.LinesHandler.Create)
			api.GET("/datasets/:id/lines/:lineId", cfg.LinesHandler.Get)
			api.PUT("/datasets/:id/lines/:lineId", cfg.LinesHandler.Update)
			api.PATCH("/datasets/:id/lines/:lineId", cfg.LinesHandler.Patch)
			api.DELETE("/datasets/:id/lines/:lineId", cfg.LinesHandler.Delete)
			api.GET("/datasets/:id/lines/:lineId/revisions", cfg.LinesHandler.Revisions)
			api.POST("/datasets/:id/_bulk_lines", cfg.LinesHandler.Bulk)
		}

		// Reads of the published index
		if cfg.SearchHandler != nil {
			api.GET("/datasets/:id/lines", cfg.SearchHandler.Lines)
			api.GET("/datasets/:id/values/:field", cfg.SearchHandler.Values)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/datasets/:id/events", cfg.RealtimeHandler.Stream)
		}
	}

	admin := api.Group("/admin")
	{
		if cfg.DatasetHandler != nil {
			admin.POST("/datasets/:id/_advance", cfg.DatasetHandler.Advance)
			admin.POST("/datasets/:id/_reindex", cfg.DatasetHandler.Reindex)
			admin.POST("/datasets/:id/_refinalize", cfg.DatasetHandler.Refinalize)
			admin.POST("/limits/:type/:id", cfg.DatasetHandler.SetLimit)
		}
	}

	return r
}
