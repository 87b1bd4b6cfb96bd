package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/http/response"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
	"github.com/yungbote/dataset-engine/internal/services"
)

var channelsByTopic = map[string]func(datasetID string) string{
	"transactions": realtime.TransactionsChannel,
	"journal":      realtime.JournalChannel,
	"progress":     realtime.ProgressChannel,
}

type RealtimeHandler struct {
	log      *logger.Logger
	hub      *realtime.Hub
	datasets services.DatasetService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub, datasets services.DatasetService) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub, datasets: datasets}
}

// GET /api/v1/datasets/:id/events?topics=transactions,journal
//
// Streams the dataset change events as server-sent events. Without topics every topic is
// subscribed.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	ds, err := h.datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	topics := queryList(c, "topics")
	if len(topics) == 0 {
		topics = []string{"transactions", "journal", "progress"}
	}
	client := h.hub.NewClient(ds.ID)
	for _, topic := range topics {
		channel, ok := channelsByTopic[topic]
		if !ok {
			h.hub.CloseClient(client)
			response.RespondServiceError(c, apierr.Validation("unknown topic %q", topic))
			return
		}
		h.hub.AddChannel(client, channel(ds.ID))
	}
	h.log.Debug("event stream open", "dataset_id", ds.ID, "client_id", client.ID.String())

	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.hub.CloseClient(client)
	if n := client.Dropped(); n > 0 {
		h.log.Warn("event stream closed with dropped messages", "dataset_id", ds.ID, "client_id", client.ID.String(), "dropped", n)
	}
}
